// Command robinctl drives the session layer from the terminal: log an
// account in, inspect its session state, or log it out.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/IamMikeHelsel/robin-stocks/internal/app"
	"github.com/IamMikeHelsel/robin-stocks/internal/autherr"
	"github.com/IamMikeHelsel/robin-stocks/internal/models"
	"github.com/IamMikeHelsel/robin-stocks/internal/session"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config file")
		provider   = flag.String("provider", "", "provider: robinhood, gemini, tdameritrade")
		account    = flag.String("account", "", "account identifier")
		mfaCode    = flag.String("mfa", "", "one-time code for a pending MFA prompt")
		challenge  = flag.String("challenge", "", "challenge id from a previous attempt")
		response   = flag.String("response", "", "challenge response code")
	)
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: robinctl [flags] login|status|logout|seed")
		os.Exit(2)
	}

	a, err := app.NewApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "robinctl: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	prov := models.Provider(*provider)
	if !prov.Valid() {
		fmt.Fprintf(os.Stderr, "robinctl: unknown provider %q\n", *provider)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch flag.Arg(0) {
	case "login":
		cred := credentialFromEnv(prov, *account)
		opts := session.Options{
			MFACode:           *mfaCode,
			ChallengeID:       *challenge,
			ChallengeResponse: *response,
		}
		actx, err := a.Sessions.Authenticate(ctx, cred, opts)
		if err != nil {
			if ch := autherr.ChallengeOf(err); ch != nil && ch.ID != "" {
				fmt.Fprintf(os.Stderr, "verification required: rerun with -challenge %s -response <code>\n", ch.ID)
				os.Exit(3)
			}
			fmt.Fprintf(os.Stderr, "robinctl: login failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("authenticated %s/%s (%s), session valid until %s\n",
			actx.Provider(), actx.AccountID(), actx.Environment(), actx.ExpiresAt().Format(time.RFC3339))

	case "status":
		state := a.Sessions.GetState(ctx, prov, *account)
		fmt.Printf("%s/%s: %s\n", prov, *account, state)

	case "seed":
		// One-time install of OAuth material obtained out of band. The
		// credential is vaulted first so the record is sealed under the
		// account passcode.
		a.Vault.Put(credentialFromEnv(prov, *account))
		refresh := os.Getenv("ROBIN_REFRESH_TOKEN")
		consumer := os.Getenv("ROBIN_CONSUMER_KEY")
		if err := a.Sessions.SeedRefreshToken(ctx, prov, *account, refresh, consumer); err != nil {
			fmt.Fprintf(os.Stderr, "robinctl: seed failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s/%s: refresh token seeded\n", prov, *account)

	case "logout":
		if err := a.Sessions.Invalidate(ctx, prov, *account); err != nil {
			fmt.Fprintf(os.Stderr, "robinctl: logout failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s/%s: logged out\n", prov, *account)

	default:
		fmt.Fprintf(os.Stderr, "robinctl: unknown command %q\n", flag.Arg(0))
		os.Exit(2)
	}
}

// credentialFromEnv assembles the secret material from environment variables
// so secrets never land in shell history.
func credentialFromEnv(provider models.Provider, accountID string) models.Credential {
	return models.Credential{
		Provider:  provider,
		AccountID: accountID,
		Username:  os.Getenv("ROBIN_USERNAME"),
		Password:  os.Getenv("ROBIN_PASSWORD"),
		APIKey:    os.Getenv("ROBIN_API_KEY"),
		APISecret: os.Getenv("ROBIN_API_SECRET"),
		Passcode:  os.Getenv("ROBIN_PASSCODE"),
	}
}
