package app

import (
	"github.com/IamMikeHelsel/robin-stocks/internal/common"
	"github.com/IamMikeHelsel/robin-stocks/internal/models"
)

// EnvironmentFromConfig maps the config environment flag onto the session
// layer's environment type.
func EnvironmentFromConfig(config *common.Config) models.Environment {
	if config.IsSandbox() {
		return models.EnvSandbox
	}
	return models.EnvLive
}
