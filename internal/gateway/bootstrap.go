package gateway

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/nulzo/chat-relay/internal/cli"
	"github.com/nulzo/chat-relay/internal/config"
	"go.uber.org/zap"
)

// BuildProfiles turns provider configuration into profiles, in config order.
// Disabled or incomplete providers are skipped with a warning.
func BuildProfiles(providers []config.ProviderConfig, log *zap.Logger) []*Profile {
	validate := validator.New()
	profiles := make([]*Profile, 0, len(providers))

	for _, pCfg := range providers {
		if !pCfg.IsEnabled() {
			continue
		}

		// Validate provider configuration individually
		if err := validate.Struct(&pCfg); err != nil {
			log.Warn(fmt.Sprintf("%s %s %s",
				cli.WarningSign(),
				cli.Stylize(fmt.Sprintf("%s\t", pCfg.ID), cli.Black),
				cli.Stylize("Skipping provider with incomplete configuration", cli.Yellow),
			), zap.Error(err))
			continue
		}

		profile, err := NewProfile(pCfg.ID, pCfg.Name, pCfg.Prefix, pCfg.BaseURL, pCfg.APIKey, pCfg.Rewrite, pCfg.MinMaxTokens)
		if err != nil {
			log.Error("Failed to initialize provider",
				zap.String("id", pCfg.ID),
				zap.Error(err),
			)
			continue
		}

		log.Info(fmt.Sprintf("%s %s %s",
			cli.CheckMark(),
			cli.Stylize(fmt.Sprintf("%s\t", profile.ID), cli.Black),
			describe(profile),
		))
		profiles = append(profiles, profile)
	}

	if len(profiles) == 0 {
		log.Warn("No providers were registered. API will not function correctly.")
	}

	return profiles
}

func describe(p *Profile) string {
	if p.IsDefault() {
		return "default route"
	}
	return fmt.Sprintf("models prefixed %s", p.Prefix)
}
