package config

import (
	"fmt"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/marmos91/gopherd/internal/charset"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if !filepath.IsAbs(cfg.Server.Root) {
		return fmt.Errorf("server.root: %q must be an absolute path", cfg.Server.Root)
	}

	if _, err := charset.Normalize(cfg.Server.Charset); err != nil {
		return fmt.Errorf("server.charset: %w", err)
	}

	if _, err := buildFiletypes(cfg.Server.Filetypes); err != nil {
		return err
	}

	if cfg.Server.Metrics.Enabled && cfg.Server.Metrics.Port == cfg.Adapters.Gopher.Port {
		return fmt.Errorf("server.metrics.port: %d is already used by the gopher adapter", cfg.Server.Metrics.Port)
	}

	if cfg.Session.HostAware && cfg.Server.Features.Features().VHost {
		return fmt.Errorf("session.host_aware: cannot be combined with server.features.vhost; the sticky virtual host is keyed by client only")
	}

	if cfg.Session.Store.Type == "badger" {
		if path, _ := cfg.Session.Store.Badger["db_path"].(string); path == "" {
			return fmt.Errorf("session.store.badger.db_path: required when store type is badger")
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
