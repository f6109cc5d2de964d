package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate checks cfg against the struct validation tags and a few
// cross-field rules, returning one error naming every violation.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("configuration is nil")
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, ve := range verrs {
				msgs = append(msgs, describeValidationError(ve))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if cfg.Pipeline.StoreProcessed && !cfg.DiskCache.Enabled {
		return errors.New("pipeline.store_processed requires disk_cache.enabled")
	}
	if cfg.Pipeline.StoreOriginal && !cfg.DiskCache.Enabled {
		return errors.New("pipeline.store_original requires disk_cache.enabled")
	}

	return nil
}

func describeValidationError(ve validator.FieldError) string {
	field := strings.ToLower(ve.Namespace())
	switch ve.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_if":
		return fmt.Sprintf("%s is required (%s)", field, ve.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, ve.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, ve.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, ve.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, ve.Param())
	default:
		return fmt.Sprintf("%s failed %q validation", field, ve.Tag())
	}
}
