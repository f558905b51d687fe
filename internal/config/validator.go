package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers core-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("relational_dsn", validateRelationalDSN); err != nil {
		return fmt.Errorf("failed to register relational_dsn validator: %w", err)
	}
	return nil
}

// validateRelationalDSN accepts empty (optional in dev mode handled by
// SetDevDefaults) or a postgres:// / postgresql:// URI.
func validateRelationalDSN(fl validator.FieldLevel) bool {
	dsn := fl.Field().String()
	if dsn == "" {
		return true
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return false
	}
	return u.Scheme == "postgres" || u.Scheme == "postgresql"
}

// Validate validates the Config using struct tags and cross-field rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateIdentitySecret(); err != nil {
		return err
	}
	if err := c.validateRelationalDSN(); err != nil {
		return err
	}

	return nil
}

// validateIdentitySecret requires a signing secret outside dev mode: a
// core that cannot validate bearer tokens has no auth, not a degraded one.
func (c *Config) validateIdentitySecret() error {
	if c.DevMode {
		return nil
	}
	if c.Identity.Secret == "" {
		return errors.New("identity.secret is required outside dev_mode")
	}
	return nil
}

// validateRelationalDSN requires a relational store DSN outside dev mode.
func (c *Config) validateRelationalDSN() error {
	if c.DevMode {
		return nil
	}
	if c.Relational.DSN == "" {
		return errors.New("relational.dsn is required outside dev_mode")
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "relational_dsn":
		return fmt.Sprintf("%s must be a postgres:// or postgresql:// URI", field)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, e.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
