// pkg/validator/validator.go
package validator

import (
	"net/url"
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate *validator.Validate
	once     sync.Once

	eventNamePattern = regexp.MustCompile(`^[a-z]+(\.[a-z_]+)+$`)
)

// GetValidator returns a singleton validator instance with all custom rules registered
func GetValidator() *validator.Validate {
	once.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("webhook_url", validateWebhookURL)
		_ = v.RegisterValidation("event_name", validateEventName)

		validate = v
	})
	return validate
}

// validateWebhookURL accepts absolute http(s) URLs with a host
func validateWebhookURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// validateEventName accepts dotted lowercase names such as claim.status_changed
func validateEventName(fl validator.FieldLevel) bool {
	return eventNamePattern.MatchString(fl.Field().String())
}
