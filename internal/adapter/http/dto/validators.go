package dto

import (
	"regexp"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// eventTypeRe matches dotted event names like "order.created". The
// wildcard is a subscription concept, never a publishable type.
var eventTypeRe = regexp.MustCompile(`^[a-z0-9_]+(\.[a-z0-9_]+)+$`)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("event_type", validateEventType)
	}
}

func validateEventType(fl validator.FieldLevel) bool {
	return eventTypeRe.MatchString(fl.Field().String())
}
