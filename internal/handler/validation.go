package handler

import (
	"regexp"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var patientRefPattern = regexp.MustCompile(`^PAT-\d{8}-\d{4}$`)

// RegisterValidations installs custom binding rules on gin's validator.
func RegisterValidations() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("patientref", func(fl validator.FieldLevel) bool {
			return patientRefPattern.MatchString(fl.Field().String())
		})
	}
}
