package service

import (
	"errors"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,32}$`)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("username", func(fl validator.FieldLevel) bool {
			return usernamePattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

// checkStruct runs the struct's validate tags and reports the first failing
// field as INVALID_INPUT.
func checkStruct(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		f := verrs[0]
		return errInvalidInput(strings.ToLower(f.Field()), "%s failed %q", f.Field(), f.Tag())
	}
	return errInvalidInput("", "%v", err)
}

func validEmail(email string) bool {
	return validatorInstance().Var(email, "required,email,max=254") == nil
}

type registerInput struct {
	Username string `validate:"required,username"`
	Email    string `validate:"required,email,max=254"`
	Password string `validate:"required,min=8,max=72"`
}

type profileInput struct {
	DisplayName       *string `validate:"omitempty,max=64"`
	Bio               *string `validate:"omitempty,max=2000"`
	ProfilePictureURL *string `validate:"omitempty,url,max=512"`
}

type communityInput struct {
	Name        string   `validate:"required,min=1,max=100"`
	Description *string  `validate:"omitempty,max=2000"`
	Tags        []string `validate:"max=10,dive,required,max=32"`
}
