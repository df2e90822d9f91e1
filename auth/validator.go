package auth

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// LoginRequest is an operator login attempt on the admin API.
type LoginRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Password string `json:"password" validate:"required,min=12,max=72"`
}

func ValidateLogin(req LoginRequest) error {
	return validate.Struct(req)
}
