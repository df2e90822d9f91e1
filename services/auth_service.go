package services

import (
	"crypto/subtle"
	"fmt"

	"negotiation-hub/auth"
	"negotiation-hub/errors"
)

type IAuthService interface {
	Login(name, password string) (Token, error)
}

// AuthService authenticates the single operator account of the admin API.
// Participants never log in here; their tokens come from the identity service.
type AuthService struct {
	operatorName string
	passwordHash string
	signer       *auth.Signer
}

type Token string

func (t Token) String() string {
	return string(t)
}

func NewAuthService(operatorName, passwordHash string, signer *auth.Signer) *AuthService {
	return &AuthService{operatorName: operatorName, passwordHash: passwordHash, signer: signer}
}

func (s *AuthService) Login(name, password string) (Token, error) {
	if err := auth.ValidateLogin(auth.LoginRequest{Name: name, Password: password}); err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrValidation, err)
	}
	// No hash configured disables operator login altogether.
	if s.passwordHash == "" {
		return "", errors.ErrInvalidCredentials
	}

	// Compare the password even for an unknown name so both paths cost one argon2 run.
	match, err := auth.ComparePassword(password, s.passwordHash)
	sameName := subtle.ConstantTimeCompare([]byte(name), []byte(s.operatorName)) == 1
	if err != nil || !match || !sameName {
		return "", errors.ErrInvalidCredentials
	}

	token, err := s.signer.GenerateToken(s.operatorName, auth.RoleOperator, s.operatorName)
	if err != nil {
		return "", errors.ErrTokenGeneration
	}
	return Token(token), nil
}
