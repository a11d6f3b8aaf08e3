package auth

import (
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/planner/core"
)

// Sign-in methods
const (
	MethodEmailLink  = "email_link"
	MethodCredential = "credential"
)

// Principal is the signed-in identity. Only the authorized email can ever become one.
type Principal struct {
	Email      string    `json:"email"`
	Method     string    `json:"method"`
	SignedInAt time.Time `json:"signed_in_at"` // UTC
}

type SignInLinkData struct {
	Email     string
	Link      string
	ExpiresIn string
}

// NewCredential is the credential an operator sets for the authorized email (see HashCredential).
type NewCredential struct {
	Email      string `json:"email" validate:"omitempty,email"`
	Credential string `json:"credential" validate:"required"`
	Confirm    string `json:"credential_confirm" validate:"required,eqfield=Credential"`
}

func (nc *NewCredential) Validate(validate *validator.Validate) error {
	nc.Email = core.CleanString(nc.Email, true /* lower */)
	return validate.Struct(nc)
}

// HashCredential returns the bcrypt hash to configure as `authorizedCredential`.
func HashCredential(credential string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(credential), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func checkCredential(hash, credential string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(credential))
}
