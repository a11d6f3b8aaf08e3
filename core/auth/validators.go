package auth

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/trezcool/planner/core"
)

var (
	// credential policy
	credMinLen     = 10
	credMinLenTag  = "credminlen"
	credMinLenText = fmt.Sprintf("credential must contain at least %d characters", credMinLen)

	credNoSpaceTag  = "crednospace"
	credNoSpaceText = "credential must not contain whitespace"

	credNotAllNumTag  = "crednotallnum"
	credNotAllNumText = "credential cannot be entirely numeric"

	credComplexityTag  = "credcplx"
	credComplexityText = "credential must contain at least 1 uppercase character, 1 lowercase character, 1 digit and 1 special character"
	specialRegex       = regexp.MustCompile("[^A-Za-z0-9]")

	credMaxSim      = .7
	credAttrSimTag  = "credtoosim"
	credAttrSimText = "credential cannot be similar to the email address"
)

// InitValidators registers the credential policy on validate.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	validate.RegisterStructValidation(credentialStructValidation, NewCredential{})
	core.RegisterCustomTranslation(validate, translator, credMinLenTag, credMinLenText)
	core.RegisterCustomTranslation(validate, translator, credNoSpaceTag, credNoSpaceText)
	core.RegisterCustomTranslation(validate, translator, credNotAllNumTag, credNotAllNumText)
	core.RegisterCustomTranslation(validate, translator, credComplexityTag, credComplexityText)
	core.RegisterCustomTranslation(validate, translator, credAttrSimTag, credAttrSimText)
}

func credentialStructValidation(sl validator.StructLevel) {
	if nc, ok := sl.Current().Interface().(NewCredential); ok && nc.Credential != "" {
		validateCredential(nc.Credential, nc.Email, sl)
	}
}

// validateCredential applies the credential policy:
// - minLen: 10
// - no whitespace
// - not all numeric
// - complexity: 1 upper, 1 lower, 1 digit, 1 special
// - not similar to the email address
func validateCredential(cred, email string, sl validator.StructLevel) {
	reportErr := func(tag string) {
		sl.ReportError(cred, "credential", "Credential", tag, "")
	}

	var (
		digitCount                             int
		hasUpper, hasLower, hasDig, hasSpecial bool
	)

	runes := []rune(cred)
	if len(runes) < credMinLen {
		reportErr(credMinLenTag)
		return
	}
	for _, char := range runes {
		if unicode.IsSpace(char) {
			reportErr(credNoSpaceTag)
			return
		}
		if unicode.IsDigit(char) {
			digitCount++
		}
		if !hasUpper && unicode.IsUpper(char) {
			hasUpper = true
		}
		if !hasLower && unicode.IsLower(char) {
			hasLower = true
		}
	}

	if digitCount == len(runes) {
		reportErr(credNotAllNumTag)
		return
	}

	hasDig = digitCount > 0
	hasSpecial = specialRegex.MatchString(cred)
	if !(hasUpper && hasLower && hasDig && hasSpecial) {
		reportErr(credComplexityTag)
		return
	}

	if email != "" {
		local := strings.SplitN(email, "@", 2)[0]
		lcred := strings.ToLower(cred)
		if similarity(lcred, email) >= credMaxSim || similarity(lcred, local) >= credMaxSim {
			reportErr(credAttrSimTag)
		}
	}
}

func similarity(a, b string) float64 {
	if b == "" {
		return 0
	}
	return difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, "")).QuickRatio()
}
