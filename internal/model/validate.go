package model

import (
	"errors"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/ecohacks/internal/apperror"
)

// Field rules. Messages below quote these numbers, so keep them in sync.
const (
	MinUsernameLength    = 5
	MinPasswordLength    = 7
	MaxPasswordBytes     = 72 // bcrypt ignores everything past 72 bytes
	MinTitleWords        = 4
	MinDescriptionLength = 500
	MinSteps             = 3
	MinStepWords         = 5
)

// VALIDATION WITH STRUCT TAGS:
// The rules live on small unexported structs and are checked by
// go-playground/validator. Two rules are not built in, so they are
// registered as custom tags:
//   - minwords=N        at least N whitespace-separated words
//   - strongpassword    one upper, one lower, one digit and one symbol
//   - maxbytes=N        at most N bytes (max counts runes, bcrypt counts bytes)
//   - weburl            http, https or ftp with a host; "url" alone lets
//     javascript: and mailto: through
//
// Each failing (field, tag) pair maps to exactly one client message.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("minwords", minWords); err != nil {
		panic(err)
	}
	if err := v.RegisterValidation("strongpassword", strongPassword); err != nil {
		panic(err)
	}
	if err := v.RegisterValidation("maxbytes", maxBytes); err != nil {
		panic(err)
	}
	if err := v.RegisterValidation("weburl", webURL); err != nil {
		panic(err)
	}
	return v
}

type userRules struct {
	Username string `validate:"required,min=5"`
	Email    string `validate:"required,email"`
}

type passwordRules struct {
	Password string `validate:"min=7,maxbytes=72,strongpassword"`
}

type hackRules struct {
	Title        string   `validate:"required,minwords=4"`
	Image        string   `validate:"required,url,weburl"`
	Description  string   `validate:"required,min=500"`
	Steps        []string `validate:"min=3,dive,minwords=5"`
	TutorialLink string   `validate:"omitempty,url,weburl"`
	UserID       string   `validate:"required"`
}

const stepsMessage = "There must be at least 3 steps, each with at least 5 words"

var messages = map[string]string{
	"Username.required":       "Username is required",
	"Username.min":            "Username must be at least 5 characters",
	"Email.required":          "Email is required",
	"Email.email":             "Invalid email format",
	"Password.min":            "Password must be at least 7 characters long and include 1 uppercase letter, 1 symbol, and 1 number",
	"Password.strongpassword": "Password must be at least 7 characters long and include 1 uppercase letter, 1 symbol, and 1 number",
	"Password.maxbytes":       "Password must be 72 bytes or fewer",
	"Title.required":          "Title is required",
	"Title.minwords":          "Title must be at least 4 words",
	"Image.required":          "Image URL is required",
	"Image.url":               "Invalid image URL",
	"Image.weburl":            "Invalid image URL",
	"Description.required":    "Description is required",
	"Description.min":         "Description must be at least 500 characters",
	"Steps.min":               stepsMessage,
	"Steps.minwords":          stepsMessage,
	"TutorialLink.url":        "Tutorial link must be a valid URL",
	"TutorialLink.weburl":     "Tutorial link must be a valid URL",
	"UserID.required":         "Hack owner is required",
}

// ValidateUser checks an account before it is written.
//
// plainPassword is the new password in clear text, or "" when the password
// is not being set by this write. The stored hash in u.Password is never
// validated; only clear text can be checked for strength.
func ValidateUser(u *User, plainPassword string) error {
	var msgs []string
	msgs = append(msgs, check(userRules{Username: u.Username, Email: u.Email})...)

	switch {
	case plainPassword != "":
		msgs = append(msgs, check(passwordRules{Password: plainPassword})...)
	case u.Password == "" && !u.IsGoogleAccount():
		msgs = append(msgs, "Password is required")
	}

	if len(msgs) > 0 {
		return apperror.Validation(msgs...)
	}
	return nil
}

// ValidateHack checks a hack before it is written.
func ValidateHack(h *Hack) error {
	msgs := check(hackRules{
		Title:        h.Title,
		Image:        h.Image,
		Description:  h.Description,
		Steps:        h.Steps,
		TutorialLink: h.TutorialLink,
		UserID:       h.UserID,
	})
	if len(msgs) > 0 {
		return apperror.Validation(msgs...)
	}
	return nil
}

// arrayIndex strips the "[2]" that validator appends to dive fields.
var arrayIndex = regexp.MustCompile(`\[\d+\]$`)

// check runs the validator on rules and returns one message per failing
// field, without duplicates, in field order.
func check(rules any) []string {
	err := validate.Struct(rules)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}

	var msgs []string
	seen := make(map[string]bool)
	for _, fe := range verrs {
		field := arrayIndex.ReplaceAllString(fe.Field(), "")
		msg, ok := messages[field+"."+fe.Tag()]
		if !ok {
			msg = field + " is invalid"
		}
		if !seen[msg] {
			seen[msg] = true
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

// WordCount counts whitespace-separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

func minWords(fl validator.FieldLevel) bool {
	n, err := strconv.Atoi(fl.Param())
	if err != nil {
		return false
	}
	return WordCount(fl.Field().String()) >= n
}

func maxBytes(fl validator.FieldLevel) bool {
	n, err := strconv.Atoi(fl.Param())
	if err != nil {
		return false
	}
	return len(fl.Field().String()) <= n
}

var webSchemes = map[string]bool{"http": true, "https": true, "ftp": true}

func webURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil || u.Host == "" {
		return false
	}
	return webSchemes[strings.ToLower(u.Scheme)]
}

func strongPassword(fl validator.FieldLevel) bool {
	return IsStrongPassword(fl.Field().String())
}

// IsStrongPassword reports whether p has at least MinPasswordLength
// characters including an upper-case letter, a lower-case letter, a digit
// and a symbol (anything that is not a letter or digit).
func IsStrongPassword(p string) bool {
	if len([]rune(p)) < MinPasswordLength {
		return false
	}

	var upper, lower, digit, symbol bool
	for _, r := range p {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsLetter(r):
			symbol = true
		}
	}
	return upper && lower && digit && symbol
}
