package util

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/oszuidwest/zwfm-audiodesk/internal/types"
)

// MaxIdentifierLength bounds identifiers used to build file and log names.
const MaxIdentifierLength = 64

// Identifier patterns. Anything outside these charsets is rejected before
// the value reaches a path.
var (
	dateFolderPattern = regexp.MustCompile(`^[0-9-]+$`)
	stampPattern      = regexp.MustCompile(`^[0-9_]+$`)
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Use JSON tag names in error messages instead of struct field names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	mustRegister("date_folder", func(fl validator.FieldLevel) bool {
		return IsDateFolder(fl.Field().String())
	})
	mustRegister("stamp", func(fl validator.FieldLevel) bool {
		return IsStamp(fl.Field().String())
	})
}

func mustRegister(tag string, fn validator.Func) {
	if err := validate.RegisterValidation(tag, fn); err != nil {
		panic(err)
	}
}

// Validator returns the shared validator with the date_folder and stamp tags registered.
func Validator() *validator.Validate {
	return validate
}

// IsDateFolder reports whether s is a non-empty [0-9-] identifier.
func IsDateFolder(s string) bool {
	return len(s) <= MaxIdentifierLength && dateFolderPattern.MatchString(s)
}

// IsStamp reports whether s is a non-empty [0-9_] identifier (session ids and log stamps).
func IsStamp(s string) bool {
	return len(s) <= MaxIdentifierLength && stampPattern.MatchString(s)
}

// ValidateDateFolder checks a date folder identifier.
func ValidateDateFolder(op, value string) error {
	if value == "" {
		return types.Validation(op, "date_folder", "is required")
	}
	if !IsDateFolder(value) {
		return types.Validation(op, "date_folder", "may only contain digits and '-'")
	}
	return nil
}

// ValidateStamp checks a session id or log stamp identifier.
func ValidateStamp(op, field, value string) error {
	if value == "" {
		return types.Validation(op, field, "is required")
	}
	if !IsStamp(value) {
		return types.Validation(op, field, "may only contain digits and '_'")
	}
	return nil
}

// IsConfigured reports whether all provided values are non-empty.
func IsConfigured(values ...string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return false
		}
	}
	return true
}
