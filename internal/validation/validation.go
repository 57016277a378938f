// Package validation provides input validation helpers for the case API.
package validation

import (
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxTextLength is the maximum length for free-text fields.
const MaxTextLength = 10000

var (
	// e164Regex validates normalized phone identifiers (E.164).
	e164Regex = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)
	// phoneStripRegex removes common separators before normalization.
	phoneStripRegex = regexp.MustCompile(`[\s().-]`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidPhone checks if a string is a normalized E.164 phone identifier.
func IsValidPhone(phone string) bool {
	return e164Regex.MatchString(phone)
}

// NormalizePhone strips separators and applies a default +1 country code to
// bare 10-digit numbers. Returns the input unchanged when it cannot be
// normalized; callers should validate the result with IsValidPhone.
func NormalizePhone(phone string) string {
	p := phoneStripRegex.ReplaceAllString(strings.TrimSpace(phone), "")
	if p == "" {
		return p
	}
	if strings.HasPrefix(p, "+") {
		return p
	}
	if len(p) == 11 && strings.HasPrefix(p, "1") {
		return "+" + p
	}
	if len(p) == 10 {
		return "+1" + p
	}
	return p
}

// SanitizeText trims whitespace, strips null bytes, and limits length.
// Truncation lands on a rune boundary so the result stays valid UTF-8.
func SanitizeText(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	s = strings.ReplaceAll(s, "\x00", "")
	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidPhone checks if a field is a normalized phone identifier.
func ValidPhone(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidPhone(value) {
			return &ValidationError{Field: field, Message: "must be a normalized E.164 phone number (+...)"}
		}
		return nil
	}
}

// MaxLength checks that a field does not exceed maxLen bytes.
func MaxLength(field, value string, maxLen int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > maxLen {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}
