// ABOUTME: Upload allow-list checks for flat files
// ABOUTME: Matches lower-cased filenames against configured extensions

package upload

import (
	"errors"
	"strings"
)

var (
	// ErrNoFile is returned when the request has no file part.
	ErrNoFile = errors.New("no file")
	// ErrInvalidType is returned when the filename fails the extension check.
	ErrInvalidType = errors.New("invalid file type")
)

// DefaultExtensions is the allow-list used by AllowedFile.
var DefaultExtensions = []string{".csv", ".xlsx"}

// Validator checks filenames against an allow-list of extensions.
type Validator struct {
	extensions []string
}

// NewValidator creates a Validator. Extensions are compared case-insensitively
// and should include the leading dot. An empty list falls back to DefaultExtensions.
func NewValidator(extensions []string) *Validator {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	exts := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		if ext = strings.ToLower(strings.TrimSpace(ext)); ext != "" {
			exts = append(exts, ext)
		}
	}
	return &Validator{extensions: exts}
}

// Allowed reports whether the lower-cased filename ends with an accepted extension.
func (v *Validator) Allowed(filename string) bool {
	lower := strings.ToLower(filename)
	for _, ext := range v.extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// Check returns ErrNoFile for an empty filename and ErrInvalidType when the
// extension is not on the allow-list.
func (v *Validator) Check(filename string) error {
	if filename == "" {
		return ErrNoFile
	}
	if !v.Allowed(filename) {
		return ErrInvalidType
	}
	return nil
}

// Extensions returns a copy of the allow-list.
func (v *Validator) Extensions() []string {
	return append([]string(nil), v.extensions...)
}

var defaultValidator = NewValidator(DefaultExtensions)

// AllowedFile reports whether filename ends with .csv or .xlsx, ignoring case.
func AllowedFile(filename string) bool {
	return defaultValidator.Allowed(filename)
}
