package services

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCredentialsMissing is returned when a business tries to submit a
// declaration without tax authority credentials configured
var ErrCredentialsMissing = errors.New("rs.ge credentials not configured. Please add them in Settings.")

// ParseError reports a statement file the parser could not read.
// The file is the user's to fix, so the reason is shown as is.
type ParseError struct {
	Reason  string
	Formats []string
}

func (e *ParseError) Error() string {
	if len(e.Formats) > 0 {
		return fmt.Sprintf("%s (tried %s)", e.Reason, strings.Join(e.Formats, ", "))
	}
	return e.Reason
}

// IsParseError reports whether err wraps a ParseError
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
