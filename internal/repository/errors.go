// Package repository defines error types that are reused across
// multiple repositories. These sentinel values allow higher layers such
// as services and handlers to distinguish between different failure
// scenarios. For example, ErrDuplicateSerial indicates the unique key
// on credits.serial_number rejected an insert, while ErrNotFound
// signals that a looked-up credit or listing does not exist.
package repository

import (
	"errors"
	"strings"
)

// ErrNotFound is returned when a credit or listing lookup matches no
// row. Handlers should translate this into an HTTP 404 response.
var ErrNotFound = errors.New("not found")

// ErrDuplicateSerial is returned when inserting a credit whose serial
// number already exists. The unique index makes this decision, so the
// check also holds under concurrent uploads of the same certificate.
// Handlers should translate this into an HTTP 409 response.
var ErrDuplicateSerial = errors.New("duplicate serial number")

// duplicateKey reports whether err is MySQL's duplicate-entry error
// (code 1062), raised when a UNIQUE index rejects an insert.
func duplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "1062")
}
