package store

import "errors"

var (
	// ErrNotFound indicates a missing record.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a uniqueness violation.
	ErrConflict = errors.New("record already exists")
	// ErrAlreadyBound is returned when a connection already has a spreadsheet.
	ErrAlreadyBound = errors.New("connection already has a spreadsheet")
	// ErrBindingInProgress is returned when another request holds the bind claim.
	ErrBindingInProgress = errors.New("spreadsheet creation already in progress")
)
