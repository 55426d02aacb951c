package archive

import (
	"errors"
	"fmt"

	"github.com/JonMunkholm/dbarchive/internal/model"
)

// Caller-usage errors. These are reported before any I/O takes place.
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNoTablesRegistered = errors.New("no tables registered")
)

// I/O errors. The underlying transport error is wrapped alongside.
var (
	ErrEncodingFailed = errors.New("archive encoding failed")
	ErrParseIO        = errors.New("archive read failed")
)

// Document errors. A parse that hits one of these returns no Database.
var (
	ErrUnexpectedTag     = errors.New("unexpected tag")
	ErrMalformedDocument = errors.New("malformed archive document")
	ErrInvalidColumnType = model.ErrInvalidColumnType
)

// UnexpectedTagError reports a structural tag other than the one required at
// the current position. End tags are written with a leading slash.
type UnexpectedTagError struct {
	Expected string
	Actual   string
}

func (e *UnexpectedTagError) Error() string {
	return fmt.Sprintf("unexpected tag: expected <%s>, got <%s>", e.Expected, e.Actual)
}

// Is makes errors.Is(err, ErrUnexpectedTag) match.
func (e *UnexpectedTagError) Is(target error) bool {
	return target == ErrUnexpectedTag
}

// wrapErr joins a sentinel with its cause so both match errors.Is.
func wrapErr(sentinel, cause error) error {
	return fmt.Errorf("%w: %w", sentinel, cause)
}
