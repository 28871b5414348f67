package attach

import (
	"errors"
	"fmt"

	"github.com/opencontainers/go-digest"
)

// Sentinel errors for attachment operations.
var (
	// ErrNotFound is returned when content is requested for a hash that has
	// no stored record.
	ErrNotFound = errors.New("attach: attachment not found")

	// ErrRecordExists is returned by Tx.Insert when a record with the same
	// content hash already exists. The import protocol treats it as the
	// "already exists" branch so a concurrent writer cannot cause a double
	// insert.
	ErrRecordExists = errors.New("attach: record already exists")

	// ErrReservedUploader is returned when an import claims a reserved
	// uploader tag through the unprivileged entry point.
	ErrReservedUploader = errors.New("attach: uploader tag is reserved")
)

// DuplicateError is returned by Import when the content is already stored.
// It carries the content hash so callers can switch to a "get" path;
// ImportOrGet does exactly that.
type DuplicateError struct {
	Hash digest.Digest
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("attach: content already stored: %s", e.Hash)
}

// IntegrityError is returned when a retrieved stream's computed digest
// disagrees with its identifier after full consumption. It indicates store
// corruption or tampering and is not retried.
type IntegrityError struct {
	Expected digest.Digest
	Computed digest.Digest
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("attach: content hash mismatch: expected %s, computed %s", e.Expected, e.Computed)
}

// ValidationError describes why an archive failed validation. Nothing is
// persisted when validation fails; the caller may retry with corrected
// input.
type ValidationError struct {
	// Path is the offending entry path, empty when the failure concerns the
	// archive as a whole.
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("attach: invalid archive: %s", e.Reason)
	}
	return fmt.Sprintf("attach: invalid archive entry %q: %s", e.Path, e.Reason)
}
