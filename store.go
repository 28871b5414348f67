package attach

import (
	"context"
	"time"

	"github.com/opencontainers/go-digest"
)

// Record is the durable form of an attachment. A record is created exactly
// once at the first successful import of its hash and is immutable
// afterwards, except for Uploader, which may be rewritten through the
// trusted-update path.
type Record struct {
	// Hash is the SHA-256 digest of Content and the record's primary key.
	Hash digest.Digest

	// Content is the raw archive bytes.
	Content []byte

	// InsertedAt is set once at creation.
	InsertedAt time.Time

	// Uploader records who submitted the attachment; empty when unknown.
	Uploader string

	// Filename is the submitted file name; empty when not recorded.
	Filename string

	// ContractClasses is the ordered list of declared contract class
	// names; empty means the archive is not a contract archive.
	ContractClasses []string

	// Signers are the archive's signer public keys.
	Signers []string

	// Version is the declared contract version.
	Version int
}

// RecordStore persists attachment records keyed by content hash. It must
// enforce key uniqueness and provide at least read-committed isolation
// within a transaction.
type RecordStore interface {
	// InTx runs fn within a single transaction. The transaction commits
	// when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx exposes record operations within one transaction boundary. The
// existence check and any subsequent write observe a consistent snapshot.
type Tx interface {
	// Get returns the record for hash, or nil when absent.
	Get(ctx context.Context, hash digest.Digest) (*Record, error)

	// Insert persists a new record. It returns ErrRecordExists when a
	// record with the same hash is already present.
	Insert(ctx context.Context, rec *Record) error

	// UpdateUploader rewrites the uploader of an existing record.
	UpdateUploader(ctx context.Context, hash digest.Digest, uploader string) error

	// Count returns the total number of stored records.
	Count(ctx context.Context) (int64, error)

	// FindByCriteria returns the hashes of records matching c.
	FindByCriteria(ctx context.Context, c Criteria) ([]digest.Digest, error)
}

// SortField names a sortable record column.
type SortField string

// Sortable fields for FindByCriteria.
const (
	SortByInsertedAt SortField = "inserted_at"
	SortByFilename   SortField = "filename"
	SortByVersion    SortField = "version"
)

// SortDirection orders query results.
type SortDirection string

// Sort directions for FindByCriteria.
const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// Criteria selects attachments in FindByCriteria. Zero-valued fields are
// ignored; set fields combine with AND.
type Criteria struct {
	// Uploaders matches records whose uploader is any of the given values.
	Uploaders []string

	// Filenames matches records whose filename is any of the given values.
	Filenames []string

	// ContractClass matches records declaring the given contract class.
	ContractClass string

	// MinVersion matches records with at least the given contract version.
	MinVersion int

	// SortBy orders results; defaults to insertion time.
	SortBy SortField

	// SortDir defaults to ascending.
	SortDir SortDirection
}
