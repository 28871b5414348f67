package attach

import (
	"context"
	"io"
	"slices"

	"github.com/opencontainers/go-digest"
)

// Loader supplies attachment content for a given hash. It is an indirection
// layer, not an owner of the bytes: handles crossing a process boundary
// carry only their identity and are reconstructed against the hosting
// context's loader.
type Loader interface {
	Load(ctx context.Context, hash digest.Digest) (io.ReadCloser, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, hash digest.Digest) (io.ReadCloser, error)

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context, hash digest.Digest) (io.ReadCloser, error) {
	return f(ctx, hash)
}

// Attachment is a logical handle over a stored archive. It has exactly two
// variants: *PlainAttachment and *ContractAttachment. Consumers that need
// contract metadata switch on the concrete type.
type Attachment interface {
	// Hash is the content hash, the attachment's global identity.
	Hash() digest.Digest

	// Size is the content length in bytes.
	Size() int64

	// Open returns the content stream. When hash checking is enabled and
	// the identity is a SHA-256 digest, the stream verifies integrity as
	// described on VerifyingReader.
	Open(ctx context.Context) (io.ReadCloser, error)

	// sealed restricts implementations to this package so that type
	// switches over the two variants stay exhaustive.
	sealed()
}

// PlainAttachment is an attachment without contract metadata.
type PlainAttachment struct {
	hash   digest.Digest
	size   int64
	loader Loader
	verify bool
}

var _ Attachment = (*PlainAttachment)(nil)

// Hash returns the content hash.
func (a *PlainAttachment) Hash() digest.Digest { return a.hash }

// Size returns the content length in bytes.
func (a *PlainAttachment) Size() int64 { return a.size }

// Open returns the content stream, lazily loaded from the hosting context.
func (a *PlainAttachment) Open(ctx context.Context) (io.ReadCloser, error) {
	rc, err := a.loader.Load(ctx, a.hash)
	if err != nil {
		return nil, err
	}
	if a.verify && a.hash.Algorithm() == digest.SHA256 {
		return NewVerifyingReader(rc, a.hash, a.size), nil
	}
	return rc, nil
}

func (a *PlainAttachment) sealed() {}

// ContractAttachment is an attachment whose archive declares contract
// classes. It additionally exposes the primary contract, any remaining
// contracts, the uploader, the signer keys, and the contract version.
type ContractAttachment struct {
	PlainAttachment

	primary    string
	additional []string
	uploader   string
	signers    []string
	version    int
}

var _ Attachment = (*ContractAttachment)(nil)

// PrimaryContract returns the first declared contract class name.
func (a *ContractAttachment) PrimaryContract() string { return a.primary }

// AdditionalContracts returns the remaining declared contract class names,
// in declaration order.
func (a *ContractAttachment) AdditionalContracts() []string {
	return slices.Clone(a.additional)
}

// Uploader returns the recorded uploader identity, empty when unknown.
func (a *ContractAttachment) Uploader() string { return a.uploader }

// Signers returns the archive's signer public keys.
func (a *ContractAttachment) Signers() []string { return slices.Clone(a.signers) }

// Version returns the declared contract version.
func (a *ContractAttachment) Version() int { return a.version }

// newAttachment builds the handle for a record: the contract variant when
// the record declares contract classes, the plain variant otherwise.
func newAttachment(rec *Record, loader Loader, verify bool) Attachment {
	plain := PlainAttachment{
		hash:   rec.Hash,
		size:   int64(len(rec.Content)),
		loader: loader,
		verify: verify,
	}
	if len(rec.ContractClasses) == 0 {
		return &plain
	}
	return &ContractAttachment{
		PlainAttachment: plain,
		primary:         rec.ContractClasses[0],
		additional:      slices.Clone(rec.ContractClasses[1:]),
		uploader:        rec.Uploader,
		signers:         slices.Clone(rec.Signers),
		version:         rec.Version,
	}
}
