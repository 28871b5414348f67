package attach

import (
	"io"

	"github.com/opencontainers/go-digest"
)

// VerifyingReader wraps a content stream, incrementally digests all bytes
// read, and verifies the digest against an expected value once the declared
// byte count has been consumed.
//
// Verification triggers on whichever comes first: a read that observes
// end-of-stream, or Close. The verdict is computed once and cached, so
// repeated end-of-stream reads do not re-digest.
//
// If the stream is closed before the declared byte count has been read, no
// check occurs. Partial reads are assumed intentional (for example seeking
// within a container format); this is a deliberately weaker guarantee.
//
// A source that runs dry is not a partial read: end-of-stream before the
// declared byte count fails with io.ErrUnexpectedEOF.
type VerifyingReader struct {
	r        io.ReadCloser
	expected digest.Digest
	size     int64

	digester digest.Digester
	read     int64
	verified bool
	verdict  error
}

var _ io.ReadCloser = (*VerifyingReader)(nil)

// NewVerifyingReader wraps r with digest verification. The expected digest
// must be valid; size is the declared content length in bytes.
func NewVerifyingReader(r io.ReadCloser, expected digest.Digest, size int64) *VerifyingReader {
	return &VerifyingReader{
		r:        r,
		expected: expected,
		size:     size,
		digester: expected.Algorithm().Digester(),
	}
}

// Read implements io.Reader with incremental digest computation.
//
// The read that observes end-of-stream returns an *IntegrityError instead
// of io.EOF when the computed digest disagrees with the expected one.
func (vr *VerifyingReader) Read(p []byte) (int, error) {
	if vr.verified && vr.verdict != nil {
		return 0, vr.verdict
	}

	n, err := vr.r.Read(p)
	if n > 0 {
		_, _ = vr.digester.Hash().Write(p[:n]) //nolint:errcheck // hash writes never fail
		vr.read += int64(n)
	}

	if err == io.EOF {
		if vr.read < vr.size {
			// The source ran dry before the declared byte count. That is
			// truncation, not caller abandonment.
			vr.verified = true
			vr.verdict = io.ErrUnexpectedEOF
			return n, vr.verdict
		}
		if verr := vr.verify(); verr != nil {
			return n, verr
		}
	}
	return n, err
}

// Close closes the underlying stream. If the declared byte count was fully
// consumed, Close verifies the digest and returns the verdict; an
// abandonment before that point goes unchecked.
func (vr *VerifyingReader) Close() error {
	err := vr.r.Close()
	if vr.read >= vr.size || vr.verified {
		if verr := vr.verify(); verr != nil {
			return verr
		}
	}
	return err
}

func (vr *VerifyingReader) verify() error {
	if vr.verified {
		return vr.verdict
	}
	vr.verified = true
	if computed := vr.digester.Digest(); computed != vr.expected {
		vr.verdict = &IntegrityError{Expected: vr.expected, Computed: computed}
	}
	return vr.verdict
}
