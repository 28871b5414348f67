package attach

import (
	"bytes"
	"io"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVerifyingReader(content []byte, expected digest.Digest) *VerifyingReader {
	return NewVerifyingReader(io.NopCloser(bytes.NewReader(content)), expected, int64(len(content)))
}

func TestVerifyingReaderFullConsumption(t *testing.T) {
	t.Parallel()

	content := []byte("attachment content")
	vr := newTestVerifyingReader(content, digest.SHA256.FromBytes(content))

	got, err := io.ReadAll(vr)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	require.NoError(t, vr.Close())
}

func TestVerifyingReaderMismatch(t *testing.T) {
	t.Parallel()

	content := []byte("stored bytes")
	expected := digest.SHA256.FromBytes([]byte("different bytes"))
	vr := newTestVerifyingReader(content, expected)

	_, err := io.ReadAll(vr)
	require.Error(t, err)

	var ierr *IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, expected, ierr.Expected)
	assert.Equal(t, digest.SHA256.FromBytes(content), ierr.Computed)

	// The verdict is computed once and cached; repeated end-of-stream reads
	// and Close observe the same error without re-digesting.
	_, again := vr.Read(make([]byte, 1))
	assert.ErrorAs(t, again, &ierr)
	assert.ErrorAs(t, vr.Close(), &ierr)
}

func TestVerifyingReaderTruncatedStream(t *testing.T) {
	t.Parallel()

	// The source holds fewer bytes than declared: truncating corruption, not
	// a caller abandoning the stream early.
	content := []byte("short")
	expected := digest.SHA256.FromBytes([]byte("the full declared content"))
	vr := NewVerifyingReader(io.NopCloser(bytes.NewReader(content)), expected, 25)

	_, err := io.ReadAll(vr)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.ErrorIs(t, vr.Close(), io.ErrUnexpectedEOF)
}

func TestVerifyingReaderPartialReadSkipsCheck(t *testing.T) {
	t.Parallel()

	content := []byte("a longer piece of attachment content")
	expected := digest.SHA256.FromBytes([]byte("does not match"))
	vr := newTestVerifyingReader(content, expected)

	buf := make([]byte, 4)
	_, err := io.ReadFull(vr, buf)
	require.NoError(t, err)

	// Abandoned before the declared byte count: no check occurs.
	require.NoError(t, vr.Close())
}

func TestVerifyingReaderVerifiesOnClose(t *testing.T) {
	t.Parallel()

	content := []byte("exact read")
	expected := digest.SHA256.FromBytes([]byte("tampered"))
	vr := newTestVerifyingReader(content, expected)

	// Consume exactly the declared size without observing end-of-stream;
	// Close must still run the check.
	buf := make([]byte, len(content))
	_, err := io.ReadFull(vr, buf)
	require.NoError(t, err)

	var ierr *IntegrityError
	require.ErrorAs(t, vr.Close(), &ierr)
}

func TestVerifyingReaderCloseAfterCleanVerify(t *testing.T) {
	t.Parallel()

	content := []byte("clean")
	vr := newTestVerifyingReader(content, digest.SHA256.FromBytes(content))

	buf := make([]byte, len(content))
	_, err := io.ReadFull(vr, buf)
	require.NoError(t, err)

	require.NoError(t, vr.Close())
}
