package attach_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/attach"
	"github.com/meigma/attach/internal/testutil"
)

func TestValidateArchiveRejectsUnsafeEntries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		entry string
	}{
		{name: "parent traversal", entry: "../evil"},
		{name: "nested traversal", entry: "lib/../../evil"},
		{name: "current directory", entry: "./evil"},
		{name: "bare dot", entry: "."},
		{name: "dot directory", entry: "./"},
		{name: "absolute path", entry: "/etc/passwd"},
		{name: "drive letter", entry: "C:/evil"},
		{name: "backslash separator", entry: "lib\\evil"},
		{name: "doubled slash", entry: "lib//evil"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data := testutil.BuildArchiveEntries(t, []testutil.ZipEntry{
				{Name: tt.entry, Body: []byte("x")},
			})
			_, err := attach.ValidateArchive(data)

			var verr *attach.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.entry, verr.Path)
		})
	}
}

func TestValidateArchiveRejectsEmptyContainer(t *testing.T) {
	t.Parallel()

	// A zero-entry container parses fine but is invalid input here, not an
	// empty-but-valid archive.
	_, err := attach.ValidateArchive(testutil.EmptyArchive(t))

	var verr *attach.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, verr.Path)
}

func TestValidateArchiveRejectsNonContainer(t *testing.T) {
	t.Parallel()

	_, err := attach.ValidateArchive([]byte("this is not a zip archive"))

	var verr *attach.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestValidateArchiveAcceptsDirectoryEntries(t *testing.T) {
	t.Parallel()

	data := testutil.BuildArchiveEntries(t, []testutil.ZipEntry{
		{Name: "lib/", Body: nil},
		{Name: "lib/contract.class", Body: []byte("code")},
	})
	meta, err := attach.ValidateArchive(data)
	require.NoError(t, err)
	assert.Equal(t, attach.DefaultContractVersion, meta.Version)
	assert.Empty(t, meta.Signers)
}

func TestValidateArchiveExtractsVersion(t *testing.T) {
	t.Parallel()

	manifest := "Manifest-Version: 1.0\r\nContract-Version: 3\r\n"
	data := testutil.BuildArchive(t, map[string][]byte{
		"META-INF/MANIFEST.MF": []byte(manifest),
		"contract.class":       []byte("code"),
	})

	meta, err := attach.ValidateArchive(data)
	require.NoError(t, err)
	assert.Equal(t, 3, meta.Version)
}

func TestValidateArchiveVersionDefaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		manifest string
	}{
		{name: "attribute absent", manifest: "Manifest-Version: 1.0\r\n"},
		{name: "unparseable value", manifest: "Contract-Version: two\r\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data := testutil.BuildArchive(t, map[string][]byte{
				"META-INF/MANIFEST.MF": []byte(tt.manifest),
				"contract.class":       []byte("code"),
			})
			meta, err := attach.ValidateArchive(data)
			require.NoError(t, err)
			assert.Equal(t, attach.DefaultContractVersion, meta.Version)
		})
	}
}

func TestValidateArchiveNoManifest(t *testing.T) {
	t.Parallel()

	data := testutil.BuildArchive(t, map[string][]byte{
		"contract.class": []byte("code"),
	})
	meta, err := attach.ValidateArchive(data)
	require.NoError(t, err)
	assert.Equal(t, attach.DefaultContractVersion, meta.Version)
	assert.Empty(t, meta.Signers)
}

func TestValidateArchiveSignerIntersection(t *testing.T) {
	t.Parallel()

	manifest := "Manifest-Version: 1.0\r\n" +
		"\r\n" +
		"Name: a.class\r\n" +
		"Signed-By: alice, bob\r\n" +
		"\r\n" +
		"Name: b.class\r\n" +
		"Signed-By: bob, carol\r\n"
	data := testutil.BuildArchive(t, map[string][]byte{
		"META-INF/MANIFEST.MF": []byte(manifest),
		"a.class":              []byte("a"),
		"b.class":              []byte("b"),
	})

	meta, err := attach.ValidateArchive(data)
	require.NoError(t, err)

	// Only keys countersigning every signed entry survive.
	assert.Equal(t, []string{"bob"}, meta.Signers)
}

func TestValidateArchiveUnsignedEntriesDoNotParticipate(t *testing.T) {
	t.Parallel()

	manifest := "Manifest-Version: 1.0\r\n" +
		"\r\n" +
		"Name: a.class\r\n" +
		"Signed-By: alice\r\n" +
		"\r\n" +
		"Name: b.class\r\n" +
		"SHA-256-Digest: irrelevant\r\n"
	data := testutil.BuildArchive(t, map[string][]byte{
		"META-INF/MANIFEST.MF": []byte(manifest),
		"a.class":              []byte("a"),
		"b.class":              []byte("b"),
	})

	meta, err := attach.ValidateArchive(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, meta.Signers)
}
