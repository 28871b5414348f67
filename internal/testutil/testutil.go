// Package testutil provides test doubles and archive builders shared by the
// attach test suites.
package testutil

import (
	"archive/zip"
	"bytes"
	"context"
	"slices"
	"sort"
	"sync"
	"testing"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/attach"
)

// MemStore is an in-memory attach.RecordStore with the same uniqueness and
// atomicity semantics as the durable store: mutations stage inside a
// transaction and apply only when it commits.
type MemStore struct {
	mu      sync.Mutex
	records map[digest.Digest]*attach.Record
}

var _ attach.RecordStore = (*MemStore)(nil)

// NewMemStore creates an empty in-memory record store.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[digest.Digest]*attach.Record)}
}

// InTx implements attach.RecordStore. Transactions serialize through one
// lock, giving a consistent snapshot for the whole callback.
func (m *MemStore) InTx(ctx context.Context, fn func(tx attach.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{
		store:   m,
		inserts: make(map[digest.Digest]*attach.Record),
		updates: make(map[digest.Digest]string),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// Len returns the number of committed records.
func (m *MemStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Put commits a record directly, bypassing the transaction protocol. It
// simulates a separate writer racing the service under test.
func (m *MemStore) Put(rec *attach.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Hash] = cloneRecord(rec)
}

// Corrupt replaces the stored bytes for hash without changing the key,
// simulating store corruption for tamper-detection tests.
func (m *MemStore) Corrupt(hash digest.Digest, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[hash]; ok {
		rec.Content = slices.Clone(content)
	}
}

type memTx struct {
	store   *MemStore
	inserts map[digest.Digest]*attach.Record
	updates map[digest.Digest]string
}

var _ attach.Tx = (*memTx)(nil)

func (t *memTx) Get(_ context.Context, hash digest.Digest) (*attach.Record, error) {
	if rec, ok := t.inserts[hash]; ok {
		return cloneRecord(rec), nil
	}
	rec, ok := t.store.records[hash]
	if !ok {
		return nil, nil
	}
	out := cloneRecord(rec)
	if uploader, ok := t.updates[hash]; ok {
		out.Uploader = uploader
	}
	return out, nil
}

func (t *memTx) Insert(_ context.Context, rec *attach.Record) error {
	if _, ok := t.store.records[rec.Hash]; ok {
		return attach.ErrRecordExists
	}
	if _, ok := t.inserts[rec.Hash]; ok {
		return attach.ErrRecordExists
	}
	t.inserts[rec.Hash] = cloneRecord(rec)
	return nil
}

func (t *memTx) UpdateUploader(_ context.Context, hash digest.Digest, uploader string) error {
	if rec, ok := t.inserts[hash]; ok {
		rec.Uploader = uploader
		return nil
	}
	if _, ok := t.store.records[hash]; !ok {
		return attach.ErrNotFound
	}
	t.updates[hash] = uploader
	return nil
}

func (t *memTx) Count(_ context.Context) (int64, error) {
	return int64(len(t.store.records) + len(t.inserts)), nil
}

func (t *memTx) FindByCriteria(_ context.Context, c attach.Criteria) ([]digest.Digest, error) {
	var matched []*attach.Record
	for _, rec := range t.store.records {
		if matchesCriteria(rec, c) {
			matched = append(matched, rec)
		}
	}
	for _, rec := range t.inserts {
		if matchesCriteria(rec, c) {
			matched = append(matched, rec)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		less := recordLess(matched[i], matched[j], c.SortBy)
		if c.SortDir == attach.SortDesc {
			return !less
		}
		return less
	})

	hashes := make([]digest.Digest, len(matched))
	for i, rec := range matched {
		hashes[i] = rec.Hash
	}
	return hashes, nil
}

func (t *memTx) commit() {
	for hash, rec := range t.inserts {
		t.store.records[hash] = rec
	}
	for hash, uploader := range t.updates {
		if rec, ok := t.store.records[hash]; ok {
			rec.Uploader = uploader
		}
	}
}

func matchesCriteria(rec *attach.Record, c attach.Criteria) bool {
	if len(c.Uploaders) > 0 && !slices.Contains(c.Uploaders, rec.Uploader) {
		return false
	}
	if len(c.Filenames) > 0 && !slices.Contains(c.Filenames, rec.Filename) {
		return false
	}
	if c.ContractClass != "" && !slices.Contains(rec.ContractClasses, c.ContractClass) {
		return false
	}
	if c.MinVersion > 0 && rec.Version < c.MinVersion {
		return false
	}
	return true
}

func recordLess(a, b *attach.Record, field attach.SortField) bool {
	switch field {
	case attach.SortByFilename:
		return a.Filename < b.Filename
	case attach.SortByVersion:
		return a.Version < b.Version
	default:
		return a.InsertedAt.Before(b.InsertedAt)
	}
}

func cloneRecord(rec *attach.Record) *attach.Record {
	out := *rec
	out.Content = slices.Clone(rec.Content)
	out.ContractClasses = slices.Clone(rec.ContractClasses)
	out.Signers = slices.Clone(rec.Signers)
	return &out
}

// ZipEntry is one entry for BuildArchiveEntries. Entry names are written
// verbatim, so hostile names (traversal, absolute) survive into the output.
type ZipEntry struct {
	Name string
	Body []byte
}

// BuildArchive builds a zip archive from path to content, entries in
// sorted path order.
func BuildArchive(t *testing.T, files map[string][]byte) []byte {
	t.Helper()

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	entries := make([]ZipEntry, len(paths))
	for i, p := range paths {
		entries[i] = ZipEntry{Name: p, Body: files[p]}
	}
	return BuildArchiveEntries(t, entries)
}

// BuildArchiveEntries builds a zip archive with exact entry names.
func BuildArchiveEntries(t *testing.T, entries []ZipEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.Name, Method: zip.Deflate})
		if err != nil {
			t.Fatalf("create zip entry %q: %v", e.Name, err)
		}
		if _, err := w.Write(e.Body); err != nil {
			t.Fatalf("write zip entry %q: %v", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	return buf.Bytes()
}

// EmptyArchive returns a syntactically valid zip container with zero
// entries.
func EmptyArchive(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	return buf.Bytes()
}
