package attach

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/attach/cache"
)

// Reserved uploader tags. They identify internal submission paths and must
// never be supplied by untrusted callers; Import rejects them and only
// ImportPrivileged accepts them.
const (
	UploaderP2P     = "p2p"
	UploaderRPC     = "rpc"
	UploaderApp     = "app"
	UploaderUnknown = "unknown"

	// ReservedUploaderPrefix marks uploads attributed to the peer-to-peer
	// subsystem. Callers holding a reference to ImportPrivileged are, by
	// construction, on an internal call path.
	ReservedUploaderPrefix = UploaderP2P + ":"
)

// Cache bounds, overridable via service options.
const (
	// DefaultContentCacheWeight bounds the content cache by total bytes
	// (hash size plus raw content length per entry).
	DefaultContentCacheWeight = 10 * 1024 * 1024

	// DefaultPresenceCacheSize bounds the presence cache by entry count;
	// entries are small handles, not raw bytes.
	DefaultPresenceCacheSize = 1024
)

// TrustOracle decides whether an uploader identity is privileged to
// overwrite the recorded uploader on a duplicate import.
type TrustOracle interface {
	IsPrivileged(uploader string) bool
}

// TrustedUploaders returns a TrustOracle privileging exactly the given tags.
func TrustedUploaders(tags ...string) TrustOracle {
	set := make(map[string]bool, len(tags))
	for _, tag := range tags {
		set[tag] = true
	}
	return trustSet(set)
}

type trustSet map[string]bool

func (s trustSet) IsPrivileged(uploader string) bool { return s[uploader] }

// Metrics receives a monotonically increasing count of stored attachments.
// It is purely observational and feeds nothing back into store behavior.
type Metrics interface {
	AttachmentCount(n int64)
}

type noopMetrics struct{}

func (noopMetrics) AttachmentCount(int64) {}

// contentEntry is the content-cache value: the logical handle plus the raw
// bytes it resolves to.
type contentEntry struct {
	attachment Attachment
	data       []byte
}

// Service is the public face of the attachment store: the import/dedup
// protocol, cached reads, existence checks, and criteria queries. All
// methods are safe for concurrent use.
//
// Both caches are owned by the Service instance: constructed with it, torn
// down with it, no process-global state.
type Service struct {
	store   RecordStore
	trust   TrustOracle
	metrics Metrics
	logger  *slog.Logger

	verifyHashes       bool
	contentCacheWeight int64
	presenceCacheSize  int

	content  *cache.Loading[digest.Digest, contentEntry]
	presence *cache.Loading[digest.Digest, Attachment]
}

var _ Loader = (*Service)(nil)

// NewService creates an attachment service over the given record store.
func NewService(store RecordStore, opts ...ServiceOption) (*Service, error) {
	s := &Service{
		store:              store,
		trust:              TrustedUploaders(UploaderApp, UploaderRPC),
		metrics:            noopMetrics{},
		logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
		verifyHashes:       true,
		contentCacheWeight: DefaultContentCacheWeight,
		presenceCacheSize:  DefaultPresenceCacheSize,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	contentBacking := cache.NewWeighted(s.contentCacheWeight,
		func(key digest.Digest, v contentEntry) int64 {
			return int64(len(key)) + int64(len(v.data))
		})
	s.content = cache.NewLoading[digest.Digest, contentEntry](contentBacking, s.fillContent)

	presenceBacking, err := cache.NewCounted[digest.Digest, Attachment](s.presenceCacheSize)
	if err != nil {
		return nil, err
	}
	s.presence = cache.NewLoading[digest.Digest, Attachment](presenceBacking, s.fillPresence)

	return s, nil
}

// Import stores the fully materialized content of src and returns its
// content hash. The archive is validated before anything is persisted; a
// validation failure aborts the import with a *ValidationError.
//
// If the content is already stored, Import fails with a *DuplicateError
// carrying the hash. When the supplied uploader is privileged per the trust
// oracle and differs from the recorded one, the recorded uploader is
// updated and both caches invalidated first — the import still reports
// duplicate.
//
// Reserved uploader tags are rejected; internal subsystems use
// ImportPrivileged.
func (s *Service) Import(ctx context.Context, src io.Reader, opts ...ImportOption) (digest.Digest, error) {
	cfg := newImportConfig(opts)
	if isReservedUploader(cfg.uploader) {
		return "", &reservedUploaderError{uploader: cfg.uploader}
	}
	return s.importBytes(ctx, src, cfg)
}

// ImportPrivileged is the internal entry point: it behaves like Import but
// accepts reserved uploader tags. Handing a caller this method is the
// capability that authenticates its call path.
func (s *Service) ImportPrivileged(ctx context.Context, src io.Reader, opts ...ImportOption) (digest.Digest, error) {
	return s.importBytes(ctx, src, newImportConfig(opts))
}

// ImportOrGet behaves like Import, except that already-stored content is an
// acceptable outcome: a duplicate-content failure converts into a
// successful return of the existing hash.
func (s *Service) ImportOrGet(ctx context.Context, src io.Reader, opts ...ImportOption) (digest.Digest, error) {
	hash, err := s.Import(ctx, src, opts...)
	var dup *DuplicateError
	if errors.As(err, &dup) {
		return dup.Hash, nil
	}
	return hash, err
}

func (s *Service) importBytes(ctx context.Context, src io.Reader, cfg importConfig) (digest.Digest, error) {
	// Content is fully materialized before hashing and storage; archives
	// larger than memory are out of scope.
	data, err := io.ReadAll(src)
	if err != nil {
		return "", err
	}
	hash := digest.SHA256.FromBytes(data)

	var (
		dup        bool
		updated    bool
		totalCount int64 = -1
	)
	err = s.store.InTx(ctx, func(tx Tx) error {
		existing, err := tx.Get(ctx, hash)
		if err != nil {
			return err
		}

		if existing == nil {
			meta, err := ValidateArchive(data)
			if err != nil {
				return err
			}
			rec := &Record{
				Hash:            hash,
				Content:         data,
				InsertedAt:      time.Now().UTC(),
				Uploader:        cfg.uploader,
				Filename:        cfg.filename,
				ContractClasses: cfg.contractClasses,
				Signers:         meta.Signers,
				Version:         meta.Version,
			}
			if err := tx.Insert(ctx, rec); err != nil {
				if errors.Is(err, ErrRecordExists) {
					// Lost the race to a concurrent writer; same as the
					// already-exists branch.
					dup = true
					return nil
				}
				return err
			}
			// The count feeds the metrics sink only; a failure here must
			// not abort a successful insert.
			if n, cerr := tx.Count(ctx); cerr == nil {
				totalCount = n
			} else {
				s.logger.Debug("attachment count unavailable",
					slog.String("hash", hash.String()),
					slog.String("error", cerr.Error()))
			}
			return nil
		}

		dup = true
		if cfg.uploader != "" && cfg.uploader != existing.Uploader && s.trust.IsPrivileged(cfg.uploader) {
			if err := tx.UpdateUploader(ctx, hash, cfg.uploader); err != nil {
				return err
			}
			updated = true
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if updated {
		s.presence.Invalidate(hash)
		s.content.Invalidate(hash)
		s.logger.Info("attachment uploader updated",
			slog.String("hash", hash.String()),
			slog.String("uploader", cfg.uploader))
	}
	if dup {
		return "", &DuplicateError{Hash: hash}
	}

	if totalCount >= 0 {
		s.metrics.AttachmentCount(totalCount)
	}
	s.logger.Info("attachment stored",
		slog.String("hash", hash.String()),
		slog.Int("size", len(data)),
		slog.String("uploader", cfg.uploader),
		slog.String("filename", cfg.filename))
	return hash, nil
}

// Open returns the logical attachment for hash, or ok=false when no record
// exists. Lookups go through the presence cache.
func (s *Service) Open(ctx context.Context, hash digest.Digest) (Attachment, bool, error) {
	return s.presence.Get(ctx, hash)
}

// Exists reports whether a record exists for hash. It checks the store
// directly, bypassing both caches; use it where freshness matters more
// than speed.
func (s *Service) Exists(ctx context.Context, hash digest.Digest) (bool, error) {
	var exists bool
	err := s.store.InTx(ctx, func(tx Tx) error {
		rec, err := tx.Get(ctx, hash)
		if err != nil {
			return err
		}
		exists = rec != nil
		return nil
	})
	return exists, err
}

// Query forwards the criteria to the record store and returns the matching
// content hashes.
func (s *Service) Query(ctx context.Context, c Criteria) ([]digest.Digest, error) {
	var hashes []digest.Digest
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		hashes, err = tx.FindByCriteria(ctx, c)
		return err
	})
	if err != nil {
		return nil, err
	}
	return hashes, nil
}

// Load implements Loader against the content cache. Attachments handed out
// by this service resolve their bytes here.
func (s *Service) Load(ctx context.Context, hash digest.Digest) (io.ReadCloser, error) {
	entry, ok, err := s.content.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(entry.data)), nil
}

// fillContent is the content-cache fill: one store transaction fetching the
// record by hash. Found records become (handle, bytes) entries; absent
// results propagate as not-found and are never retained by the cache.
func (s *Service) fillContent(ctx context.Context, hash digest.Digest) (contentEntry, bool, error) {
	var (
		entry contentEntry
		found bool
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		rec, err := tx.Get(ctx, hash)
		if err != nil {
			return err
		}
		if rec == nil {
			return nil
		}
		entry = contentEntry{
			attachment: newAttachment(rec, s, s.verifyHashes),
			data:       rec.Content,
		}
		found = true
		return nil
	})
	if err != nil {
		return contentEntry{}, false, err
	}
	return entry, found, nil
}

// fillPresence is the presence-cache fill: it resolves through the content
// cache. On absence it additionally evicts the content-cache key, so a
// delayed write racing the two caches cannot leave the lower level stale.
func (s *Service) fillPresence(ctx context.Context, hash digest.Digest) (Attachment, bool, error) {
	entry, ok, err := s.content.Get(ctx, hash)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		s.content.Invalidate(hash)
		return nil, false, nil
	}
	return entry.attachment, true, nil
}

func isReservedUploader(uploader string) bool {
	switch uploader {
	case UploaderP2P, UploaderRPC, UploaderApp, UploaderUnknown:
		return true
	}
	return strings.HasPrefix(uploader, ReservedUploaderPrefix)
}

// reservedUploaderError wraps ErrReservedUploader with the offending tag.
type reservedUploaderError struct {
	uploader string
}

func (e *reservedUploaderError) Error() string {
	return ErrReservedUploader.Error() + ": " + e.uploader
}

func (e *reservedUploaderError) Unwrap() error { return ErrReservedUploader }
