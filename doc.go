// Package attach provides a content-addressed store for immutable binary
// archives (attachments), identified by the SHA-256 digest of their raw
// bytes.
//
// An archive is stored at most once regardless of how many times it is
// submitted, integrity is verifiable on every read, and malformed archives
// (path traversal, absolute paths, empty containers) are rejected before
// they reach storage.
//
// Callers interact with [Service]. Reads flow through a count-bounded
// presence cache and a weight-bounded content cache, both with
// single-flight fills; "not found" is never durably cached, so content
// written by a separate writer becomes visible on the next lookup. Writes
// run the archive validator and persist through a [RecordStore]
// transaction.
//
// # Quick Start
//
// Open a store and import an archive:
//
//	store, err := sqlite.Open("attachments.db")
//	if err != nil {
//	    return err
//	}
//	svc, err := attach.NewService(store)
//	if err != nil {
//	    return err
//	}
//	hash, err := svc.Import(ctx, f, attach.ImportWithUploader("alice"))
//
// Read it back with integrity verification:
//
//	att, ok, err := svc.Open(ctx, hash)
//	if err != nil || !ok {
//	    return err
//	}
//	rc, err := att.Open(ctx)
//
// The stream returned by Open verifies the content digest once the declared
// byte count has been consumed and fails the read with an [IntegrityError]
// on mismatch.
package attach
