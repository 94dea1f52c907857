package storage

import "errors"

// Error kinds shared by every store built on the KVB (coin view, address
// index, block index, contract state store). These are values, not
// distinct types, matching spec.md §7's policy.
var (
	// ErrNotFound is the normal absence case for point lookups. Callers
	// should treat it as an empty optional, not an exceptional error.
	ErrNotFound = errors.New("storage: not found")

	// ErrCorrupt means deserialization or integrity verification failed.
	// Callers must abort startup rather than attempt repair.
	ErrCorrupt = errors.New("storage: corrupt record")

	// ErrIoError wraps a failure from the underlying KVB during a commit.
	// The batch must not be acknowledged upward.
	ErrIoError = errors.New("storage: io error")

	// ErrInterrupted is returned by a long-running pass when shutdown was
	// requested mid-scan. Partial durable state remains consistent and
	// the pass resumes on next start.
	ErrInterrupted = errors.New("storage: interrupted")

	// ErrInvariant indicates a caller bug (e.g. a nil tip hash passed to
	// BatchWrite). The process should abort rather than continue.
	ErrInvariant = errors.New("storage: invariant violation")

	// ErrUpgradeRequired is signalled when legacy records are present and
	// the caller must run the upgrade routine before retrying.
	ErrUpgradeRequired = errors.New("storage: upgrade required")
)
