package zedstore

import "github.com/pkg/errors"

// Error taxonomy per the corruption / resource-exhaustion / logical split
// described in the design: all of these are non-recoverable from within
// the core and are expected to unwind all the way to the host transaction,
// which aborts. Update-conflict outcomes are *not* modeled as errors; see
// UpdateResult in external.go.
var (
	// ErrCorruption covers unexpected page ids, out-of-bounds slots,
	// malformed items and container bodies, internal pages without
	// entries, missing downlinks on re-find, nested compressed items, and
	// could-not-find-old-item during a leaf rewrite. Descent does not check
	// page levels or detect self-referential right-links.
	ErrCorruption = errors.New("zedstore: page corruption detected")

	// ErrResourceExhausted is returned when an insert would assign a TID
	// past MaxZSTid. Buffer allocation errors are returned as the
	// BufferManager reports them, without this sentinel.
	ErrResourceExhausted = errors.New("zedstore: resource exhausted")

	// ErrTupleNotFound is the logical "could not find tuple" error
	// surfaced by delete/update/lock when the target TID does not
	// resolve to a covering item.
	ErrTupleNotFound = errors.New("zedstore: tuple concurrently updated or deleted")

	// ErrDatumTooLarge names a single datum exceeding MaxZedStoreDatumSize,
	// which cannot be stored without TOASTing (a collaborator out of this
	// core's scope). No function of this package returns it: inserts do
	// not check datum sizes.
	ErrDatumTooLarge = errors.New("zedstore: datum exceeds maximum inline size")
)

func wrapCorruption(format string, args ...interface{}) error {
	return errors.Wrapf(ErrCorruption, format, args...)
}

func wrapResourceExhausted(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}
