package flexilite

import "errors"

// ErrBucketNotFound is returned by storageTx.Bucket users when a required bucket is missing.
var ErrBucketNotFound = errors.New("bucket not found")

// storage represents the host storage engine (Bolt, SQLite, in-memory).
// Durability, isolation and locking are entirely its business.
type storage interface {
	// BeginTx starts a new transaction.
	BeginTx(writable bool) (storageTx, error)
	// Close closes the storage.
	Close() error
	// Kind names the backend for logging and diagnostics.
	Kind() string
}

// storageTx represents a storage transaction.
type storageTx interface {
	// Writable returns true if this is a writable transaction.
	Writable() bool

	// Bucket returns a root bucket, or nil if the bucket doesn't exist.
	Bucket(name string) storageBucket

	// CreateBucket creates a bucket if it doesn't exist.
	CreateBucket(name string) (storageBucket, error)

	// Commit commits the transaction.
	Commit() error

	// Rollback aborts the transaction. It should be safe to call multiple times.
	Rollback() error

	// Size returns the database size in bytes (0 if unknown / not applicable).
	Size() int64
}

// storageBucket represents a bucket (sorted key-value collection).
//
// Values are never empty: the engine always stores at least one byte, so a nil
// result of Get unambiguously means "not found" on every backend.
type storageBucket interface {
	// Get retrieves a value by key. Returns nil if not found.
	Get(key []byte) []byte

	// Put stores a key-value pair.
	Put(key, value []byte) error

	// Delete removes a key.
	Delete(key []byte) error

	// Cursor returns a cursor for iteration.
	Cursor() storageCursor

	// KeyCount returns the number of keys in the bucket (best effort).
	KeyCount() int
}

// storageCursor iterates over a sorted bucket.
//
// Mutating the bucket while a cursor is live is not supported (Bolt invalidates
// cursors on Put); callers collect keys first and mutate afterwards.
type storageCursor interface {
	// First moves to the first key-value pair.
	First() (key, value []byte)

	// Last moves to the last key-value pair.
	Last() (key, value []byte)

	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)

	// SeekLast moves to the last key that has the given prefix or sorts before it.
	SeekLast(prefix []byte) (key, value []byte)

	// Next moves to the next key-value pair.
	Next() (key, value []byte)

	// Prev moves to the previous key-value pair.
	Prev() (key, value []byte)
}

const (
	bucketMeta         = "meta"
	bucketClasses      = "classes"
	bucketClassNames   = "class_names"
	bucketProps        = "props"
	bucketObjects      = "objects"
	bucketClassObjects = "class_objects"
	bucketValues       = "values"
	bucketValueIndex   = "vidx"
	bucketRangeIndex   = "ridx"
	bucketFullText     = "ftx"
	bucketRefs         = "refs"
	bucketChanges      = "changes"
)

var allBuckets = []string{
	bucketMeta,
	bucketClasses,
	bucketClassNames,
	bucketProps,
	bucketObjects,
	bucketClassObjects,
	bucketValues,
	bucketValueIndex,
	bucketRangeIndex,
	bucketFullText,
	bucketRefs,
	bucketChanges,
}
