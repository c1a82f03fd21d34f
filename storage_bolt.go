package flexilite

import (
	"errors"
	"time"
	"unsafe"

	"go.etcd.io/bbolt"
)

const (
	boltOpenTimeout = 10 * time.Second
	boltMmapTesting = 5 << 20
	boltMmapDefault = 64 << 20
	boltFileMode    = 0666
)

func boltOptions(opt Options) *bbolt.Options {
	bopt := *bbolt.DefaultOptions
	bopt.Timeout = boltOpenTimeout
	switch {
	case opt.MmapSize != 0:
		bopt.InitialMmapSize = opt.MmapSize
	case opt.IsTesting:
		bopt.InitialMmapSize = boltMmapTesting
	default:
		bopt.InitialMmapSize = boltMmapDefault
	}
	if opt.IsTesting {
		// test databases are thrown away
		bopt.NoSync = true
		bopt.NoFreelistSync = true
	} else {
		bopt.FreelistType = bbolt.FreelistMapType
	}
	return &bopt
}

// boltStorage keeps each bucket as a root bbolt bucket.
type boltStorage struct {
	*bbolt.DB
}

func openBoltStorage(path string, opt Options) (storage, error) {
	bdb, err := bbolt.Open(path, boltFileMode, boltOptions(opt))
	if err != nil {
		return nil, err
	}
	return boltStorage{bdb}, nil
}

func (s boltStorage) Kind() string { return "bolt" }

func (s boltStorage) BeginTx(writable bool) (storageTx, error) {
	btx, err := s.Begin(writable)
	if err != nil {
		return nil, err
	}
	return boltTx{btx}, nil
}

type boltTx struct {
	*bbolt.Tx
}

func (tx boltTx) Bucket(name string) storageBucket {
	if b := tx.Tx.Bucket(unsafeBytesFromString(name)); b != nil {
		return boltBucket{b}
	}
	return nil
}

func (tx boltTx) CreateBucket(name string) (storageBucket, error) {
	b, err := tx.CreateBucketIfNotExists([]byte(name))
	if err != nil {
		return nil, err
	}
	return boltBucket{b}, nil
}

func (tx boltTx) Rollback() error {
	if err := tx.Tx.Rollback(); !errors.Is(err, bbolt.ErrTxClosed) {
		return err
	}
	return nil
}

type boltBucket struct {
	*bbolt.Bucket
}

func (b boltBucket) Cursor() storageCursor { return boltCursor{b.Bucket.Cursor()} }

func (b boltBucket) KeyCount() int { return b.Stats().KeyN }

type boltCursor struct {
	*bbolt.Cursor
}

func (c boltCursor) SeekLast(prefix []byte) ([]byte, []byte) {
	limit := successor(prefix)
	if limit == nil {
		return c.Last()
	}
	if k, _ := c.Seek(limit); k == nil {
		return c.Last()
	}
	return c.Prev()
}

func unsafeBytesFromString(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
