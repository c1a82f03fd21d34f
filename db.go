package flexilite

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const trackTxns = true

const defaultPlanCacheSize = 128

type DB struct {
	st      storage
	logger  *slog.Logger
	verbose bool
	opt     Options

	lastSize    atomic.Int64
	ReaderCount atomic.Int64
	WriterCount atomic.Int64
	ReadCount   atomic.Uint64
	WriteCount  atomic.Uint64

	txns     []*Tx
	txnsLock sync.Mutex
}

type Options struct {
	Logger    *slog.Logger
	Verbose   bool
	IsTesting bool
	MmapSize  int

	// DefaultValidationMode applies to alterations that don't pick a mode.
	DefaultValidationMode ValidationMode
	// PlanCacheSize bounds the decoded plans kept per connection.
	PlanCacheSize int
}

// Open opens (creating if needed) a Bolt-backed database file.
func Open(path string, opt Options) (*DB, error) {
	st, err := openBoltStorage(path, opt)
	if err != nil {
		return nil, storageErrf(err, "opening %s", path)
	}
	return openDB(st, opt)
}

// OpenSQLite opens (creating if needed) an SQLite-backed database file.
func OpenSQLite(path string, opt Options) (*DB, error) {
	st, err := openSQLiteStorage(path, opt)
	if err != nil {
		return nil, storageErrf(err, "opening %s", path)
	}
	return openDB(st, opt)
}

// OpenMemory returns a transient database.
func OpenMemory(opt Options) (*DB, error) {
	return openDB(newMemStorage(), opt)
}

func openDB(st storage, opt Options) (*DB, error) {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.PlanCacheSize <= 0 {
		opt.PlanCacheSize = defaultPlanCacheSize
	}
	db := &DB{
		st:      st,
		logger:  opt.Logger,
		verbose: opt.Verbose,
		opt:     opt,
	}
	if err := prepareStorage(st); err != nil {
		st.Close()
		return nil, storageErrf(err, "preparing %s storage", st.Kind())
	}
	if db.verbose {
		db.logger.Debug("flexilite: opened", "storage", st.Kind())
	}
	return db, nil
}

func (db *DB) Size() int64 {
	return db.lastSize.Load()
}

func (db *DB) StorageKind() string {
	return db.st.Kind()
}

func (db *DB) Close() error {
	if err := db.st.Close(); err != nil {
		return storageErrf(err, "closing")
	}
	return nil
}

// Connect returns a new connection. Connections are not safe for concurrent
// use; open one per goroutine.
func (db *DB) Connect() *Conn {
	return &Conn{
		db:       db,
		logger:   db.logger,
		registry: newClassRegistry(),
		plans:    newPlanCache(db.opt.PlanCacheSize),
	}
}

func (db *DB) addTx(tx *Tx) {
	db.txnsLock.Lock()
	defer db.txnsLock.Unlock()
	db.txns = append(db.txns, tx)
}

func (db *DB) removeTx(tx *Tx) {
	db.txnsLock.Lock()
	defer db.txnsLock.Unlock()

	found := slices.Index(db.txns, tx)
	if found < 0 {
		panic("tx not found in list")
	}

	n := len(db.txns)
	db.txns[found] = db.txns[n-1]
	db.txns[n-1] = nil
	db.txns = db.txns[:n-1]
}

func (db *DB) DescribeOpenTxns() string {
	if !trackTxns {
		return "OPEN TX TRACKING DISABLED"
	}

	db.txnsLock.Lock()
	txns := slices.Clone(db.txns)
	db.txnsLock.Unlock()

	if len(txns) == 0 {
		return "NO OPEN TRANSACTIONS"
	}

	slices.SortFunc(txns, func(a, b *Tx) int {
		return a.startTime.Compare(b.startTime)
	})

	now := time.Now()

	var buf strings.Builder
	fmt.Fprintf(&buf, "%d OPEN TRANSACTIONS:\n", len(txns))
	for _, tx := range txns {
		ms := now.Sub(tx.startTime).Milliseconds()
		if ms < 100 {
			fmt.Fprintf(&buf, "\n---\nopen for %d ms\n", ms)
		} else {
			fmt.Fprintf(&buf, "\n---\nopen for %d ms:\n%s", ms, tx.stack)
		}
	}

	return buf.String()
}
