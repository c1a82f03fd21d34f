package flexilite

import (
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"time"
)

// Tx is a storage transaction bound to a connection. Schema changes made
// inside it stay in the pending overlay until commit.
type Tx struct {
	conn     *Conn
	db       *DB
	stx      storageTx
	writable bool
	closed   bool

	startTime time.Time
	stack     string

	buckets map[string]storageBucket

	written       bool
	schemaChanged bool
	schemaVer     int64

	// classes created or altered in this transaction, and classes dropped
	pending map[int64]*ClassDef
	dropped map[int64]bool

	onCommit []func()
}

func (db *DB) newTx(c *Conn, stx storageTx, writable bool) *Tx {
	tx := &Tx{
		conn:      c,
		db:        db,
		stx:       stx,
		writable:  writable,
		startTime: time.Now(),
		buckets:   make(map[string]storageBucket, len(allBuckets)),
	}
	if writable {
		db.WriterCount.Add(1)
		db.WriteCount.Add(1)
	} else {
		db.ReaderCount.Add(1)
		db.ReadCount.Add(1)
	}
	if trackTxns {
		tx.stack = string(debug.Stack())
		db.addTx(tx)
	}
	return tx
}

func (tx *Tx) Conn() *Conn { return tx.conn }

func (tx *Tx) DB() *DB { return tx.db }

func (tx *Tx) IsWritable() bool { return tx.writable }

func (tx *Tx) logger() *slog.Logger { return tx.conn.logger }

func (tx *Tx) bucket(name string) storageBucket {
	if b := tx.buckets[name]; b != nil {
		return b
	}
	b := tx.stx.Bucket(name)
	if b == nil {
		panic(storageErrf(ErrBucketNotFound, "%s", name))
	}
	tx.buckets[name] = b
	return b
}

func (tx *Tx) requireWritable() {
	if !tx.writable {
		panic(ruleErrf("transaction is read-only"))
	}
}

func (tx *Tx) markWritten() {
	tx.requireWritable()
	tx.written = true
}

// afterCommit registers f to run once the transaction has committed.
func (tx *Tx) afterCommit(f func()) {
	tx.onCommit = append(tx.onCommit, f)
}

func (tx *Tx) Commit() error {
	if tx.closed {
		return ruleErrf("transaction already closed")
	}
	if !tx.writable {
		tx.Close()
		return nil
	}
	tx.db.lastSize.Store(tx.stx.Size())
	err := tx.stx.Commit()
	hooks := tx.onCommit
	pending, dropped := tx.pending, tx.dropped
	tx.pending, tx.dropped, tx.onCommit = nil, nil, nil
	tx.Close()
	if err != nil {
		// the registry may have cached state from the failed transaction
		tx.conn.registry.invalidate(-1)
		tx.conn.plans.reset()
		return storageErrf(err, "commit")
	}
	if tx.schemaChanged {
		tx.conn.registry.apply(pending, dropped, tx.schemaVer)
		tx.conn.plans.reset()
	}
	for _, f := range hooks {
		f()
	}
	return nil
}

// Close rolls back unless already committed. Safe to call multiple times.
func (tx *Tx) Close() {
	if tx.closed {
		return
	}
	tx.closed = true
	if tx.conn.tx == tx {
		tx.conn.tx = nil
	}
	if err := tx.stx.Rollback(); err != nil {
		tx.logger().Warn("flexilite: rollback failed", "err", err)
	}
	if tx.writable {
		tx.db.WriterCount.Add(-1)
		if tx.schemaChanged && tx.pending != nil {
			// rolled back schema changes; drop anything cached during the tx
			tx.conn.registry.invalidate(-1)
			tx.conn.plans.reset()
		}
	} else {
		tx.db.ReaderCount.Add(-1)
	}
	if trackTxns {
		tx.db.removeTx(tx)
	}
}

// checkSchemaVersion drops cached schema when another connection has
// committed a schema change since this connection last looked.
func (tx *Tx) checkSchemaVersion() {
	ver := tx.metaCounter(metaSchemaVer)
	reg := tx.conn.registry
	if reg.schemaVer != ver {
		if reg.schemaVer >= 0 && tx.db.verbose {
			tx.logger().Debug("flexilite: schema changed", "old", reg.schemaVer, "new", ver)
		}
		reg.invalidate(ver)
		tx.conn.plans.reset()
	}
}

type panicked struct {
	reason any
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

// safelyCall turns panics into errors. Package errors raised via panic come
// back as they are.
func safelyCall(fn func(*Tx) error, tx *Tx) (err error) {
	defer func() {
		if p := recover(); p != nil {
			switch p := p.(type) {
			case *Error:
				err = p
			case *DataError:
				err = storageErrf(p, "corrupted data")
			case runtime.Error:
				err = panicked{p, string(debug.Stack())}
			case error:
				err = storageErrf(p, "")
			default:
				err = panicked{p, string(debug.Stack())}
			}
		}
	}()
	return fn(tx)
}
