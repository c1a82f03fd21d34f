package flexilite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS flexi_buckets (
	name TEXT NOT NULL PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS flexi_kv (
	bucket TEXT NOT NULL,
	k BLOB NOT NULL,
	v BLOB NOT NULL,
	PRIMARY KEY (bucket, k)
) WITHOUT ROWID;
`

// sqliteStorage keeps every bucket as a slice of one WITHOUT ROWID table.
// BLOB keys compare with memcmp, so ordering matches the other backends.
//
// Writers go through a single-connection pool that takes the write lock at
// BEGIN; readers use their own pool and see WAL snapshots, so an open reader
// never blocks a writer.
type sqliteStorage struct {
	writer *sql.DB
	reader *sql.DB
}

func openSQLiteStorage(path string, opt Options) (storage, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=10000&_foreign_keys=off&_journal_mode=WAL", path)
	if opt.IsTesting {
		dsn += "&_sync=OFF"
	}
	writer, err := sql.Open("sqlite3", dsn+"&_txlock=immediate")
	if err != nil {
		return nil, err
	}
	writer.SetMaxOpenConns(1)
	if _, err := writer.Exec(sqliteSchema); err != nil {
		writer.Close()
		return nil, err
	}
	reader, err := sql.Open("sqlite3", dsn)
	if err != nil {
		writer.Close()
		return nil, err
	}
	return &sqliteStorage{writer: writer, reader: reader}, nil
}

func (s *sqliteStorage) Kind() string { return "sqlite" }

func (s *sqliteStorage) BeginTx(writable bool) (storageTx, error) {
	var stx *sql.Tx
	var err error
	if writable {
		stx, err = s.writer.BeginTx(context.Background(), nil)
	} else {
		stx, err = s.reader.BeginTx(context.Background(), &sql.TxOptions{ReadOnly: true})
	}
	if err != nil {
		return nil, err
	}
	return &sqliteTx{stx: stx, writable: writable, stmts: make(map[string]*sql.Stmt)}, nil
}

func (s *sqliteStorage) Close() error {
	rerr := s.reader.Close()
	if err := s.writer.Close(); err != nil {
		return err
	}
	return rerr
}

type sqliteTx struct {
	stx      *sql.Tx
	writable bool
	stmts    map[string]*sql.Stmt
	err      error
	closed   bool
}

const (
	sqlBucketExists = `SELECT 1 FROM flexi_buckets WHERE name = ?`
	sqlBucketCreate = `INSERT OR IGNORE INTO flexi_buckets (name) VALUES (?)`
	sqlGet          = `SELECT v FROM flexi_kv WHERE bucket = ? AND k = ?`
	sqlPut          = `INSERT OR REPLACE INTO flexi_kv (bucket, k, v) VALUES (?, ?, ?)`
	sqlDelete       = `DELETE FROM flexi_kv WHERE bucket = ? AND k = ?`
	sqlCount        = `SELECT COUNT(*) FROM flexi_kv WHERE bucket = ?`
	sqlFirst        = `SELECT k, v FROM flexi_kv WHERE bucket = ? ORDER BY k LIMIT 1`
	sqlLast         = `SELECT k, v FROM flexi_kv WHERE bucket = ? ORDER BY k DESC LIMIT 1`
	sqlSeekGE       = `SELECT k, v FROM flexi_kv WHERE bucket = ? AND k >= ? ORDER BY k LIMIT 1`
	sqlSeekGT       = `SELECT k, v FROM flexi_kv WHERE bucket = ? AND k > ? ORDER BY k LIMIT 1`
	sqlSeekLT       = `SELECT k, v FROM flexi_kv WHERE bucket = ? AND k < ? ORDER BY k DESC LIMIT 1`
)

// stmt returns a statement prepared once per transaction.
func (tx *sqliteTx) stmt(query string) (*sql.Stmt, error) {
	if st := tx.stmts[query]; st != nil {
		return st, nil
	}
	st, err := tx.stx.Prepare(query)
	if err != nil {
		return nil, err
	}
	tx.stmts[query] = st
	return st, nil
}

// fail records the first error of a call path that cannot return one; Commit reports it.
func (tx *sqliteTx) fail(err error) {
	if tx.err == nil {
		tx.err = err
	}
}

func (tx *sqliteTx) exec(query string, args ...any) error {
	st, err := tx.stmt(query)
	if err != nil {
		return err
	}
	_, err = st.Exec(args...)
	return err
}

func (tx *sqliteTx) queryKV(query string, args ...any) ([]byte, []byte) {
	st, err := tx.stmt(query)
	if err != nil {
		tx.fail(err)
		return nil, nil
	}
	var k, v []byte
	err = st.QueryRow(args...).Scan(&k, &v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		tx.fail(err)
		return nil, nil
	}
	return k, v
}

func (tx *sqliteTx) Writable() bool { return tx.writable }

func (tx *sqliteTx) Bucket(name string) storageBucket {
	st, err := tx.stmt(sqlBucketExists)
	if err != nil {
		tx.fail(err)
		return nil
	}
	var one int
	err = st.QueryRow(name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	} else if err != nil {
		tx.fail(err)
		return nil
	}
	return &sqliteBucket{tx: tx, name: name}
}

func (tx *sqliteTx) CreateBucket(name string) (storageBucket, error) {
	if !tx.writable {
		return nil, fmt.Errorf("tx not writable")
	}
	if err := tx.exec(sqlBucketCreate, name); err != nil {
		return nil, err
	}
	return &sqliteBucket{tx: tx, name: name}, nil
}

func (tx *sqliteTx) Commit() error {
	if tx.closed {
		return nil
	}
	tx.closed = true
	if tx.err != nil {
		tx.stx.Rollback()
		return tx.err
	}
	if !tx.writable {
		return tx.stx.Rollback()
	}
	return tx.stx.Commit()
}

func (tx *sqliteTx) Rollback() error {
	if tx.closed {
		return nil
	}
	tx.closed = true
	err := tx.stx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func (tx *sqliteTx) Size() int64 {
	var pages, pageSize int64
	if err := tx.stx.QueryRow(`PRAGMA page_count`).Scan(&pages); err != nil {
		return 0
	}
	if err := tx.stx.QueryRow(`PRAGMA page_size`).Scan(&pageSize); err != nil {
		return 0
	}
	return pages * pageSize
}

type sqliteBucket struct {
	tx   *sqliteTx
	name string
}

func (b *sqliteBucket) Get(key []byte) []byte {
	st, err := b.tx.stmt(sqlGet)
	if err != nil {
		b.tx.fail(err)
		return nil
	}
	var v []byte
	err = st.QueryRow(b.name, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	} else if err != nil {
		b.tx.fail(err)
		return nil
	}
	if v == nil {
		v = []byte{}
	}
	return v
}

func (b *sqliteBucket) Put(key, value []byte) error {
	if !b.tx.writable {
		return fmt.Errorf("tx not writable")
	}
	if value == nil {
		value = []byte{}
	}
	return b.tx.exec(sqlPut, b.name, key, value)
}

func (b *sqliteBucket) Delete(key []byte) error {
	if !b.tx.writable {
		return fmt.Errorf("tx not writable")
	}
	return b.tx.exec(sqlDelete, b.name, key)
}

func (b *sqliteBucket) Cursor() storageCursor {
	return &sqliteCursor{b: b}
}

func (b *sqliteBucket) KeyCount() int {
	st, err := b.tx.stmt(sqlCount)
	if err != nil {
		b.tx.fail(err)
		return 0
	}
	var n int
	if err := st.QueryRow(b.name).Scan(&n); err != nil {
		b.tx.fail(err)
		return 0
	}
	return n
}

// sqliteCursor re-queries relative to the current key on every step.
type sqliteCursor struct {
	b   *sqliteBucket
	cur []byte
	// off is set once the cursor ran past either end.
	off bool
}

func (c *sqliteCursor) move(k, v []byte) ([]byte, []byte) {
	if k == nil {
		c.off = true
		return nil, nil
	}
	c.cur, c.off = k, false
	return k, v
}

func (c *sqliteCursor) First() ([]byte, []byte) {
	return c.move(c.b.tx.queryKV(sqlFirst, c.b.name))
}

func (c *sqliteCursor) Last() ([]byte, []byte) {
	return c.move(c.b.tx.queryKV(sqlLast, c.b.name))
}

func (c *sqliteCursor) Seek(seek []byte) ([]byte, []byte) {
	if seek == nil {
		seek = []byte{}
	}
	return c.move(c.b.tx.queryKV(sqlSeekGE, c.b.name, seek))
}

func (c *sqliteCursor) SeekLast(prefix []byte) ([]byte, []byte) {
	limit := successor(prefix)
	if limit == nil {
		return c.Last()
	}
	return c.move(c.b.tx.queryKV(sqlSeekLT, c.b.name, limit))
}

func (c *sqliteCursor) Next() ([]byte, []byte) {
	if c.cur == nil {
		if c.off {
			return nil, nil
		}
		return c.First()
	}
	if c.off {
		return nil, nil
	}
	return c.move(c.b.tx.queryKV(sqlSeekGT, c.b.name, c.cur))
}

func (c *sqliteCursor) Prev() ([]byte, []byte) {
	if c.cur == nil || c.off {
		return nil, nil
	}
	return c.move(c.b.tx.queryKV(sqlSeekLT, c.b.name, c.cur))
}
