package flexilite

import (
	"bytes"
	"errors"
	"maps"
	"slices"
	"sort"
	"sync"
)

var (
	errMemClosed   = errors.New("memory storage closed")
	errMemReadOnly = errors.New("read-only transaction")
)

// memStorage keeps every bucket as a sorted slice. Committed buckets are
// never modified: a writer copies a bucket the first time it touches it and
// publishes its bucket map on commit. Readers share the committed map.
type memStorage struct {
	mu        sync.Mutex
	writerOut *sync.Cond
	committed map[string]*memBucket
	hasWriter bool
	closed    bool
}

func newMemStorage() storage {
	s := &memStorage{committed: make(map[string]*memBucket)}
	s.writerOut = sync.NewCond(&s.mu)
	return s
}

func (s *memStorage) Kind() string { return "memory" }

func (s *memStorage) BeginTx(writable bool) (storageTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for writable && s.hasWriter && !s.closed {
		s.writerOut.Wait()
	}
	if s.closed {
		return nil, errMemClosed
	}
	tx := &memTx{st: s, writable: writable, buckets: s.committed}
	if writable {
		s.hasWriter = true
		tx.buckets = maps.Clone(s.committed)
		tx.copied = make(map[string]bool)
	}
	return tx, nil
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.committed = nil
	s.writerOut.Broadcast()
	return nil
}

type memTx struct {
	st       *memStorage
	writable bool
	done     bool
	buckets  map[string]*memBucket
	// buckets this writer already copied
	copied map[string]bool
}

func (tx *memTx) Writable() bool { return tx.writable }

func (tx *memTx) Bucket(name string) storageBucket {
	tx.checkOpen()
	if tx.buckets[name] == nil {
		return nil
	}
	return &memBucketHandle{tx: tx, name: name}
}

func (tx *memTx) CreateBucket(name string) (storageBucket, error) {
	tx.checkOpen()
	if !tx.writable {
		return nil, errMemReadOnly
	}
	if tx.buckets[name] == nil {
		tx.buckets[name] = &memBucket{}
		tx.copied[name] = true
	}
	return &memBucketHandle{tx: tx, name: name}, nil
}

func (tx *memTx) checkOpen() {
	if tx.done {
		panic(storageErrf(nil, "memory transaction used after close"))
	}
}

// writableBucket returns the writer's own copy of a bucket.
func (tx *memTx) writableBucket(name string) *memBucket {
	b := tx.buckets[name]
	if !tx.copied[name] {
		b = &memBucket{items: slices.Clone(b.items)}
		tx.buckets[name] = b
		tx.copied[name] = true
	}
	return b
}

func (tx *memTx) Commit() error {
	if tx.done {
		return nil
	}
	if !tx.writable {
		return errMemReadOnly
	}
	tx.st.mu.Lock()
	defer tx.st.mu.Unlock()
	if !tx.st.closed {
		tx.st.committed = tx.buckets
	}
	tx.finish()
	if tx.st.closed {
		return errMemClosed
	}
	return nil
}

func (tx *memTx) Rollback() error {
	tx.st.mu.Lock()
	defer tx.st.mu.Unlock()
	tx.finish()
	return nil
}

// finish must be called with st.mu held.
func (tx *memTx) finish() {
	if tx.done {
		return
	}
	tx.done = true
	if tx.writable {
		tx.st.hasWriter = false
		tx.st.writerOut.Broadcast()
	}
}

func (tx *memTx) Size() int64 {
	var n int64
	for _, b := range tx.buckets {
		for _, kv := range b.items {
			n += int64(len(kv.key) + len(kv.value))
		}
	}
	return n
}

type memKV struct {
	key, value []byte
}

type memBucket struct {
	items []memKV
}

// search returns the position of the first key >= key.
func (b *memBucket) search(key []byte) int {
	return sort.Search(len(b.items), func(i int) bool {
		return bytes.Compare(b.items[i].key, key) >= 0
	})
}

func (b *memBucket) find(key []byte) (int, bool) {
	i := b.search(key)
	return i, i < len(b.items) && bytes.Equal(b.items[i].key, key)
}

type memBucketHandle struct {
	tx   *memTx
	name string
}

func (h *memBucketHandle) current() *memBucket { return h.tx.buckets[h.name] }

func (h *memBucketHandle) Get(key []byte) []byte {
	b := h.current()
	if i, ok := b.find(key); ok {
		return b.items[i].value
	}
	return nil
}

func (h *memBucketHandle) Put(key, value []byte) error {
	if !h.tx.writable {
		return errMemReadOnly
	}
	b := h.tx.writableBucket(h.name)
	kv := memKV{slices.Clone(key), slices.Clone(value)}
	if i, ok := b.find(key); ok {
		b.items[i] = kv
	} else {
		b.items = slices.Insert(b.items, i, kv)
	}
	return nil
}

func (h *memBucketHandle) Delete(key []byte) error {
	if !h.tx.writable {
		return errMemReadOnly
	}
	if _, ok := h.current().find(key); !ok {
		return nil
	}
	b := h.tx.writableBucket(h.name)
	i, _ := b.find(key)
	b.items = slices.Delete(b.items, i, i+1)
	return nil
}

func (h *memBucketHandle) Cursor() storageCursor {
	return &memCursor{b: h.current(), pos: -1}
}

func (h *memBucketHandle) KeyCount() int { return len(h.current().items) }

// memCursor walks the bucket version that was current when it was created.
type memCursor struct {
	b   *memBucket
	pos int
}

func (c *memCursor) moveTo(pos int) ([]byte, []byte) {
	c.pos = pos
	if pos < 0 || pos >= len(c.b.items) {
		return nil, nil
	}
	return c.b.items[pos].key, c.b.items[pos].value
}

func (c *memCursor) First() ([]byte, []byte) { return c.moveTo(0) }

func (c *memCursor) Last() ([]byte, []byte) { return c.moveTo(len(c.b.items) - 1) }

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) { return c.moveTo(c.b.search(seek)) }

func (c *memCursor) SeekLast(prefix []byte) ([]byte, []byte) {
	limit := successor(prefix)
	if limit == nil {
		return c.Last()
	}
	return c.moveTo(c.b.search(limit) - 1)
}

func (c *memCursor) Next() ([]byte, []byte) {
	switch {
	case c.pos < 0:
		return c.First()
	case c.pos >= len(c.b.items):
		return nil, nil
	}
	return c.moveTo(c.pos + 1)
}

func (c *memCursor) Prev() ([]byte, []byte) {
	if c.pos <= 0 {
		c.pos = -1
		return nil, nil
	}
	return c.moveTo(c.pos - 1)
}
