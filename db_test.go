package flexilite

import (
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"testing"
)

const personClass = `{
	"properties": {
		"name":  {"rules": {"type": "text", "maxLength": 40}, "index": "indexed"},
		"email": {"rules": {"type": "text"}, "index": "unique"},
		"age":   {"rules": {"type": "integer", "minValue": 0}}
	}
}`

func init() {
	slog.SetLogLoggerLevel(slog.LevelDebug)
}

func TestOpenBackends(t *testing.T) {
	for _, tt := range []struct {
		kind string
		open func(t testing.TB) *Conn
	}{
		{"bolt", setup},
		{"sqlite", setupSQLite},
		{"memory", setupMemory},
	} {
		t.Run(tt.kind, func(t *testing.T) {
			c := tt.open(t)
			if a, e := c.DB().StorageKind(), tt.kind; a != e {
				t.Fatalf("StorageKind = %q, wanted %q", a, e)
			}

			must(c.CreateClass("Person", []byte(personClass)))
			id := must(c.InsertInto("Person", map[string]any{"name": "Ann", "email": "ann@example.com", "age": 31}))
			od := must(c.Get(id))
			deepEqual(t, od.Map(), map[string]any{"name": "Ann", "email": "ann@example.com", "age": int64(31)})

			ensure(c.Update(id, 0, nil, map[string]any{"age": nil}))
			od = must(c.Get(id))
			deepEqual(t, od.Map(), map[string]any{"name": "Ann", "email": "ann@example.com"})

			ensure(c.Delete(id))
			_, err := c.Get(id)
			isKind(t, err, ErrNotFound)
		})
	}
}

func TestReopen(t *testing.T) {
	path := tempFile(t)
	db := must(Open(path, Options{IsTesting: true}))
	c := db.Connect()
	must(c.CreateClass("Person", []byte(personClass)))
	id := must(c.InsertInto("Person", map[string]any{"name": "Ann"}))
	ensure(db.Close())

	db = must(Open(path, Options{IsTesting: true}))
	defer db.Close()
	c = db.Connect()
	deepEqual(t, must(c.ClassNames()), []string{"Person"})
	deepEqual(t, must(c.Get(id)).Map(), map[string]any{"name": "Ann"})

	id2 := must(c.InsertInto("Person", map[string]any{"name": "Bob"}))
	if id2 <= id {
		t.Fatalf("new id %d after %d, wanted ids to keep growing", id2, id)
	}
}

func TestWriteRollsBackOnError(t *testing.T) {
	c := setup(t)
	must(c.CreateClass("Person", []byte(personClass)))

	sentinel := errors.New("stop")
	err := c.Write(func(tx *Tx) error {
		cd := must(tx.ClassByName("Person"))
		must(tx.insertObject(cd, 0, nil, map[string]any{"name": "Ghost"}))
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Write = %v, wanted %v", err, sentinel)
	}
	deepEqual(t, must(c.ClassStats("Person")).Objects, 0)
}

func TestDescribeOpenTxns(t *testing.T) {
	c := setup(t)
	if a, e := c.DB().DescribeOpenTxns(), "NO OPEN TRANSACTIONS"; a != e {
		t.Fatalf("DescribeOpenTxns = %q, wanted %q", a, e)
	}
	ensure(c.Read(func(tx *Tx) error {
		s := c.DB().DescribeOpenTxns()
		if !strings.HasPrefix(s, "1 OPEN TRANSACTIONS") {
			t.Errorf("DescribeOpenTxns = %q, wanted one open transaction", s)
		}
		return nil
	}))
}

func tempFile(t testing.TB) string {
	t.Helper()
	f := must(os.CreateTemp("", "flexilite_test_*.db"))
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })
	return f.Name()
}

func setup(t testing.TB) *Conn {
	t.Helper()
	path := tempFile(t)
	t.Logf("DB: %s", path)
	db := must(Open(path, Options{IsTesting: true}))
	t.Cleanup(func() { db.Close() })
	return db.Connect()
}

func setupSQLite(t testing.TB) *Conn {
	t.Helper()
	db := must(OpenSQLite(tempFile(t), Options{IsTesting: true}))
	t.Cleanup(func() { db.Close() })
	return db.Connect()
}

func setupMemory(t testing.TB) *Conn {
	t.Helper()
	db := must(OpenMemory(Options{IsTesting: true}))
	t.Cleanup(func() { db.Close() })
	return db.Connect()
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func isempty[T any, S ~[]T](t testing.TB, a S) {
	if len(a) > 0 {
		t.Helper()
		t.Errorf("** got %v, wanted empty slice", a)
	}
}

func isnil[T any, P ~*T](t testing.TB, a P) {
	if a != nil {
		t.Helper()
		t.Errorf("** got &%v, wanted nil", *a)
	}
}

func isKind(t testing.TB, err, kind error) {
	if !errors.Is(err, kind) {
		t.Helper()
		t.Fatalf("** got error %v, wanted %v", err, kind)
	}
}

func x(data string) []byte {
	data = strings.ReplaceAll(data, " ", "")
	return must(hex.DecodeString(data))
}
