package flexilite

import (
	"log/slog"
)

// Conn is a single-goroutine session. It owns a class registry and a plan
// cache, both dropped whenever another connection changes the schema.
type Conn struct {
	db       *DB
	logger   *slog.Logger
	registry *ClassRegistry
	plans    *planCache

	// tx is the transaction currently running on this connection; nested
	// Read/Write calls join it.
	tx *Tx
}

func (c *Conn) DB() *DB { return c.db }

func (c *Conn) Registry() *ClassRegistry { return c.registry }

// Read runs f in a read transaction, or in the active transaction if any.
func (c *Conn) Read(f func(tx *Tx) error) error {
	if c.tx != nil {
		return f(c.tx)
	}
	tx, err := c.begin(false)
	if err != nil {
		return err
	}
	defer tx.Close()
	return asError(safelyCall(f, tx))
}

// Write runs f in a write transaction and commits it unless f fails. Inside
// an active write transaction f simply joins it.
func (c *Conn) Write(f func(tx *Tx) error) error {
	if c.tx != nil {
		if !c.tx.writable {
			return ruleErrf("cannot write inside a read transaction")
		}
		return f(c.tx)
	}
	tx, err := c.begin(true)
	if err != nil {
		return err
	}
	defer tx.Close()
	if err := safelyCall(f, tx); err != nil {
		return asError(err)
	}
	return tx.Commit()
}

func (c *Conn) begin(writable bool) (*Tx, error) {
	stx, err := c.db.st.BeginTx(writable)
	if err != nil {
		return nil, storageErrf(err, "begin transaction")
	}
	tx := c.db.newTx(c, stx, writable)
	c.tx = tx
	if err := safelyCall(func(tx *Tx) error {
		tx.checkSchemaVersion()
		return nil
	}, tx); err != nil {
		tx.Close()
		return nil, asError(err)
	}
	return tx, nil
}

// Class returns the current definition of the named class.
func (c *Conn) Class(name string) (*ClassDef, error) {
	var cd *ClassDef
	err := c.Read(func(tx *Tx) error {
		var err error
		cd, err = tx.ClassByName(name)
		return err
	})
	return cd, err
}

// ClassNames lists all classes.
func (c *Conn) ClassNames() ([]string, error) {
	var names []string
	err := c.Read(func(tx *Tx) error {
		names = tx.classNames()
		return nil
	})
	return names, err
}
