package flexilite

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Error kinds. Every error returned by this package is an *Error whose Kind is
// one of these, so callers can test with errors.Is.
var (
	ErrSchemaSyntax   = errors.New("schema syntax error")
	ErrNameConflict   = errors.New("name conflict")
	ErrNotFound       = errors.New("not found")
	ErrTypeTransition = errors.New("type transition not allowed")
	ErrValidation     = errors.New("validation failed")
	ErrConstraintRule = errors.New("invalid argument")
	ErrStorage        = errors.New("storage error")
)

type Error struct {
	Kind     error
	Class    string
	Property string
	ObjectID int64
	Msg      string
	Err      error
}

func errf(kind error, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: cause, Msg: fmt.Sprintf(format, args...)}
}

func schemaErrf(format string, args ...any) *Error {
	return errf(ErrSchemaSyntax, nil, format, args...)
}

func nameErrf(format string, args ...any) *Error {
	return errf(ErrNameConflict, nil, format, args...)
}

func notFoundErrf(format string, args ...any) *Error {
	return errf(ErrNotFound, nil, format, args...)
}

func validationErrf(format string, args ...any) *Error {
	return errf(ErrValidation, nil, format, args...)
}

func ruleErrf(format string, args ...any) *Error {
	return errf(ErrConstraintRule, nil, format, args...)
}

func storageErrf(cause error, format string, args ...any) *Error {
	return errf(ErrStorage, cause, format, args...)
}

func (e *Error) class(name string) *Error {
	e.Class = name
	return e
}

func (e *Error) prop(name string) *Error {
	e.Property = name
	return e
}

func (e *Error) object(id int64) *Error {
	e.ObjectID = id
	return e
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Error() string {
	var buf strings.Builder
	if e.Class != "" {
		buf.WriteString(e.Class)
	}
	if e.Property != "" {
		buf.WriteByte('.')
		buf.WriteString(e.Property)
	}
	if e.ObjectID != 0 {
		buf.WriteByte('#')
		buf.WriteString(strconv.FormatInt(e.ObjectID, 10))
	}
	if buf.Len() > 0 {
		buf.WriteString(": ")
	}
	if e.Kind != nil {
		buf.WriteString(e.Kind.Error())
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// asError wraps foreign errors (storage, codec) into ErrStorage.
func asError(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return storageErrf(err, "")
}

// DataError reports undecodable bytes read from storage.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	var data string
	if n <= prefixLen+suffixLen {
		data = fmt.Sprintf("(%d) %x", n, e.Data)
	} else {
		data = fmt.Sprintf("(%d) %x...%x", n, e.Data[:prefixLen], e.Data[n-suffixLen:])
	}
	if e.Err != nil {
		return fmt.Sprintf("%s at %d: %v: %s", e.Msg, e.Off, e.Err, data)
	}
	return fmt.Sprintf("%s at %d: %s", e.Msg, e.Off, data)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
