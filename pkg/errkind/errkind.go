// Package errkind attaches an operation name and an error kind to errors so
// that transports can map failures without string matching.
package errkind

import (
	"errors"
	"strings"
)

// Error carries the failing operation, the kind sentinel, and the cause.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Kind != nil && e.Err != nil:
		b.WriteString(e.Kind.Error())
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	case e.Kind != nil:
		b.WriteString(e.Kind.Error())
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// New returns an error of the given kind with no further cause.
func New(op string, kind error) error {
	return &Error{Op: op, Kind: kind}
}

// Wrap annotates err with op and kind. A nil err yields nil.
func Wrap(op string, kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// Op annotates err with op only, keeping whatever kind it already carries.
func Op(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// KindOf returns the outermost kind attached to err, or nil.
func KindOf(err error) error {
	var e *Error
	for errors.As(err, &e) {
		if e.Kind != nil {
			return e.Kind
		}
		err = e.Err
	}
	return nil
}
