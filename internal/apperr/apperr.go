// Package apperr classifies pipeline failures so transports can map them to
// user-visible responses without string matching.
package apperr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure.
type Kind int

const (
	Unknown Kind = iota
	Schema
	MissingArtifact
	MalformedConfig
	EmptyPartition
	Training
	Storage
	Prediction
)

var kindNames = map[Kind]string{
	Unknown:         "UnknownError",
	Schema:          "SchemaError",
	MissingArtifact: "MissingArtifactError",
	MalformedConfig: "MalformedConfigError",
	EmptyPartition:  "EmptyPartitionError",
	Training:        "TrainingError",
	Storage:         "StorageError",
	Prediction:      "PredictionError",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return kindNames[Unknown]
}

// FailFast reports whether errors of this kind are raised before any
// training work starts.
func (k Kind) FailFast() bool {
	switch k {
	case Schema, MissingArtifact, MalformedConfig, EmptyPartition:
		return true
	}
	return false
}

// Error is a classified error. Err may be nil.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	if e.Msg == "" {
		return e.Err.Error()
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so errors.Is(err,
// &apperr.Error{Kind: apperr.Schema}) works as a kind check.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// New returns a classified error with a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. It returns nil when err is nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
