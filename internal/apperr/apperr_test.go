package apperr

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{Schema, "SchemaError"},
		{MissingArtifact, "MissingArtifactError"},
		{MalformedConfig, "MalformedConfigError"},
		{EmptyPartition, "EmptyPartitionError"},
		{Training, "TrainingError"},
		{Storage, "StorageError"},
		{Prediction, "PredictionError"},
		{Kind(99), "UnknownError"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestKindOf_ThroughWrapping(t *testing.T) {
	base := New(EmptyPartition, "no training rows")
	wrapped := fmt.Errorf("splitting dataset: %w", base)

	if got := KindOf(wrapped); got != EmptyPartition {
		t.Errorf("KindOf = %v, want %v", got, EmptyPartition)
	}
	if !errors.Is(wrapped, &Error{Kind: EmptyPartition}) {
		t.Error("errors.Is should match on kind")
	}
	if errors.Is(wrapped, &Error{Kind: Schema}) {
		t.Error("errors.Is should not match a different kind")
	}
}

func TestWrap_PreservesCause(t *testing.T) {
	err := Wrap(Storage, fs.ErrNotExist, "reading %s", "model.gob")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Error("wrapped cause should be reachable")
	}
	if got := err.Error(); got != "reading model.gob: file does not exist" {
		t.Errorf("Error() = %q", got)
	}
	if Wrap(Storage, nil, "x") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestFailFast(t *testing.T) {
	for _, k := range []Kind{Schema, MissingArtifact, MalformedConfig, EmptyPartition} {
		if !k.FailFast() {
			t.Errorf("%v should be fail-fast", k)
		}
	}
	for _, k := range []Kind{Training, Storage, Prediction, Unknown} {
		if k.FailFast() {
			t.Errorf("%v should not be fail-fast", k)
		}
	}
}

func TestKindOf_Unclassified(t *testing.T) {
	if KindOf(errors.New("boom")) != Unknown {
		t.Error("plain errors should be Unknown")
	}
	if Is(nil, Schema) {
		t.Error("nil error has no kind")
	}
}
