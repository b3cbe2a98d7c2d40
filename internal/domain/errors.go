package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ParseError reports a raw record that cannot become a CanonicalEvent.
type ParseError struct {
	Provider string
	Field    string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s record: field %q: %v", e.Provider, e.Field, e.Err)
	}
	return fmt.Sprintf("parse %s record: field %q missing", e.Provider, e.Field)
}

func (e *ParseError) Unwrap() error { return e.Err }

// FetchError reports a provider that could not be read within the retry budget.
type FetchError struct {
	Provider string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: giving up after %d attempt(s): %v", e.Provider, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// SchemaMismatch reports a feature vector that lacks features a bundle needs.
type SchemaMismatch struct {
	Task    Task
	Missing []string
}

func (e *SchemaMismatch) Error() string {
	return fmt.Sprintf("schema mismatch for %s: missing features [%s]", e.Task, strings.Join(e.Missing, ", "))
}

// PersistenceError reports an output write that failed after its retry.
type PersistenceError struct {
	Target string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Target, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// BundleError reports a model bundle that failed to load or validate.
type BundleError struct {
	Task Task
	Err  error
}

func (e *BundleError) Error() string {
	return fmt.Sprintf("load bundle %s: %v", e.Task, e.Err)
}

func (e *BundleError) Unwrap() error { return e.Err }

// ErrNoBundles is returned when no task has a usable model bundle.
var ErrNoBundles = errors.New("no usable model bundles")
