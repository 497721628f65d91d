package build

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFingerprintCollision is returned when a module is re-fingerprinted to a different
// fingerprint that shares the short prefix used in its served file name.
var ErrFingerprintCollision = errors.New("fingerprint collision")

// ConfigError is a malformed config or import map file. Callers log it and fall back to defaults.
type ConfigError struct {
	File string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config file %s: %v", e.File, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// SourceTooLargeError is returned for source files over the size limit.
type SourceTooLargeError struct {
	Path string
	Size int64
}

func (e *SourceTooLargeError) Error() string {
	return fmt.Sprintf("source file %s is too large (%d bytes, the limit is %d bytes)", e.Path, e.Size, maxSourceSize)
}

// FetchError is a failure to obtain the source of a module, from the network or from disk.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: %d", e.URL, e.Status)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// CompileError carries the diagnostics reported by the compile function.
type CompileError struct {
	ID          string
	Diagnostics []string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %s: %s", e.ID, strings.Join(e.Diagnostics, "; "))
}
