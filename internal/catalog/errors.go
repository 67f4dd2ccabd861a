package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrCatalogUnavailable means none of the candidate paths could be read
	// (or written, for exports)
	ErrCatalogUnavailable = errors.New("catalog unavailable")

	// ErrPartialWrite means an export left some rows out of the file
	ErrPartialWrite = errors.New("partial write")

	// ErrCountMismatch means the store does not hold as many entries as the
	// file that was just imported
	ErrCountMismatch = errors.New("count mismatch")
)

// UnavailableError lists the paths that were tried
type UnavailableError struct {
	Op    string
	Paths []string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("no %s catalog file among %v", e.Op, e.Paths)
}

// Is implements errors.Is support
func (e *UnavailableError) Is(target error) bool {
	return target == ErrCatalogUnavailable
}

// CountMismatchError reports the store and file counts after an import
type CountMismatchError struct {
	OnStore int
	InFile  int
}

func (e *CountMismatchError) Error() string {
	return fmt.Sprintf("%d entries on store but %d in file", e.OnStore, e.InFile)
}

// Is implements errors.Is support
func (e *CountMismatchError) Is(target error) bool {
	return target == ErrCountMismatch
}

// PartialWriteError reports how many rows an export could not write
type PartialWriteError struct {
	Path    string
	Failed  int
	Written int
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("%d rows not written to %s (%d written)", e.Failed, e.Path, e.Written)
}

// Is implements errors.Is support
func (e *PartialWriteError) Is(target error) bool {
	return target == ErrPartialWrite
}
