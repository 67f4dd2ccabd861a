// Package catalog keeps the editable catalog file and the catalog store in
// step.
//
// On import the file is the source of truth and its rows are appended to the
// store. On export the store side is the source of truth and the file is
// overwritten with a canonical rendering. Every mutating operation holds the
// synchronizer's lock, so at most one synchronization is in flight.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/pbaille/dramabot/internal/catalogfile"
	"github.com/pbaille/dramabot/internal/domain"
	"github.com/pbaille/dramabot/internal/logging"
)

// DefaultPaths are the candidate catalog locations, tried in order
var DefaultPaths = []string{"./config/catalog.csv", "./catalog.csv"}

// Store is the durable side of the catalog
type Store interface {
	ListAll() ([]domain.CatalogEntry, error)
	Insert(entry domain.CatalogEntry) (string, error)
	Count() (int, error)
	Flush() error
}

// Resetter is a Store that can be emptied
type Resetter interface {
	Reset() error
}

// Synchronizer imports the catalog file into the store and exports it back
type Synchronizer struct {
	mu     sync.Mutex
	store  Store
	fs     afero.Fs
	paths  []string
	logger *zerolog.Logger
}

// NewSynchronizer creates a Synchronizer. paths is the ordered list of
// candidate catalog files; the first one is the canonical location that
// external updates are written to.
func NewSynchronizer(store Store, fs afero.Fs, paths []string, logger *zerolog.Logger) *Synchronizer {
	if len(paths) == 0 {
		paths = DefaultPaths
	}
	return &Synchronizer{
		store:  store,
		fs:     fs,
		paths:  append([]string(nil), paths...),
		logger: logging.OrNop(logger),
	}
}

// Paths returns the candidate paths in the order they are tried
func (s *Synchronizer) Paths() []string {
	return append([]string(nil), s.paths...)
}

// ImportResult describes one import
type ImportResult struct {
	Path       string
	Imported   []domain.CatalogEntry
	Skipped    []*catalogfile.RowError
	StoreCount int
	Warning    string
}

// Mismatch returns a *CountMismatchError when the store count differs from
// the number of imported entries, nil otherwise
func (r *ImportResult) Mismatch() error {
	if r == nil || r.StoreCount == len(r.Imported) {
		return nil
	}
	return &CountMismatchError{OnStore: r.StoreCount, InFile: len(r.Imported)}
}

// ExportResult describes one export. OK is false when the file could not be
// written at all or some rows were left out.
type ExportResult struct {
	Path    string
	Written int
	Failed  []*catalogfile.RowError
	OK      bool
}

// InitResult combines the import and the export of InitializeFromFile
type InitResult struct {
	Import *ImportResult
	Export *ExportResult
	OK     bool
}

// LocateCatalogFile returns the first readable candidate path
func (s *Synchronizer) LocateCatalogFile() (string, error) {
	for _, p := range s.paths {
		if s.isReadable(p) {
			return p, nil
		}
	}
	return "", &UnavailableError{Op: "readable", Paths: s.Paths()}
}

func (s *Synchronizer) locateWritable() (string, error) {
	for _, p := range s.paths {
		if s.isWritable(p) {
			return p, nil
		}
	}
	return "", &UnavailableError{Op: "writable", Paths: s.Paths()}
}

func (s *Synchronizer) isReadable(path string) bool {
	f, err := s.fs.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	info, err := f.Stat()
	return err == nil && !info.IsDir()
}

func (s *Synchronizer) isWritable(path string) bool {
	info, err := s.fs.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	f, err := s.fs.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// Import appends every row of the catalog file to the store. A count
// mismatch afterwards is reported in the result, not as an error.
func (s *Synchronizer) Import() (*ImportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.importFile()
}

func (s *Synchronizer) importFile() (*ImportResult, error) {
	path, err := s.LocateCatalogFile()
	if err != nil {
		s.logger.Error().Err(err).Msg("catalog file could not be read")
		return nil, err
	}

	content, err := afero.ReadFile(s.fs, path)
	if err != nil {
		s.logger.Error().Err(err).Str("path", path).Msg("catalog file could not be read")
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}

	entries, skipped := catalogfile.Decode(content)
	for _, rowErr := range skipped {
		s.logger.Warn().
			Str("path", path).
			Int("line", rowErr.Line).
			Str("reason", rowErr.Reason).
			Msg("skipped malformed catalog row")
	}

	res := &ImportResult{Path: path, Imported: entries, Skipped: skipped}

	for _, e := range entries {
		if _, err := s.store.Insert(e); err != nil {
			return res, fmt.Errorf("import %s: %w", path, err)
		}
	}
	if err := s.store.Flush(); err != nil {
		return res, fmt.Errorf("import %s: %w", path, err)
	}

	count, err := s.store.Count()
	if err != nil {
		return res, fmt.Errorf("import %s: %w", path, err)
	}
	res.StoreCount = count

	if mismatch := res.Mismatch(); mismatch != nil {
		res.Warning = mismatch.Error()
		s.logger.Warn().
			Str("path", path).
			Int("store_count", count).
			Int("file_count", len(entries)).
			Msg("catalog count mismatch after import")
	} else {
		s.logger.Info().Str("path", path).Int("count", count).Msg("catalog entries written to store")
	}

	return res, nil
}

// Export overwrites the catalog file with entries. Rows that cannot be
// encoded are left out and make the export fail with ErrPartialWrite; the
// rows that could be encoded are written anyway.
func (s *Synchronizer) Export(entries []domain.CatalogEntry) (*ExportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exportEntries(entries)
}

// ExportStore writes the current store contents to the catalog file
func (s *Synchronizer) ExportStore() (*ExportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.store.ListAll()
	if err != nil {
		return &ExportResult{}, fmt.Errorf("export store: %w", err)
	}
	if len(entries) == 0 {
		s.logger.Error().Msg("no entries found on store")
	}
	return s.exportEntries(entries)
}

func (s *Synchronizer) exportEntries(entries []domain.CatalogEntry) (*ExportResult, error) {
	path, err := s.locateWritable()
	if err != nil {
		s.logger.Error().Err(err).Msg("catalog file could not be written, is it writable?")
		return &ExportResult{}, err
	}

	content, failed := catalogfile.Encode(entries)
	res := &ExportResult{
		Path:    path,
		Written: len(entries) - len(failed),
		Failed:  failed,
	}

	if err := afero.WriteFile(s.fs, path, content, 0o644); err != nil {
		res.Written = 0
		s.logger.Error().Err(err).Str("path", path).Msg("catalog file could not be written")
		return res, fmt.Errorf("write catalog %s: %w", path, err)
	}

	if len(failed) > 0 {
		for _, rowErr := range failed {
			s.logger.Warn().
				Str("path", path).
				Int("row", rowErr.Line).
				Str("reason", rowErr.Reason).
				Msg("catalog row not written")
		}
		return res, &PartialWriteError{Path: path, Failed: len(failed), Written: res.Written}
	}

	res.OK = true
	s.logger.Debug().Str("path", path).Int("rows", res.Written).Msg("catalog file written")
	return res, nil
}

// InitializeFromFile imports the catalog file and writes the imported rows
// back in canonical form. The result is OK when the export succeeded; a
// count mismatch is reported in Import.Warning and does not stop the export.
func (s *Synchronizer) InitializeFromFile() (*InitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialize()
}

// InitializeFresh empties the store and then initializes from the file, so
// that the store holds exactly the file's rows. It is meant for process
// start, where a persistent store still carries the previous run's import.
func (s *Synchronizer) InitializeFresh() (*InitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.store.(Resetter)
	if !ok {
		return &InitResult{}, fmt.Errorf("store cannot be reset")
	}
	// An unreadable file leaves the previous contents in place
	if _, err := s.LocateCatalogFile(); err != nil {
		s.logger.Error().Err(err).Msg("catalog file could not be read")
		return &InitResult{}, err
	}
	if err := r.Reset(); err != nil {
		return &InitResult{}, fmt.Errorf("initialize: %w", err)
	}
	return s.initialize()
}

func (s *Synchronizer) initialize() (*InitResult, error) {
	res := &InitResult{}

	imp, err := s.importFile()
	res.Import = imp
	if err != nil {
		return res, err
	}

	exp, err := s.exportEntries(imp.Imported)
	res.Export = exp
	if err != nil {
		return res, err
	}

	res.OK = true
	return res, nil
}

// UpdateFromExternalSource replaces the canonical catalog file with raw and
// initializes from it. Rows are appended to the store on every call, so the
// same upload twice stores every entry twice.
func (s *Synchronizer) UpdateFromExternalSource(raw []byte) (*InitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	canonical := s.paths[0]
	if err := s.fs.MkdirAll(filepath.Dir(canonical), 0o755); err != nil {
		return &InitResult{}, fmt.Errorf("create catalog dir: %w", err)
	}
	if err := afero.WriteFile(s.fs, canonical, raw, 0o644); err != nil {
		s.logger.Error().Err(err).Str("path", canonical).Msg("uploaded catalog could not be saved")
		return &InitResult{}, fmt.Errorf("save catalog %s: %w", canonical, err)
	}
	s.logger.Info().Str("path", canonical).Int("bytes", len(raw)).Msg("catalog file replaced")

	return s.initialize()
}
