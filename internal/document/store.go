package document

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	docPrefix   = "doc_"
	docSuffix   = ".txt"
	stampFormat = "20060102_150405"

	lastDocFile = ".last_doc"
	layoutFile  = ".layout"
)

// Store manages the documents directory: timestamped plain-text files,
// the last-document pointer used to reopen on startup, and the keyboard
// layout preference.
type Store struct {
	dir string
}

// NewStore ensures dir exists and returns a store over it.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("document: create docs dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the documents directory.
func (s *Store) Dir() string { return s.dir }

// Create returns a new empty document named after now. The file is not
// written until the first save.
func (s *Store) Create(now time.Time) *Document {
	name := docPrefix + now.Format(stampFormat) + docSuffix
	path := filepath.Join(s.dir, name)
	for i := 1; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		// Same-second creation: bump the stamp until it is free.
		name = docPrefix + now.Add(time.Duration(i)*time.Second).Format(stampFormat) + docSuffix
		path = filepath.Join(s.dir, name)
	}
	return New(path, now)
}

// Save writes d atomically (temp file + rename, 0600) and updates the
// last-document pointer. On success the document is marked clean.
func (s *Store) Save(d *Document, now time.Time) error {
	tmp := d.Path() + ".tmp"
	if err := os.WriteFile(tmp, []byte(d.String()), 0o600); err != nil {
		return fmt.Errorf("document: write %s: %w", d.Filename(), err)
	}
	if err := os.Rename(tmp, d.Path()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("document: rename %s: %w", d.Filename(), err)
	}
	d.MarkSaved(now)
	return s.setLast(d.Filename())
}

// Open loads the named document with the cursor at the end of the text.
func (s *Store) Open(name string) (*Document, error) {
	name = filepath.Base(name)
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("document: open %s: %w", name, err)
	}
	d := FromText(path, string(data), createdAtFor(path, name))
	if err := s.setLast(name); err != nil {
		return nil, err
	}
	return d, nil
}

// OpenLast reopens the document the pointer file names. ok is false
// when there is no pointer or the file it names is gone.
func (s *Store) OpenLast() (d *Document, ok bool, err error) {
	data, err := os.ReadFile(filepath.Join(s.dir, lastDocFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("document: read last-doc pointer: %w", err)
	}
	name := strings.TrimSpace(string(data))
	if name == "" {
		return nil, false, nil
	}
	d, err = s.Open(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return d, true, nil
}

// List returns the document filenames in chronological (name) order.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("document: list docs dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		n := e.Name()
		if !e.IsDir() && strings.HasPrefix(n, docPrefix) && strings.HasSuffix(n, docSuffix) {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Neighbor returns the document delta positions away from current in
// the sorted list. ok is false when the list has no other document or
// the move would run past the first or last one.
func (s *Store) Neighbor(current string, delta int) (string, bool) {
	names, err := s.List()
	if err != nil || len(names) < 2 {
		return "", false
	}
	idx := sort.SearchStrings(names, current)
	if idx >= len(names) || names[idx] != current {
		return names[0], true
	}
	next := idx + delta
	if next < 0 || next >= len(names) {
		return "", false
	}
	return names[next], true
}

// KeyboardLayout returns the persisted layout preference, or "" when
// none has been chosen.
func (s *Store) KeyboardLayout() string {
	data, err := os.ReadFile(filepath.Join(s.dir, layoutFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// SetKeyboardLayout persists the layout preference.
func (s *Store) SetKeyboardLayout(name string) error {
	path := filepath.Join(s.dir, layoutFile)
	if err := os.WriteFile(path, []byte(name+"\n"), 0o600); err != nil {
		return fmt.Errorf("document: write layout preference: %w", err)
	}
	return nil
}

func (s *Store) setLast(name string) error {
	path := filepath.Join(s.dir, lastDocFile)
	if err := os.WriteFile(path, []byte(name+"\n"), 0o600); err != nil {
		return fmt.Errorf("document: write last-doc pointer: %w", err)
	}
	return nil
}

// createdAtFor recovers the creation time from the filename stamp,
// falling back to the file modification time.
func createdAtFor(path, name string) time.Time {
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, docPrefix), docSuffix)
	if t, err := time.ParseInLocation(stampFormat, stamp, time.Local); err == nil {
		return t
	}
	if fi, err := os.Stat(path); err == nil {
		return fi.ModTime()
	}
	return time.Now()
}
