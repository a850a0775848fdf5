// Package library maps the Grade, Quarter, Subject, Week hierarchy onto the
// folders that hold the slide decks and documents.
package library

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrFileNotFound is returned when a selected file or its folder is missing
	ErrFileNotFound = errors.New("file not found")
	// ErrInvalidLocation is returned for a location outside the catalog
	ErrInvalidLocation = errors.New("invalid library location")
)

// SelectableExtensions are the file types that are listed and can be rendered
var SelectableExtensions = []string{".pptx", ".pdf"}

// Location identifies one week folder of the library
type Location struct {
	Grade   int    `json:"grade"`
	Quarter int    `json:"quarter"`
	Subject string `json:"subject"`
	Week    int    `json:"week"`
}

// Dir returns the folder of the location below base.
// The grade only selects the subject list, it is not part of the path.
func (l Location) Dir(base string) string {
	return filepath.Join(base,
		fmt.Sprintf("Quarter %d", l.Quarter),
		fmt.Sprintf("Subject %s", l.Subject),
		fmt.Sprintf("Week %d", l.Week))
}

// Title is the breadcrumb shown above a file list
func (l Location) Title() string {
	quarter := fmt.Sprintf("%d", l.Quarter)
	if l.Quarter >= 1 && l.Quarter <= len(QuarterNames) {
		quarter = QuarterNames[l.Quarter-1]
	}
	return fmt.Sprintf("Grade %d - %s Quarter - %s - Week %d", l.Grade, quarter, l.Subject, l.Week)
}

// ShortTitle truncates title to maxLength runes, ending with "..." when cut
func ShortTitle(title string, maxLength int) string {
	runes := []rune(title)
	if maxLength <= 3 || len(runes) <= maxLength {
		return title
	}
	return string(runes[:maxLength-3]) + "..."
}

// IsSelectable reports whether the file name has a renderable extension
func IsSelectable(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range SelectableExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// Library is a catalog rooted at a folder on disk
type Library struct {
	Base    string
	Catalog *Catalog
}

// New creates a library rooted at base
func New(base string, catalog *Catalog) *Library {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Library{Base: base, Catalog: catalog}
}

// Validate checks the location against the catalog
func (lib *Library) Validate(loc Location) error {
	if loc.Quarter < 1 || loc.Quarter > 4 {
		return fmt.Errorf("%w: quarter %d", ErrInvalidLocation, loc.Quarter)
	}
	if loc.Week < 1 || loc.Week > lib.Catalog.Weeks {
		return fmt.Errorf("%w: week %d", ErrInvalidLocation, loc.Week)
	}
	if _, err := lib.Catalog.Subjects(loc.Grade, loc.Quarter); err != nil {
		return err
	}
	if !lib.Catalog.HasSubject(loc.Grade, loc.Quarter, loc.Subject) {
		return fmt.Errorf("%w: subject %q not taught in grade %d quarter %d", ErrInvalidLocation, loc.Subject, loc.Grade, loc.Quarter)
	}
	return nil
}

// ListFiles returns the selectable files of a location, sorted by name.
// A missing folder gives an empty list.
func (lib *Library) ListFiles(loc Location) ([]string, error) {
	if err := lib.Validate(loc); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(loc.Dir(lib.Base))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}
	files := []string{}
	for _, entry := range entries {
		if entry.IsDir() || !IsSelectable(entry.Name()) {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	return files, nil
}

// Resolve returns the absolute path of fileName in loc, or ErrFileNotFound
func (lib *Library) Resolve(loc Location, fileName string) (string, error) {
	if err := lib.Validate(loc); err != nil {
		return "", err
	}
	if fileName == "" || fileName != filepath.Base(fileName) || fileName == ".." {
		return "", fmt.Errorf("%w: invalid file name %q", ErrFileNotFound, fileName)
	}
	path := filepath.Join(loc.Dir(lib.Base), fileName)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	return path, nil
}
