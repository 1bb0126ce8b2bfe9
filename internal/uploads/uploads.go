// Package uploads stores submitted message files and prunes old ones.
package uploads

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

var (
	unsafeChars    = regexp.MustCompile(`[^A-Za-z0-9_.-]`)
	windowsDevices = map[string]bool{
		"CON": true, "AUX": true, "COM1": true, "COM2": true, "COM3": true, "COM4": true,
		"LPT1": true, "LPT2": true, "LPT3": true, "PRN": true, "NUL": true,
	}
)

// ErrNoName is returned by Save when the sanitized name is empty.
var ErrNoName = errors.New("uploads: filename is empty after sanitizing")

// SanitizeFilename returns a flat ASCII name safe to join with a directory.
// Accents are folded, path separators become spaces, whitespace runs become
// one underscore and anything outside [A-Za-z0-9_.-] is dropped. The result
// may be empty.
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range norm.NFKD.String(name) {
		if r < 0x80 {
			b.WriteRune(r)
		}
	}
	s := b.String()
	s = strings.NewReplacer("/", " ", `\`, " ").Replace(s)
	s = strings.Join(strings.Fields(s), "_")
	s = unsafeChars.ReplaceAllString(s, "")
	s = strings.Trim(s, "._")

	if s != "" {
		stem, _, _ := strings.Cut(s, ".")
		if windowsDevices[strings.ToUpper(stem)] {
			s = "_" + s
		}
	}
	return s
}

// Allowed reports whether name has a .txt extension, in any case.
func Allowed(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".txt")
}

// Save writes r to dir under the sanitized name and returns the full path.
// An existing file with the same name is overwritten.
func Save(dir, name string, r io.Reader) (string, error) {
	safe := SanitizeFilename(name)
	if safe == "" {
		return "", ErrNoName
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("uploads: create dir: %w", err)
	}
	path := filepath.Join(dir, safe)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("uploads: open: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("uploads: write: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("uploads: close: %w", err)
	}
	return path, nil
}

// Prune removes regular files in dir last modified more than maxAge before
// now. A missing dir is not an error. maxAge <= 0 disables pruning.
func Prune(dir string, maxAge time.Duration, now time.Time) (removed int, err error) {
	if maxAge <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	cutoff := now.Add(-maxAge)
	var errs []error
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, ierr := e.Info()
		if ierr != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if rerr := os.Remove(filepath.Join(dir, e.Name())); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			errs = append(errs, rerr)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
