package delivery

import (
	"io"
	"os"
	"strings"
)

// LoadMessages reads the message file at path. See ReadMessages.
func LoadMessages(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadMessages(f)
}

// ReadMessages returns the trimmed, non-blank lines of r in order. Any of
// \n, \r\n and \r ends a line. An empty result is not an error here.
func ReadMessages(r io.Reader) ([]string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	text := strings.TrimPrefix(string(b), "\ufeff")
	lines := strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' })

	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out, nil
}
