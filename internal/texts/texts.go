// Package texts loads pools of reference texts.
package texts

import (
	"bufio"
	"errors"
	"os"
	"strings"
)

// ErrEmpty is returned for a file without any reference text.
var ErrEmpty = errors.New("reference text list is empty")

var defaultPool = []string{
	"This is the sample sentence for pronunciation assessment.",
	"The quick brown fox jumps over the lazy dog.",
	"Please call Stella, ask her to bring these things with her from the store.",
}

// Default returns the built-in reference texts.
func Default() []string {
	return append([]string(nil), defaultPool...)
}

// Load reads one reference text per line. Blank lines and lines starting with
// '#' are skipped; inner whitespace is collapsed.
func Load(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			// Best-effort close for read-only text list.
			_ = cerr
		}
	}()

	var texts []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.Join(strings.Fields(scanner.Text()), " ")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		texts = append(texts, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, ErrEmpty
	}
	return texts, nil
}

// LoadOrDefault loads path, or returns the built-in pool when path is empty.
func LoadOrDefault(path string) ([]string, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}
