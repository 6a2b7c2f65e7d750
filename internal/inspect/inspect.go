// Package inspect analyzes CSV files before they are pushed to remote storage.
//
// The inspector answers two questions about a file: which CSV dialect it uses
// (delimiter, quote and escape characters) and what its header row is. Both
// answers are derived from a bounded prefix of the file, so inspection stays
// cheap even for multi-gigabyte exports.
//
// Inspection is side-effect free and safe to run concurrently for different
// files.
package inspect

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"
)

// SampleSize is how many bytes of the file are read for dialect detection.
const SampleSize = 1 << 20

// DefaultDelimiters are the candidate delimiters tried during detection.
var DefaultDelimiters = []rune{',', ';', '\t'}

// Dialect describes how a CSV file is framed.
type Dialect struct {
	Delimiter rune
	Quote     rune
	Escape    rune
}

// DefaultDialect returns the dialect assumed when detection has nothing to
// disambiguate: comma-separated, double-quoted.
func DefaultDialect() Dialect {
	return Dialect{Delimiter: ',', Quote: '"', Escape: '"'}
}

// HeaderParseError reports that a file's dialect or header could not be
// determined. It is fatal for the file: the sync is skipped until the file
// changes again.
type HeaderParseError struct {
	Path   string
	Reason string
}

func (e *HeaderParseError) Error() string {
	return fmt.Sprintf("cannot parse CSV header of %s: %s", e.Path, e.Reason)
}

// IsHeaderParseError reports whether err is (or wraps) a HeaderParseError.
func IsHeaderParseError(err error) bool {
	var hpe *HeaderParseError
	return errors.As(err, &hpe)
}

// File reads the header of the CSV file at path, detecting its dialect from
// the candidate delimiters. An empty candidates slice falls back to
// DefaultDelimiters.
func File(path string, candidates []rune) (Dialect, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return Dialect{}, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sample := make([]byte, SampleSize)
	n, err := io.ReadFull(f, sample)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return Dialect{}, nil, fmt.Errorf("read %s: %w", path, err)
	}
	trimmed := sample[:n]
	if n == SampleSize {
		// A full window may end mid-rune; validating the cut bytes would
		// reject a perfectly valid file.
		trimmed = trimPartialRune(trimmed)
	}
	return Bytes(path, trimmed, candidates)
}

// trimPartialRune drops a trailing incomplete UTF-8 sequence left by a
// bounded read cutting through a multi-byte rune.
func trimPartialRune(b []byte) []byte {
	for i := 1; i <= utf8.UTFMax && i <= len(b); i++ {
		if !utf8.RuneStart(b[len(b)-i]) {
			continue
		}
		if r, _ := utf8.DecodeRune(b[len(b)-i:]); r == utf8.RuneError {
			return b[:len(b)-i]
		}
		return b
	}
	return b
}

// Bytes detects the dialect of sample and extracts the header row. The path
// is used only for error reporting.
func Bytes(path string, sample []byte, candidates []rune) (Dialect, []string, error) {
	if len(candidates) == 0 {
		candidates = DefaultDelimiters
	}

	if len(bytes.TrimSpace(sample)) == 0 {
		return Dialect{}, nil, &HeaderParseError{Path: path, Reason: "file is empty"}
	}
	if !utf8.Valid(sample) {
		return Dialect{}, nil, &HeaderParseError{Path: path, Reason: "content is not valid UTF-8"}
	}

	dialect, err := detect(path, sample, candidates)
	if err != nil {
		return Dialect{}, nil, err
	}

	header, err := readHeader(path, sample, dialect)
	if err != nil {
		return Dialect{}, nil, err
	}
	return dialect, header, nil
}

// detect scores each candidate delimiter by parsing the sample rows with it.
// A delimiter is plausible when it yields more than one column and every
// sampled row has the same column count. Ties between plausible delimiters go
// to the one producing the most columns; if no candidate splits the header
// into multiple columns, detection fails rather than guessing a single-column
// table.
func detect(path string, sample []byte, candidates []rune) (Dialect, error) {
	best := Dialect{}
	bestCols := 0

	for _, delim := range candidates {
		cols, ok := score(sample, delim)
		if !ok || cols < 2 {
			continue
		}
		if cols > bestCols {
			bestCols = cols
			best = Dialect{Delimiter: delim, Quote: '"', Escape: '"'}
		}
	}

	if bestCols == 0 {
		return Dialect{}, &HeaderParseError{
			Path:   path,
			Reason: fmt.Sprintf("no candidate delimiter out of %q yields a multi-column header", string(candidates)),
		}
	}
	return best, nil
}

// score parses up to 20 sample rows with the given delimiter and returns the
// consistent column count, or ok=false when rows disagree or do not parse.
func score(sample []byte, delim rune) (cols int, ok bool) {
	r := csv.NewReader(bytes.NewReader(sample))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	for i := 0; i < 20; i++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// The sample may end mid-record; a parse error past the
			// first row does not disqualify the delimiter.
			if i == 0 {
				return 0, false
			}
			break
		}
		if i == 0 {
			cols = len(rec)
			continue
		}
		if len(rec) != cols {
			return 0, false
		}
	}
	return cols, cols > 0
}

// readHeader parses the first record of sample with the detected dialect and
// returns the trimmed column names.
func readHeader(path string, sample []byte, dialect Dialect) ([]string, error) {
	r := csv.NewReader(bytes.NewReader(sample))
	r.Comma = dialect.Delimiter
	r.FieldsPerRecord = -1

	rec, err := r.Read()
	if err != nil {
		return nil, &HeaderParseError{Path: path, Reason: fmt.Sprintf("reading first row: %v", err)}
	}

	header := make([]string, len(rec))
	for i, field := range rec {
		name := strings.TrimSpace(field)
		if name == "" {
			return nil, &HeaderParseError{Path: path, Reason: fmt.Sprintf("column %d has an empty name", i+1)}
		}
		header[i] = name
	}
	return header, nil
}

// HeadersEqual reports whether two headers match element-wise. Column order
// matters: a remote table's column order is fixed at creation time, so a
// reordered local header is a mismatch, not an equivalence.
func HeadersEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
