package engine

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
)

// maxLineBytes bounds a single physical line during scanning. Lines beyond
// this are a scan error rather than silent truncation.
const maxLineBytes = 4 << 20

// fileScan is the result of a single pass over a file's physical lines.
type fileScan struct {
	// Total is the number of physical lines, including the header line
	// when the file has one.
	Total int64
	// PrefixHash is the SHA-256 over the first boundary lines, or the
	// empty string when the file holds fewer lines than the boundary.
	PrefixHash string
	// FullHash is the SHA-256 over every line.
	FullHash string
	// Tail holds the lines after the boundary.
	Tail []string
}

// scanLines reads path once, hashing the first boundary lines and collecting
// everything after them. A boundary of zero hashes nothing and returns all
// lines in Tail.
func scanLines(path string, boundary int64) (*fileScan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	defer f.Close()

	prefix := sha256.New()
	full := sha256.New()
	res := &fileScan{}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := sc.Bytes()
		full.Write(line)
		full.Write([]byte{'\n'})
		if res.Total < boundary {
			prefix.Write(line)
			prefix.Write([]byte{'\n'})
		} else {
			res.Tail = append(res.Tail, string(line))
		}
		res.Total++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	if res.Total >= boundary {
		res.PrefixHash = hex.EncodeToString(prefix.Sum(nil))
	}
	res.FullHash = hex.EncodeToString(full.Sum(nil))
	return res, nil
}

// countAndHash returns the line count and full-content line hash of path
// without retaining the lines themselves.
func countAndHash(path string) (int64, string, error) {
	res, err := scanLines(path, 1<<62)
	if err != nil {
		return 0, "", err
	}
	return res.Total, res.FullHash, nil
}
