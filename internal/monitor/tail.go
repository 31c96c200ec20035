package monitor

import (
	"io"
	"os"
	"strings"
)

// tailReadLimit bounds how much of the log file is read back for an alert.
const tailReadLimit = 64 * 1024

// tailFile returns the last n lines of the file, best-effort: any failure
// yields nil.
func tailFile(path string, n int) []string {
	if path == "" || n <= 0 {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	if err != nil {
		return nil
	}
	offset := int64(0)
	if fi.Size() > tailReadLimit {
		offset = fi.Size() - tailReadLimit
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil
	}
	b, err := io.ReadAll(f)
	if err != nil {
		return nil
	}
	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	if offset > 0 && len(lines) > 0 {
		// first line is likely cut mid-way
		lines = lines[1:]
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	return lines
}
