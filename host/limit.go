package host

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// DefaultMaxModuleSize caps module files read by Open.
const DefaultMaxModuleSize int64 = 64 << 20

// limitedReader fails as soon as more than limit bytes have been read.
type limitedReader struct {
	r     io.Reader
	limit int64
	read  int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.read > l.limit {
		return 0, &SizeLimitExceededError{Limit: l.limit, Read: l.read}
	}

	// One byte past the limit is enough to detect overflow.
	if remaining := l.limit + 1 - l.read; int64(len(p)) > remaining {
		p = p[:remaining]
	}

	n, err := l.r.Read(p)
	l.read += int64(n)
	if l.read > l.limit {
		return n, &SizeLimitExceededError{Limit: l.limit, Read: l.read}
	}
	return n, err
}

// SizeLimitExceededError is returned when a module file exceeds the limit.
type SizeLimitExceededError struct {
	Path  string
	Limit int64
	Read  int64
}

func (e *SizeLimitExceededError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("size limit exceeded: read %s, limit is %s", formatSize(e.Read), formatSize(e.Limit))
	}
	return fmt.Sprintf("module %s exceeds size limit of %s", e.Path, formatSize(e.Limit))
}

// IsSizeLimitExceededError returns true if the error is a SizeLimitExceededError.
func IsSizeLimitExceededError(err error) bool {
	var sizeLimitErr *SizeLimitExceededError
	return errors.As(err, &sizeLimitErr)
}

// readModule reads path, refusing files larger than limit bytes.
func readModule(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path) // #nosec G304 -- path was admitted by policy
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(&limitedReader{r: f, limit: limit})
	if err != nil {
		var sizeErr *SizeLimitExceededError
		if errors.As(err, &sizeErr) {
			sizeErr.Path = path
		}
		return nil, err
	}
	return data, nil
}

func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
