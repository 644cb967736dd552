package report

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// TimestampLayout suffixes every generated file name.
const TimestampLayout = "20060102_150405"

const maxSuffix = 1000

// CreateFile creates dir/stem.ext exclusively. When the name is taken a
// numeric suffix is appended, so earlier files are never overwritten.
func CreateFile(dir, stem, ext string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("report: create dir: %w", err)
	}
	for i := range maxSuffix {
		name := stem + "." + ext
		if i > 0 {
			name = fmt.Sprintf("%s_%d.%s", stem, i, ext)
		}
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("report: create file: %w", err)
		}
		return f, nil
	}
	return nil, fmt.Errorf("report: create file: no free name for %s.%s", stem, ext)
}

// WriteFile writes content to dir/<prefix>_<timestamp>.<ext> and returns
// the path.
func WriteFile(dir, prefix, ext, content string, now time.Time) (string, error) {
	f, err := CreateFile(dir, prefix+"_"+now.Format(TimestampLayout), ext)
	if err != nil {
		return "", err
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("report: write %s: %w", f.Name(), err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("report: close %s: %w", f.Name(), err)
	}
	return f.Name(), nil
}
