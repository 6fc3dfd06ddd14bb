package daemon

import (
	"fmt"
	"os"
	"path/filepath"
)

// Log rotation policy, mirroring the original's simple rename-based
// rotation: one canonical log file, renamed to .1, .2, ... when it
// crosses maxBytes, with the oldest backup dropped.
const (
	defaultMaxLogBytes    = 5 * 1024 * 1024
	defaultKeepLogBackups = 5
)

// prepareLogFile ensures path's parent directory exists and rotates
// path if it's already past maxBytes. It reports whether the file
// existed and was non-empty without being rotated, so the caller can
// insert a separator before the new run's first line.
func prepareLogFile(path string, maxBytes int64, keepBackups int) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return false, fmt.Errorf("daemon: create log directory: %w", err)
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if info.Size() == 0 {
		return false, nil
	}
	if info.Size() >= maxBytes {
		return false, rotateLogFile(path, keepBackups)
	}
	return true, nil
}

func rotateLogFile(path string, keepBackups int) error {
	if keepBackups <= 0 {
		return os.Remove(path)
	}
	for i := keepBackups - 1; i >= 1; i-- {
		from := rotatedName(path, i)
		to := rotatedName(path, i+1)
		if _, err := os.Stat(from); err == nil {
			_ = os.Rename(from, to)
		}
	}
	return os.Rename(path, rotatedName(path, 1))
}

func rotatedName(base string, n int) string {
	return fmt.Sprintf("%s.%d", base, n)
}

// writeRawBlankLine appends one unformatted newline, used to visually
// separate daemon runs within one un-rotated log file.
func writeRawBlankLine(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString("\n")
	return err
}

func runHeader() string {
	return fmt.Sprintf("==================== gesso daemon run start (pid=%d) ====================", os.Getpid())
}
