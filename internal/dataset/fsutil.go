package dataset

import (
	"os"
	"path/filepath"
	"time"
)

func absSegmentPath(root, relPath string) string {
	return filepath.Join(root, relPath)
}

func statMtime(path string) (time.Time, bool) {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}, false
	}
	return fi.ModTime().UTC(), true
}
