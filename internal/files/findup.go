package files

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

var ErrNotFound = errors.New("not found")

// FindUp looks for an executable file called name in dir and then in each parent of dir.
// Directories that cannot be read are skipped.
func FindUp(name, dir string) (string, error) {
	curDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", dir, err)
	}
	for {
		candidate := filepath.Join(curDir, name)
		if isExecutable(candidate) {
			return candidate, nil
		}
		newDir := filepath.Dir(curDir)
		if newDir == curDir {
			return "", fmt.Errorf("%s in %s or its parents: %w", name, dir, ErrNotFound)
		}
		curDir = newDir
	}
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Mode().Perm()&fs.FileMode(0o111) != 0
}
