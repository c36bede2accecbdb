package feedbuilder

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Publish copies artifact into feedsDir when it changed or the public copy
// is missing. An empty feedsDir disables publishing.
func Publish(artifact, feedsDir string, changed bool) (bool, error) {
	if feedsDir == "" {
		return false, nil
	}
	dest := filepath.Join(feedsDir, filepath.Base(artifact))
	if !changed {
		if _, err := os.Stat(dest); err == nil {
			return false, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("publish: %w", err)
		}
	}
	if _, err := os.Stat(artifact); err != nil {
		return false, fmt.Errorf("publish: %w", err)
	}
	if err := copyFileAtomic(artifact, dest); err != nil {
		return false, fmt.Errorf("publish: %w", err)
	}
	return true, nil
}

func copyFileAtomic(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return err
	}
	tmp := out.Name()
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
