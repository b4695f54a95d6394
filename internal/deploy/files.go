package deploy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// writeFileAtomic writes data next to path and renames it into place, so
// readers see either the old or the new content. Missing parent directories
// are created. A symlinked path is resolved first so the link survives and its
// target receives the new content.
func writeFileAtomic(fsys afero.Fs, path string, data []byte, perm os.FileMode) error {
	path, err := resolveSymlinks(fsys, path)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(fsys, dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		_ = fsys.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := fsys.Chmod(tmpName, perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := fsys.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

const maxSymlinkDepth = 16

// resolveSymlinks follows path while it is a symlink. Filesystems without
// symlink support (MemMapFs) return path unchanged, as does a missing path.
func resolveSymlinks(fsys afero.Fs, path string) (string, error) {
	linker, ok := fsys.(afero.Symlinker)
	if !ok {
		return path, nil
	}

	for range maxSymlinkDepth {
		info, lstatCalled, err := linker.LstatIfPossible(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return path, nil
			}
			return "", fmt.Errorf("lstat %s: %w", path, err)
		}
		if !lstatCalled || info.Mode()&os.ModeSymlink == 0 {
			return path, nil
		}

		target, err := linker.ReadlinkIfPossible(path)
		if err != nil {
			return "", fmt.Errorf("readlink %s: %w", path, err)
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(path), target)
		}
		path = target
	}
	return "", fmt.Errorf("resolve %s: too many levels of symbolic links", path)
}
