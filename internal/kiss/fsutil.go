package kiss

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// copyFile copies a single regular file preserving its mode, ownership and
// extended attributes.
func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if os.Geteuid() == 0 {
		if st, ok := info.Sys().(*syscall.Stat_t); ok {
			_ = os.Chown(dst, int(st.Uid), int(st.Gid))
		}
	}
	copyXattrs(src, dst)
	return nil
}

// copyDir mirrors a directory tree (the repository definition into the
// stage). Symlinks are recreated, modes preserved.
func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case info.IsDir():
			return os.MkdirAll(target, info.Mode().Perm())
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			_ = os.Remove(target)
			return os.Symlink(link, target)
		case info.Mode().IsRegular():
			return copyFile(path, target)
		}
		return nil
	})
}

// mirrorOptions controls one mirror pass.
type mirrorOptions struct {
	skipEtc        bool // leave /etc for the ignore-existing pass
	onlyEtc        bool // mirror just /etc
	ignoreExisting bool // never overwrite a file already present
}

// mirrorTree copies the stage into the target root rsync-style: permissions,
// owners and symlinks preserved, hard links reproduced, existing files
// overwritten unless ignoreExisting is set.
func mirrorTree(stageDir, rootDir string, opt mirrorOptions) error {
	// Hard links in the stage are reproduced in the target by inode.
	seen := make(map[uint64]string)

	return filepath.Walk(stageDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(stageDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		inEtc := rel == "etc" || strings.HasPrefix(rel, "etc/")
		if opt.skipEtc && inEtc {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if opt.onlyEtc && !inEtc {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(rootDir, rel)

		switch {
		case info.IsDir():
			if err := os.MkdirAll(target, info.Mode().Perm()); err != nil {
				return err
			}
			if os.Geteuid() == 0 {
				if st, ok := info.Sys().(*syscall.Stat_t); ok {
					_ = os.Chown(target, int(st.Uid), int(st.Gid))
				}
			}
			copyXattrs(path, target)
			return nil

		case info.Mode()&os.ModeSymlink != 0:
			if opt.ignoreExisting {
				if _, err := os.Lstat(target); err == nil {
					return nil
				}
			}
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			// Replacing a directory symlink's target directory is never
			// done implicitly; only stale non-directory entries go.
			if fi, err := os.Lstat(target); err == nil && !fi.IsDir() {
				_ = os.Remove(target)
			}
			if err := os.Symlink(link, target); err != nil && !os.IsExist(err) {
				return err
			}
			return nil

		case info.Mode().IsRegular():
			if opt.ignoreExisting {
				if _, err := os.Lstat(target); err == nil {
					return nil
				}
			}
			if st, ok := info.Sys().(*syscall.Stat_t); ok && st.Nlink > 1 {
				if first, dup := seen[st.Ino]; dup {
					_ = os.Remove(target)
					return os.Link(first, target)
				}
				seen[st.Ino] = target
			}
			// Write to a temporary name and rename over so a live binary
			// is replaced atomically instead of truncated in place.
			tmp := target + ".kiss-tmp"
			if err := copyFile(path, tmp); err != nil {
				os.Remove(tmp)
				return err
			}
			return os.Rename(tmp, target)
		}
		return nil
	})
}

// removeEmptyDir removes a directory only when empty.
func removeEmptyDir(path string) {
	entries, err := os.ReadDir(path)
	if err != nil || len(entries) > 0 {
		return
	}
	if err := os.Remove(path); err != nil {
		debugf("could not remove directory %s: %v\n", path, err)
	}
}

