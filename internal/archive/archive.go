// Package archive packs a directory into a .tar.gz and unpacks received
// archives.
package archive

import (
	"archive/tar"
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

var ErrUnsafePath = errors.New("archive entry escapes destination")

// Suffixes recognised as archives on the receiving side.
var Suffixes = []string{".tar.gz", ".tgz", ".tar"}

func IsArchive(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range Suffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

// TarGz implements the archive collaborator used by transfers.
type TarGz struct{}

func (TarGz) Create(srcDir, dst string) error { return Create(srcDir, dst) }
func (TarGz) Extract(src, dstDir string) error { return Extract(src, dstDir) }

// Create writes srcDir into dst as a gzip compressed tarball. Entries are
// stored under the directory's base name. Only directories and regular
// files are archived.
func Create(srcDir, dst string) (err error) {
	srcDir = filepath.Clean(srcDir)
	info, err := os.Stat(srcDir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", srcDir)
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	base := filepath.Base(srcDir)
	walkErr := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		return addEntry(tw, path, filepath.ToSlash(filepath.Join(base, rel)), d)
	})
	if walkErr != nil {
		return fmt.Errorf("archiving %s: %w", srcDir, walkErr)
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func addEntry(tw *tar.Writer, path, name string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}

	if !info.IsDir() && !info.Mode().IsRegular() {
		return nil
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if info.IsDir() {
		hdr.Name += "/"
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	if !info.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = io.Copy(tw, f)
	return err
}

// Extract unpacks a plain or gzip compressed tarball into dstDir. Entries
// resolving outside dstDir are refused. Links are never created, so nothing
// written later can be redirected through one.
func Extract(src, dstDir string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	r, err := maybeGunzip(bufio.NewReader(f))
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return err
	}
	root, err := filepath.EvalSymlinks(dstDir)
	if err != nil {
		return err
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return fmt.Errorf("%w: %s", ErrUnsafePath, hdr.Name)
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", src, err)
		}

		target, err := safeJoin(dstDir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := mkdirUnder(root, target); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := mkdirUnder(root, filepath.Dir(target)); err != nil {
				return err
			}
			if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if filepath.IsAbs(hdr.Linkname) {
				return fmt.Errorf("%w: %s -> %s", ErrUnsafePath, hdr.Name, hdr.Linkname)
			}
			if _, err := safeJoin(dstDir, filepath.Join(filepath.Dir(hdr.Name), hdr.Linkname)); err != nil {
				return err
			}
		}
	}
}

func maybeGunzip(br *bufio.Reader) (io.Reader, error) {
	magic, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		return gzip.NewReader(br)
	}
	return br, nil
}

func safeJoin(root, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	target := filepath.Join(root, name)
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}

// mkdirUnder creates dir and checks that, with every symlink on the way
// resolved, it still lies inside root.
func mkdirUnder(root, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return err
	}
	if _, err := safeJoin(root, relTo(root, resolved)); err != nil {
		return fmt.Errorf("%w: %s", ErrUnsafePath, dir)
	}
	return nil
}

func relTo(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return rel
}

// writeFile refuses to follow a symlink at path itself.
func writeFile(path string, r io.Reader, perm fs.FileMode) error {
	if info, err := os.Lstat(path); err == nil && info.Mode()&fs.ModeSymlink != 0 {
		return fmt.Errorf("%w: %s is a symlink", ErrUnsafePath, path)
	}
	if perm == 0 {
		perm = 0o644
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
