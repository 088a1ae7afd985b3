// Package archive manages the scratch directory results are written to and
// packages it into the gzip-compressed tarball handed to the uploader.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/anstrom/complyscan/internal/errors"
	"github.com/anstrom/complyscan/internal/logging"
)

const (
	namePrefix = "complyscan-"
	dirPerm    = 0o700
)

// Archive is one run's scratch area. Results go into Dir; Package writes
// the tarball beside it.
type Archive struct {
	baseDir string
	name    string
	tmpDir  string
	dir     string
	logger  *logging.Logger
}

// New creates an Archive rooted in baseDir. Nothing is created on disk
// until CreateDir is called.
func New(baseDir string, logger *logging.Logger) *Archive {
	if logger == nil {
		logger = logging.Default()
	}
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	return &Archive{
		baseDir: baseDir,
		name:    namePrefix + uuid.NewString(),
		logger:  logger.WithComponent("archive"),
	}
}

// Name is the archive's directory and tarball base name.
func (a *Archive) Name() string {
	return a.name
}

// Dir returns the archive directory, or "" before CreateDir.
func (a *Archive) Dir() string {
	return a.dir
}

// CreateDir creates the archive directory and returns its path. Calling it
// again returns the same directory.
func (a *Archive) CreateDir() (string, error) {
	if a.dir != "" {
		return a.dir, nil
	}

	tmpDir, err := os.MkdirTemp(a.baseDir, namePrefix)
	if err != nil {
		return "", errors.WrapFatal(errors.CodeArchive, "failed to create temporary directory", err)
	}
	dir := filepath.Join(tmpDir, a.name)
	if err := os.Mkdir(dir, dirPerm); err != nil {
		_ = os.RemoveAll(tmpDir)
		return "", errors.WrapFatal(errors.CodeArchive, "failed to create archive directory", err)
	}

	a.tmpDir = tmpDir
	a.dir = dir
	a.logger.Debug("Created archive directory", "path", dir)
	return dir, nil
}

// Package writes the archive directory as <name>.tar.gz and removes the
// directory. Entries are stored relative to the temporary root so the
// tarball unpacks into a single <name>/ directory.
func (a *Archive) Package() (string, error) {
	if a.dir == "" {
		return "", errors.NewFatal(errors.CodeArchive, "archive directory was not created")
	}

	target := filepath.Join(a.tmpDir, a.name+".tar.gz")
	if err := writeTarGz(target, a.tmpDir, a.name); err != nil {
		_ = os.Remove(target)
		return "", errors.WrapFatal(errors.CodeArchive, "failed to create tar file", err)
	}
	if err := os.RemoveAll(a.dir); err != nil {
		a.logger.Warn("Could not remove archive directory", "path", a.dir, "error", err)
	}

	a.logger.Debug("Created tar file", "path", target)
	return target, nil
}

// Cleanup removes everything the archive created, tarball included.
func (a *Archive) Cleanup() error {
	if a.tmpDir == "" {
		return nil
	}
	if err := os.RemoveAll(a.tmpDir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", a.tmpDir, err)
	}
	a.tmpDir, a.dir = "", ""
	return nil
}

func writeTarGz(target, root, name string) (err error) {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	walkErr := filepath.WalkDir(filepath.Join(root, name), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return addEntry(tw, root, path, d)
	})
	if walkErr != nil {
		return walkErr
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func addEntry(tw *tar.Writer, root, path string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() && !info.IsDir() {
		return nil
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = filepath.ToSlash(rel)
	if info.IsDir() {
		hdr.Name += "/"
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if info.IsDir() {
		return nil
	}

	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()
	_, err = io.Copy(tw, src)
	return err
}
