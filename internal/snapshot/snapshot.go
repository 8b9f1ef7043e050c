// Package snapshot builds the deterministic gzipped tar archive of a flake
// source tree. The same tree always yields bit-identical bytes: entries are
// sorted, ownership is forced to root, and timestamps are normalized to the
// epoch.
package snapshot

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/flakeforge/push/internal/errors"
	"github.com/flakeforge/push/internal/output"
)

// Snapshot is an immutable content-addressed archive on disk.
type Snapshot struct {
	// Path is the location of the gzipped tar on disk.
	Path string

	// TopLevelName is the single directory name the tar contains at depth 0.
	TopLevelName string

	// Length is the compressed byte count.
	Length int64

	// DigestBase64 is the standard-base64 SHA-256 of the compressed bytes.
	DigestBase64 string
}

// gitDir is the forge-control directory excluded from every snapshot.
const gitDir = ".git"

// epoch is the fixed modification time stamped on every entry.
var epoch = time.Unix(0, 0)

type entry struct {
	// archivePath is the in-archive path below the top-level directory.
	archivePath string
	fsPath      string
	info        fs.FileInfo
	linkTarget  string
}

// Build walks the flake directory beneath rootDir, filters entries, and
// streams a gzipped tar to destPath while hashing and counting the
// compressed bytes. The archive is rooted at a single top-level directory
// named after the flake subdirectory (or rootDir when the subdirectory is
// empty).
func Build(rootDir, flakeSubdir, destPath string, sizeCap int64, capWaived bool) (*Snapshot, error) {
	flakeDir := rootDir
	topLevel := filepath.Base(rootDir)
	if flakeSubdir != "" {
		flakeDir = filepath.Join(rootDir, flakeSubdir)
		topLevel = filepath.Base(flakeSubdir)
	}

	entries, err := collectEntries(flakeDir, destPath)
	if err != nil {
		return nil, err
	}

	out, err := os.Create(destPath)
	if err != nil {
		return nil, errors.WrapCause(errors.ErrSnapshotIO, err, "creating %s", destPath)
	}
	defer out.Close()

	hasher := sha256.New()
	counter := &countingWriter{}
	gz := gzip.NewWriter(io.MultiWriter(out, hasher, counter))
	tw := tar.NewWriter(gz)

	for _, e := range entries {
		if err := writeEntry(tw, topLevel, e); err != nil {
			return nil, err
		}
	}

	// The hash and length are only meaningful once both framers have
	// flushed and the file has hit disk.
	if err := tw.Close(); err != nil {
		return nil, errors.WrapCause(errors.ErrSnapshotIO, err, "finalizing tar stream")
	}
	if err := gz.Close(); err != nil {
		return nil, errors.WrapCause(errors.ErrSnapshotIO, err, "finalizing gzip stream")
	}
	if err := out.Sync(); err != nil {
		return nil, errors.WrapCause(errors.ErrSnapshotIO, err, "flushing %s", destPath)
	}

	snap := &Snapshot{
		Path:         destPath,
		TopLevelName: topLevel,
		Length:       counter.n,
		DigestBase64: base64.StdEncoding.EncodeToString(hasher.Sum(nil)),
	}

	if snap.Length > sizeCap && !capWaived {
		return nil, errors.Wrap(errors.ErrSourceTooLarge,
			"snapshot is %d bytes, over the %d byte cap; pass my-flake-is-too-big to waive", snap.Length, sizeCap)
	}

	output.Debug("built source snapshot",
		"path", destPath, "length", snap.Length, "sha256", snap.DigestBase64)
	return snap, nil
}

// collectEntries walks flakeDir, applies the filter rules, and returns the
// surviving entries sorted by in-archive path byte order. Sorting the full
// list (rather than relying on per-directory walk order) keeps siblings
// like `dir.txt` and `dir/` in strict byte order.
func collectEntries(flakeDir, destPath string) ([]entry, error) {
	matcher, err := ignoreMatcher(flakeDir)
	if err != nil {
		return nil, err
	}

	destAbs, _ := filepath.Abs(destPath)

	var entries []entry
	walkErr := filepath.WalkDir(flakeDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == flakeDir {
			return nil
		}

		rel, err := filepath.Rel(flakeDir, path)
		if err != nil {
			return err
		}
		segments := strings.Split(filepath.ToSlash(rel), "/")

		if d.Name() == gitDir && d.IsDir() {
			return filepath.SkipDir
		}
		if abs, _ := filepath.Abs(path); abs == destAbs {
			return nil
		}
		if matcher.Match(segments, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		e := entry{
			archivePath: filepath.ToSlash(rel),
			fsPath:      path,
			info:        info,
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			e.linkTarget = target
		}
		entries = append(entries, e)
		return nil
	})
	if walkErr != nil {
		return nil, errors.WrapCause(errors.ErrSnapshotIO, walkErr, "walking %s", flakeDir)
	}

	// Directories sort under the name they are written with, trailing slash
	// included.
	sortKey := func(e entry) string {
		if e.info.IsDir() {
			return e.archivePath + "/"
		}
		return e.archivePath
	}
	sort.Slice(entries, func(i, j int) bool {
		return sortKey(entries[i]) < sortKey(entries[j])
	})
	return entries, nil
}

// ignoreMatcher loads .gitignore patterns from the flake directory tree.
func ignoreMatcher(flakeDir string) (gitignore.Matcher, error) {
	patterns, err := gitignore.ReadPatterns(osfs.New(flakeDir), nil)
	if err != nil {
		return nil, errors.WrapCause(errors.ErrSnapshotIO, err, "reading ignore files under %s", flakeDir)
	}
	return gitignore.NewMatcher(patterns), nil
}

// writeEntry emits one normalized tar entry. Only read/write/execute bits
// survive; uid/gid are forced to root and mtime to the epoch so checkout
// time never leaks into the archive bytes.
func writeEntry(tw *tar.Writer, topLevel string, e entry) error {
	hdr := &tar.Header{
		Name:    topLevel + "/" + e.archivePath,
		Mode:    int64(e.info.Mode().Perm()),
		Uid:     0,
		Gid:     0,
		Uname:   "root",
		Gname:   "root",
		ModTime: epoch,
		Format:  tar.FormatUSTAR,
	}

	switch {
	case e.info.IsDir():
		hdr.Typeflag = tar.TypeDir
		hdr.Name += "/"
	case e.linkTarget != "":
		hdr.Typeflag = tar.TypeSymlink
		hdr.Linkname = e.linkTarget
	case e.info.Mode().IsRegular():
		hdr.Typeflag = tar.TypeReg
		hdr.Size = e.info.Size()
	default:
		// Sockets, fifos, devices: nothing a flake build can use.
		output.Warn("skipping irregular file", "path", e.archivePath, "mode", e.info.Mode().String())
		return nil
	}

	if err := tw.WriteHeader(hdr); err != nil {
		return errors.WrapCause(errors.ErrSnapshotIO, err, "writing header for %s", e.archivePath)
	}
	if hdr.Typeflag != tar.TypeReg {
		return nil
	}

	f, err := os.Open(e.fsPath)
	if err != nil {
		return errors.WrapCause(errors.ErrSnapshotIO, err, "opening %s", e.fsPath)
	}
	defer f.Close()

	if _, err := io.Copy(tw, f); err != nil {
		return errors.WrapCause(errors.ErrSnapshotIO, err, "archiving %s", e.archivePath)
	}
	return nil
}

type countingWriter struct {
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}
