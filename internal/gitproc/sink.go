package gitproc

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// treeDirMode and treeFileMode are applied to everything written by
// TarExtractor: the content is a resolved commit's snapshot, immutable by
// construction, so the cache directory is made read-only.
const (
	treeDirMode  = 0o555
	treeFileMode = 0o444
)

// TarExtractor unpacks a tar stream (as produced by `git archive`) into a
// destination directory, applying read-only modes since the extracted
// snapshot is addressed by commit and must never be mutated in place.
type TarExtractor struct {
	Dest string

	reader  *io.PipeReader
	writer  *io.PipeWriter
	done    chan error
}

// NewTarExtractor starts a background goroutine that reads a tar stream
// fed via Write and extracts it into dest.
func NewTarExtractor(dest string) *TarExtractor {
	pr, pw := io.Pipe()
	e := &TarExtractor{
		Dest:   dest,
		reader: pr,
		writer: pw,
		done:   make(chan error, 1),
	}
	go e.extract()
	return e
}

func (e *TarExtractor) extract() {
	err := extractTar(e.reader, e.Dest)
	// Drain whatever follows the end-of-archive marker (git pads its tar
	// output to a full record) or an aborted extraction, so the writer
	// side never blocks on a pipe nobody reads.
	_, _ = io.Copy(io.Discard, e.reader)
	e.done <- err
}

func (e *TarExtractor) Write(p []byte) (int, error) {
	return e.writer.Write(p)
}

// OnFinish closes the pipe and waits for extraction to complete.
func (e *TarExtractor) OnFinish() error {
	if err := e.writer.Close(); err != nil {
		return err
	}
	return <-e.done
}

func extractTar(r io.Reader, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("gitproc: creating destination %q: %w", dest, err)
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("gitproc: reading tar stream: %w", err)
		}

		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		default:
			// symlinks and other entry types are not part of a git
			// archive tree snapshot; skip anything unexpected rather
			// than fail the whole extraction.
			continue
		}
	}

	return lockdownTree(dest)
}

// lockdownTree applies read-only permissions bottom-up so the directory
// walk itself does not get blocked by an already-locked parent.
func lockdownTree(root string) error {
	var dirs []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if info.IsDir() {
			dirs = append(dirs, path)
			return nil
		}
		return os.Chmod(path, treeFileMode)
	})
	if err != nil {
		return err
	}
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := os.Chmod(dirs[i], treeDirMode); err != nil {
			return err
		}
	}
	return os.Chmod(root, treeDirMode)
}

func safeJoin(base, name string) (string, error) {
	target := filepath.Join(base, name)
	if target != base && !hasPathPrefix(target, base) {
		return "", fmt.Errorf("gitproc: tar entry %q escapes destination", name)
	}
	return target, nil
}

func hasPathPrefix(path, base string) bool {
	return len(path) > len(base) && path[:len(base)] == base && path[len(base)] == filepath.Separator
}

// SingleFileDecoder reads a tar stream expected to contain exactly one
// regular-file entry (as `git archive --remote=<repo> <ref> <file>`
// produces) and exposes its decoded contents once OnFinish fires.
type SingleFileDecoder struct {
	reader  *io.PipeReader
	writer  *io.PipeWriter
	content chan []byte
	errc    chan error
}

// NewSingleFileDecoder returns a decoder ready to accept a tar stream via
// Write.
func NewSingleFileDecoder() *SingleFileDecoder {
	pr, pw := io.Pipe()
	d := &SingleFileDecoder{
		reader:  pr,
		writer:  pw,
		content: make(chan []byte, 1),
		errc:    make(chan error, 1),
	}
	go d.decode()
	return d
}

func (d *SingleFileDecoder) decode() {
	// Drain any remaining stream content (trailing entries, end-of-archive
	// padding, or bytes after a read error) so the writer side doesn't
	// block on a full pipe before the process exits.
	defer func() { _, _ = io.Copy(io.Discard, d.reader) }()

	tr := tar.NewReader(d.reader)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			d.content <- nil
			d.errc <- nil
			return
		}
		if err != nil {
			d.content <- nil
			d.errc <- err
			return
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		buf, err := io.ReadAll(tr)
		if err != nil {
			d.content <- nil
			d.errc <- err
			return
		}
		d.content <- buf
		d.errc <- nil
		// Drain any remaining stream content so the writer side
		// doesn't block on a full pipe before the process exits.
		_, _ = io.Copy(io.Discard, tr)
		return
	}
}

func (d *SingleFileDecoder) Write(p []byte) (int, error) {
	return d.writer.Write(p)
}

// OnFinish closes the pipe and waits for decoding to complete, returning
// any error from reading the tar stream. The decoded contents are then
// available from Content.
func (d *SingleFileDecoder) OnFinish() error {
	if err := d.writer.Close(); err != nil {
		return err
	}
	return <-d.errc
}

// Content returns the decoded bytes once OnFinish has returned nil, or
// nil if the archive contained no file entry.
func (d *SingleFileDecoder) Content() []byte {
	select {
	case b := <-d.content:
		return b
	default:
		return nil
	}
}

// HashingSink writes a streamed tar archive to a file on disk while
// computing its SHA-256 digest, used by Session.Archive to return a
// content hash without a second pass over the data.
type HashingSink struct {
	f   *os.File
	w   io.Writer
	h   interface{ Sum([]byte) []byte }
}

// NewHashingSink opens dest for writing and returns a sink that tees every
// written chunk into both the file and a running SHA-256 digest.
func NewHashingSink(dest string) (*HashingSink, error) {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	h := sha256.New()
	return &HashingSink{
		f: f,
		w: io.MultiWriter(f, h),
		h: h,
	}, nil
}

func (h *HashingSink) Write(p []byte) (int, error) {
	return h.w.Write(p)
}

// OnFinish closes the destination file. Call Digest afterward.
func (h *HashingSink) OnFinish() error {
	return h.f.Close()
}

// Digest returns the lowercase hex SHA-256 digest of everything written.
func (h *HashingSink) Digest() string {
	return hex.EncodeToString(h.h.Sum(nil))
}
