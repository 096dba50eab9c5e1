// Package archive stores run artifacts zstd-compressed and reads them back
// whether or not they were compressed.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// Ext is appended to the name of a compressed artifact.
const Ext = ".zst"

// Compress replaces path with path+Ext. The original is removed only
// after the compressed copy is fully written and synced.
func Compress(path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", path, err)
	}
	defer src.Close()

	dst := path + Ext
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", path, err)
	}

	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		out.Close()
		return "", fmt.Errorf("archive %s: %w", path, err)
	}
	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		out.Close()
		os.Remove(dst)
		return "", fmt.Errorf("archive %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		out.Close()
		os.Remove(dst)
		return "", fmt.Errorf("archive %s: %w", path, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return "", fmt.Errorf("archive %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("archive %s: %w", path, err)
	}

	src.Close()
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("archive %s: remove original: %w", path, err)
	}
	return dst, nil
}

// Open opens path for reading. If path does not exist but path+Ext does,
// the compressed copy is decoded transparently.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	zf, zerr := os.Open(path + Ext)
	if zerr != nil {
		// Report the uncompressed name; that is what callers asked for.
		return nil, err
	}
	dec, err := zstd.NewReader(zf)
	if err != nil {
		zf.Close()
		return nil, fmt.Errorf("open %s%s: %w", path, Ext, err)
	}
	return &decodedFile{dec: dec, file: zf}, nil
}

// ReadFile is os.ReadFile with Open's fallback.
func ReadFile(path string) ([]byte, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Exists reports whether path is present raw or compressed.
func Exists(path string) bool {
	for _, p := range []string{path, path + Ext} {
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return true
		}
	}
	return false
}

type decodedFile struct {
	dec  *zstd.Decoder
	file *os.File
}

func (d *decodedFile) Read(p []byte) (int, error) {
	return d.dec.Read(p)
}

func (d *decodedFile) Close() error {
	d.dec.Close()
	return d.file.Close()
}
