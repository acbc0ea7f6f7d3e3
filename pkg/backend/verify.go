package backend

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/marmos91/dittostore/pkg/command"
)

// ctxReader fails reads once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// CopyVerified copies src to dst while hashing it, then checks the byte count
// against size (unless it is command.UnknownSize) and the digest against
// expected (unless it is zero).
//
// Returns the computed checksum and byte count. Size and digest mismatches
// wrap command.ErrSizeMismatch and command.ErrChecksumMismatch.
func CopyVerified(ctx context.Context, dst io.Writer, src io.Reader, expected command.Checksum, size int64) (command.Checksum, int64, error) {
	algo, err := command.ParseAlgorithm(string(expected.Algorithm))
	if err != nil {
		return command.Checksum{}, 0, err
	}
	hasher, err := command.NewHasher(algo)
	if err != nil {
		return command.Checksum{}, 0, err
	}

	n, err := io.Copy(io.MultiWriter(dst, hasher), &ctxReader{ctx: ctx, r: src})
	if err != nil {
		return command.Checksum{}, n, err
	}

	sum := command.Sum(algo, hasher)
	if size != command.UnknownSize && n != size {
		return sum, n, fmt.Errorf("%w: expected %d bytes, got %d", command.ErrSizeMismatch, size, n)
	}
	if !expected.IsZero() && !sum.Equal(expected) {
		return sum, n, fmt.Errorf("%w: expected %s, got %s", command.ErrChecksumMismatch, expected, sum)
	}
	return sum, n, nil
}

// WriteFileVerified streams src into a temporary file next to path, verifies
// it with CopyVerified and renames it into place. Nothing is left at path or
// next to it when an error is returned.
func WriteFileVerified(ctx context.Context, path string, src io.Reader, expected command.Checksum, size int64) (command.Checksum, int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return command.Checksum{}, 0, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return command.Checksum{}, 0, fmt.Errorf("failed to create temporary file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	sum, n, err := CopyVerified(ctx, tmp, src, expected, size)
	if err != nil {
		return sum, n, err
	}
	if err := tmp.Sync(); err != nil {
		return sum, n, fmt.Errorf("failed to sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return sum, n, fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		committed = true
		return sum, n, fmt.Errorf("failed to move file into place: %w", err)
	}
	committed = true
	return sum, n, nil
}
