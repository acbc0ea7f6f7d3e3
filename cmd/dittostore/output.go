package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/marmos91/dittostore/pkg/command"
	"github.com/marmos91/dittostore/pkg/progress"
)

// parseChecksum accepts "ALGO:HEX" or a bare hex value (MD5).
func parseChecksum(s string) (command.Checksum, error) {
	algo, value, found := strings.Cut(s, ":")
	if !found {
		algo, value = "", s
	}
	a, err := command.ParseAlgorithm(algo)
	if err != nil {
		return command.Checksum{}, err
	}
	if value == "" {
		return command.Checksum{}, fmt.Errorf("empty checksum value in %q", s)
	}
	return command.Checksum{Algorithm: a, Value: strings.ToLower(value)}, nil
}

// checksumsFor pairs the --checksum flags with the positional URLs.
func checksumsFor(urls, sums []string) ([]command.Checksum, error) {
	out := make([]command.Checksum, len(urls))
	if len(sums) == 0 {
		return out, nil
	}
	if len(sums) != len(urls) {
		return nil, fmt.Errorf("got %d checksum(s) for %d url(s)", len(sums), len(urls))
	}
	for i, s := range sums {
		sum, err := parseChecksum(s)
		if err != nil {
			return nil, err
		}
		out[i] = sum
	}
	return out, nil
}

// fileChecksum digests a local file.
func fileChecksum(ctx context.Context, path string, algo command.Algorithm) (command.Checksum, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return command.Checksum{}, 0, err
	}
	defer func() { _ = f.Close() }()

	h, err := command.NewHasher(algo)
	if err != nil {
		return command.Checksum{}, 0, err
	}
	n, err := io.Copy(h, &ctxReader{ctx: ctx, r: f})
	if err != nil {
		return command.Checksum{}, 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return command.Sum(algo, h), n, nil
}

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

// printEvents renders recorded callbacks as a table and returns an error
// when any of them failed.
func printEvents(w io.Writer, rec *progress.Recorder, names map[string]string) error {
	events := rec.Events()

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "REQUEST\tOUTCOME\tLOCATION\tDETAIL")
	for _, e := range events {
		name := names[e.RequestID]
		if name == "" {
			name = e.RequestID
		}
		location := e.URL
		if e.Path != "" {
			location = e.Path
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, e.Outcome, location, eventDetail(e))
	}
	_ = tw.Flush()

	if failures := rec.Failures(); len(failures) > 0 {
		return fmt.Errorf("%d of %d request(s) failed", len(failures), len(events))
	}
	return nil
}

func eventDetail(e progress.Event) string {
	switch {
	case e.Err != nil:
		return e.Err.Error()
	case e.ExpiresAt != nil:
		return fmt.Sprintf("size=%d expires=%s", e.Size, e.ExpiresAt.Format(time.RFC3339))
	case e.Checksum != "":
		return fmt.Sprintf("size=%d checksum=%s", e.Size, e.Checksum)
	default:
		return ""
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func formatSize(size *int64) string {
	if size == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *size)
}
