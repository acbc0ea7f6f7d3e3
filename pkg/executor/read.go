package executor

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittostore/pkg/command"
)

// Read issues a streaming GET for the entry key.
//
// Only the request is retried. Once the body is handed over as a ReadPipe
// the stream is bound to the live connection: it is read on demand, closing
// it early releases the connection, and no retry happens after that point.
// ctx must stay alive until the stream has been consumed.
func (e *Executor) Read(ctx context.Context, cmd command.Read) (res command.ReadResult) {
	start := time.Now()
	defer e.finish(cmd, start, func() command.Result { return res }, func(err error) { res = command.Unreachable{Cmd: cmd, Err: err} })

	client, err := e.clients.get(ctx, cmd.Storage)
	if err != nil {
		return command.Unreachable{Cmd: cmd, Err: err}
	}

	var out *s3.GetObjectOutput
	err = e.retrier(cmd).do(ctx, "read", func(ctx context.Context) error {
		var err error
		out, err = client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(cmd.Storage.Bucket),
			Key:    aws.String(cmd.Key),
		})
		return err
	})

	switch {
	case err == nil:
	case classify(err) == classNotFound:
		return command.ReadNotFound{Cmd: cmd}
	default:
		return command.Unreachable{Cmd: cmd, Err: err}
	}

	size := command.UnknownSize
	if out.ContentLength != nil {
		size = *out.ContentLength
	}

	body := &metricsReadCloser{ReadCloser: out.Body, metrics: e.metrics}
	entry := command.NewStreamEntry(cmd.Storage, cmd.Key, size, etagChecksum(out.ETag), body)

	return command.ReadPipe{Cmd: cmd, Entry: entry}
}

// etagChecksum turns a single part ETag into an MD5 checksum. Multipart
// ETags ("<hash>-<parts>") are not content digests and yield nil.
func etagChecksum(etag *string) *command.Checksum {
	v := strings.Trim(aws.ToString(etag), `"`)
	if v == "" || strings.Contains(v, "-") || len(v) != 32 {
		return nil
	}
	return &command.Checksum{Algorithm: command.MD5, Value: strings.ToLower(v)}
}

var _ io.ReadCloser = (*metricsReadCloser)(nil)
