package executor

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/command"
)

// maxParts is the S3 limit on parts per multipart upload
const maxParts = 10000

// Write streams the entry to the entry key.
//
// The entry is read exactly once. The digest is computed incrementally from
// the bytes actually sent and compared with the expected checksum (the
// command's, else the entry's) before the object is made visible: a single
// part object is only uploaded after verification, a multipart upload is only
// completed after verification and aborted otherwise. A reported Failure
// therefore never leaves an object behind.
//
// Each part is buffered in memory (PartSize bytes) so that a retry can
// resend it without re-reading the entry.
func (e *Executor) Write(ctx context.Context, cmd command.Write) (res command.WriteResult) {
	start := time.Now()
	defer e.finish(cmd, start, func() command.Result { return res }, func(err error) { res = command.Unreachable{Cmd: cmd, Err: err} })

	if cmd.Entry == nil {
		return command.WriteFailure{Cmd: cmd, Err: errors.New("write command has no entry")}
	}

	expected := cmd.Checksum
	if expected == nil {
		if sum, ok := cmd.Entry.Checksum(); ok {
			expected = &sum
		}
	}

	algo := command.MD5
	if expected != nil {
		a, err := command.ParseAlgorithm(string(expected.Algorithm))
		if err != nil {
			return command.WriteFailure{Cmd: cmd, Err: err}
		}
		algo = a
	}
	hasher, err := command.NewHasher(algo)
	if err != nil {
		return command.WriteFailure{Cmd: cmd, Err: err}
	}

	client, err := e.clients.get(ctx, cmd.Storage)
	if err != nil {
		return command.Unreachable{Cmd: cmd, Err: err}
	}

	src, err := cmd.Entry.Open()
	if err != nil {
		return command.WriteFailure{Cmd: cmd, Err: &sourceError{err: err}}
	}
	defer func() { _ = src.Close() }()

	w := &upload{
		client:   client,
		cmd:      cmd,
		retrier:  e.retrier(cmd),
		algo:     algo,
		hasher:   hasher,
		expected: expected,
		src:      &countingReader{r: io.TeeReader(src, hasher)},
		buf:      make([]byte, e.partSize),
	}
	w.size, w.sizeKnown = cmd.Entry.Size()

	sum, total, err := w.run(ctx)
	if err != nil {
		return e.writeOutcome(cmd, err)
	}

	e.metrics.RecordBytes("write", total)
	return command.WriteSuccess{Cmd: cmd, Size: total, Checksum: sum}
}

// writeOutcome maps a write error to Failure or Unreachable.
func (e *Executor) writeOutcome(cmd command.Write, err error) command.WriteResult {
	var src *sourceError
	switch {
	case errors.As(err, &src),
		errors.Is(err, command.ErrSizeMismatch),
		errors.Is(err, command.ErrChecksumMismatch),
		errors.Is(err, errTooManyParts):
		return command.WriteFailure{Cmd: cmd, Err: err}
	case classify(err) == classConflict:
		return command.WriteFailure{Cmd: cmd, Err: fmt.Errorf("%w: %v", ErrConflict, err)}
	default:
		return command.Unreachable{Cmd: cmd, Err: err}
	}
}

var errTooManyParts = fmt.Errorf("entry exceeds %d parts", maxParts)

// upload holds the state of one Write execution.
type upload struct {
	client    ObjectAPI
	cmd       command.Write
	retrier   *retrier
	algo      command.Algorithm
	hasher    hash.Hash
	expected  *command.Checksum
	src       *countingReader
	buf       []byte
	size      int64
	sizeKnown bool
}

func (u *upload) run(ctx context.Context) (command.Checksum, int64, error) {
	n, eof, err := u.readPart(ctx)
	if err != nil {
		return command.Checksum{}, 0, err
	}
	if eof {
		return u.putSingle(ctx, u.buf[:n])
	}
	return u.putMultipart(ctx, n)
}

// readPart fills buf from the source. eof reports the source is exhausted.
func (u *upload) readPart(ctx context.Context) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	n, err := io.ReadFull(u.src, u.buf)
	switch {
	case err == nil:
		return n, false, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return n, true, nil
	default:
		return n, false, &sourceError{err: err}
	}
}

// verify checks the streamed bytes against the expected size and checksum.
func (u *upload) verify() (command.Checksum, error) {
	total := u.src.n
	if u.sizeKnown && total != u.size {
		return command.Checksum{}, fmt.Errorf("%w: expected %d bytes, streamed %d", command.ErrSizeMismatch, u.size, total)
	}
	sum := command.Sum(u.algo, u.hasher)
	if u.expected != nil && !u.expected.IsZero() && !u.expected.Equal(sum) {
		return command.Checksum{}, fmt.Errorf("%w: expected %s, computed %s", command.ErrChecksumMismatch, u.expected.Value, sum.Value)
	}
	return sum, nil
}

func (u *upload) putSingle(ctx context.Context, data []byte) (command.Checksum, int64, error) {
	sum, err := u.verify()
	if err != nil {
		return command.Checksum{}, 0, err
	}

	var contentMD5 *string
	if u.algo == command.MD5 {
		raw := u.hasher.Sum(nil)
		contentMD5 = aws.String(base64.StdEncoding.EncodeToString(raw))
	}

	err = u.retrier.do(ctx, "write", func(ctx context.Context) error {
		_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(u.cmd.Storage.Bucket),
			Key:           aws.String(u.cmd.Key),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			ContentMD5:    contentMD5,
		})
		return err
	})
	if err != nil {
		return command.Checksum{}, 0, err
	}
	return sum, int64(len(data)), nil
}

func (u *upload) putMultipart(ctx context.Context, firstLen int) (command.Checksum, int64, error) {
	bucket := aws.String(u.cmd.Storage.Bucket)
	key := aws.String(u.cmd.Key)

	var uploadID *string
	err := u.retrier.do(ctx, "create multipart upload", func(ctx context.Context) error {
		out, err := u.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket: bucket,
			Key:    key,
		})
		if err != nil {
			return err
		}
		uploadID = out.UploadId
		return nil
	})
	if err != nil {
		return command.Checksum{}, 0, err
	}

	fail := func(err error) (command.Checksum, int64, error) {
		u.abort(ctx, uploadID, err)
		return command.Checksum{}, 0, err
	}

	parts := make([]types.CompletedPart, 0, 4)
	data := u.buf[:firstLen]
	last := false
	for partNumber := int32(1); ; partNumber++ {
		if partNumber > maxParts {
			return fail(errTooManyParts)
		}

		var etag *string
		err := u.retrier.do(ctx, "upload part", func(ctx context.Context) error {
			out, err := u.client.UploadPart(ctx, &s3.UploadPartInput{
				Bucket:        bucket,
				Key:           key,
				UploadId:      uploadID,
				PartNumber:    aws.Int32(partNumber),
				Body:          bytes.NewReader(data),
				ContentLength: aws.Int64(int64(len(data))),
			})
			if err != nil {
				return err
			}
			etag = out.ETag
			return nil
		})
		if err != nil {
			return fail(fmt.Errorf("failed to upload part %d: %w", partNumber, err))
		}
		parts = append(parts, types.CompletedPart{ETag: etag, PartNumber: aws.Int32(partNumber)})

		if last {
			break
		}

		// Stop early on an oversized stream instead of draining it
		if u.sizeKnown && u.src.n > u.size {
			return fail(fmt.Errorf("%w: expected %d bytes, streamed more than %d", command.ErrSizeMismatch, u.size, u.src.n))
		}

		n, eof, err := u.readPart(ctx)
		if err != nil {
			return fail(err)
		}
		if n == 0 {
			break
		}
		data, last = u.buf[:n], eof
	}

	sum, err := u.verify()
	if err != nil {
		return fail(err)
	}

	attempted := false
	err = u.retrier.do(ctx, "complete multipart upload", func(ctx context.Context) error {
		_, err := u.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          bucket,
			Key:             key,
			UploadId:        uploadID,
			MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
		})
		if err != nil && attempted && u.completedEarlier(ctx, err) {
			return nil
		}
		attempted = true
		return err
	})
	if err != nil {
		return fail(err)
	}

	logger.Debug("Multipart upload completed: task_id=%s key=%s parts=%d bytes=%d",
		u.cmd.CmdID.TaskID, u.cmd.Key, len(parts), u.src.n)
	return sum, u.src.n, nil
}

// completedEarlier reports whether a retried completion failed only because
// an earlier attempt completed the upload and its response was lost. The
// object must then exist with the streamed size. Anything else is reported
// as the original error, even if the object exists.
func (u *upload) completedEarlier(ctx context.Context, err error) bool {
	var noSuchUpload *types.NoSuchUpload
	if !errors.As(err, &noSuchUpload) {
		return false
	}
	out, headErr := u.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(u.cmd.Storage.Bucket),
		Key:    aws.String(u.cmd.Key),
	})
	if headErr != nil || aws.ToInt64(out.ContentLength) != u.src.n {
		return false
	}
	logger.Info("Multipart upload already completed: task_id=%s key=%s", u.cmd.CmdID.TaskID, u.cmd.Key)
	return true
}

// abort discards a multipart upload. It runs on a context detached from the
// command's so a cancelled command still cleans up.
func (u *upload) abort(ctx context.Context, uploadID *string, cause error) {
	abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	_, err := u.client.AbortMultipartUpload(abortCtx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(u.cmd.Storage.Bucket),
		Key:      aws.String(u.cmd.Key),
		UploadId: uploadID,
	})
	if err != nil {
		var noSuchUpload *types.NoSuchUpload
		if !errors.As(err, &noSuchUpload) {
			logger.Error("Failed to abort multipart upload: task_id=%s key=%s upload_id=%s error=%v",
				u.cmd.CmdID.TaskID, u.cmd.Key, aws.ToString(uploadID), err)
			return
		}
	}
	logger.Debug("Multipart upload aborted: task_id=%s key=%s cause=%v", u.cmd.CmdID.TaskID, u.cmd.Key, cause)
}

// countingReader counts the bytes read through it
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
