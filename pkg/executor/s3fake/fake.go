// Package s3fake provides an in-memory S3 API with fault injection.
//
// It implements executor.ObjectAPI closely enough for the executor and the
// backends to be tested without a network: single and multipart uploads,
// listing, batch deletion, archived storage classes and restoration.
package s3fake

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// Operation names accepted by Fail and Calls.
const (
	OpHeadObject              = "HeadObject"
	OpGetObject               = "GetObject"
	OpPutObject               = "PutObject"
	OpDeleteObject            = "DeleteObject"
	OpDeleteObjects           = "DeleteObjects"
	OpListObjectsV2           = "ListObjectsV2"
	OpCreateMultipartUpload   = "CreateMultipartUpload"
	OpUploadPart              = "UploadPart"
	OpCompleteMultipartUpload = "CompleteMultipartUpload"
	OpAbortMultipartUpload    = "AbortMultipartUpload"
	OpRestoreObject           = "RestoreObject"
)

type object struct {
	data         []byte
	storageClass string
	restore      string
}

type multipart struct {
	bucket string
	key    string
	parts  map[int32][]byte
}

type fault struct {
	remaining int // <0 means forever
	err       error
}

// Fake is an in-memory object store. It is safe for concurrent use.
type Fake struct {
	mu         sync.Mutex
	objects    map[string]*object
	uploads    map[string]*multipart
	faults     map[string][]*fault
	late       map[string][]*fault
	calls      map[string]int
	openBodies int
	nextUpload int

	// Now is the clock used to evaluate restoration expiry (default: time.Now)
	Now func() time.Time
}

// New returns an empty store.
func New() *Fake {
	return &Fake{
		objects: make(map[string]*object),
		uploads: make(map[string]*multipart),
		faults:  make(map[string][]*fault),
		late:    make(map[string][]*fault),
		calls:   make(map[string]int),
		Now:     time.Now,
	}
}

// ============================================================================
// Test helpers
// ============================================================================

// HTTPError builds an error shaped like the SDK's for an HTTP status and
// S3 error code.
func HTTPError(status int, code string) error {
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
			Err:      &smithy.GenericAPIError{Code: code, Message: http.StatusText(status)},
		},
		RequestID: "s3fake",
	}
}

// Fail makes the next n calls of op return err. A negative n fails forever.
func (f *Fake) Fail(op string, n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[op] = append(f.faults[op], &fault{remaining: n, err: err})
}

// FailAfter makes the next n calls of op take effect and then return err,
// as when the response is lost on the way back. Only
// CompleteMultipartUpload honours it.
func (f *Fake) FailAfter(op string, n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.late[op] = append(f.late[op], &fault{remaining: n, err: err})
}

// Heal removes every injected fault.
func (f *Fake) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = make(map[string][]*fault)
	f.late = make(map[string][]*fault)
}

// Calls returns how many times op was invoked, failed calls included.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Put stores an object in the STANDARD class.
func (f *Fake) Put(bucket, key string, data []byte) {
	f.PutArchived(bucket, key, data, "")
}

// PutArchived stores an object in storageClass (e.g. "GLACIER").
func (f *Fake) PutArchived(bucket, key string, data []byte, storageClass string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[bucket+"/"+key] = &object{data: append([]byte(nil), data...), storageClass: storageClass}
}

// SetStorageClass moves an existing object to storageClass, as a lifecycle
// transition would.
func (f *Fake) SetStorageClass(bucket, key, storageClass string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[bucket+"/"+key]
	if ok {
		obj.storageClass = storageClass
	}
	return ok
}

// CompleteRestore finishes a pending restoration; the copy expires at expiry.
func (f *Fake) CompleteRestore(bucket, key string, expiry time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[bucket+"/"+key]
	if ok {
		obj.restore = fmt.Sprintf(`ongoing-request="false", expiry-date="%s"`, expiry.UTC().Format(time.RFC1123))
	}
	return ok
}

// Object returns a copy of an object's content.
func (f *Fake) Object(bucket, key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}

// Keys lists the keys of a bucket in lexical order.
func (f *Fake) Keys(bucket string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keysLocked(bucket, "")
}

// PendingUploads returns the number of multipart uploads neither completed
// nor aborted.
func (f *Fake) PendingUploads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

// OpenBodies returns the number of GetObject bodies not closed yet.
func (f *Fake) OpenBodies() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openBodies
}

// ============================================================================
// Internals
// ============================================================================

// begin records a call and returns the injected fault, if any.
func (f *Fake) begin(ctx context.Context, op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++

	if err := ctx.Err(); err != nil {
		return err
	}
	return nextFault(f.faults, op)
}

// nextFault pops the next fault queued for op. Callers hold f.mu.
func nextFault(faults map[string][]*fault, op string) error {
	queue := faults[op]
	for len(queue) > 0 {
		head := queue[0]
		if head.remaining == 0 {
			queue = queue[1:]
			continue
		}
		if head.remaining > 0 {
			head.remaining--
		}
		faults[op] = queue
		return head.err
	}
	faults[op] = queue
	return nil
}

func (f *Fake) keysLocked(bucket, prefix string) []string {
	keys := make([]string, 0)
	for full := range f.objects {
		b, key, _ := strings.Cut(full, "/")
		if b == bucket && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func (f *Fake) readable(obj *object) bool {
	if obj.storageClass == "" || obj.storageClass == "STANDARD" {
		return true
	}
	if !strings.Contains(obj.restore, `ongoing-request="false"`) {
		return false
	}
	i := strings.Index(obj.restore, `expiry-date="`)
	if i < 0 {
		return true
	}
	raw := obj.restore[i+len(`expiry-date="`):]
	raw = strings.TrimSuffix(raw, `"`)
	expiry, err := time.Parse(time.RFC1123, raw)
	return err != nil || expiry.After(f.Now())
}

func etag(data []byte) *string {
	sum := md5.Sum(data)
	return aws.String(`"` + hex.EncodeToString(sum[:]) + `"`)
}

func noSuchKey(key string) error {
	return &types.NoSuchKey{Message: aws.String("no such key: " + key)}
}

type trackedBody struct {
	io.Reader
	fake   *Fake
	closed bool
}

func (b *trackedBody) Close() error {
	b.fake.mu.Lock()
	defer b.fake.mu.Unlock()
	if !b.closed {
		b.closed = true
		b.fake.openBodies--
	}
	return nil
}

// ============================================================================
// ObjectAPI
// ============================================================================

func (f *Fake) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if err := f.begin(ctx, OpHeadObject); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	obj, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{Message: aws.String("not found")}
	}
	out := &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		ETag:          etag(obj.data),
		StorageClass:  types.StorageClass(obj.storageClass),
	}
	if obj.restore != "" {
		out.Restore = aws.String(obj.restore)
	}
	return out, nil
}

func (f *Fake) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if err := f.begin(ctx, OpGetObject); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	key := aws.ToString(in.Key)
	obj, ok := f.objects[aws.ToString(in.Bucket)+"/"+key]
	if !ok {
		return nil, noSuchKey(key)
	}
	if !f.readable(obj) {
		return nil, HTTPError(http.StatusForbidden, "InvalidObjectState")
	}

	f.openBodies++
	data := append([]byte(nil), obj.data...)
	return &s3.GetObjectOutput{
		Body:          &trackedBody{Reader: bytes.NewReader(data), fake: f},
		ContentLength: aws.Int64(int64(len(data))),
		ETag:          etag(data),
	}, nil
}

func (f *Fake) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if err := f.begin(ctx, OpPutObject); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if in.ContentMD5 != nil {
		sum := md5.Sum(data)
		if base64.StdEncoding.EncodeToString(sum[:]) != aws.ToString(in.ContentMD5) {
			return nil, HTTPError(http.StatusBadRequest, "BadDigest")
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = &object{data: data}
	return &s3.PutObjectOutput{ETag: etag(data)}, nil
}

func (f *Fake) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if err := f.begin(ctx, OpDeleteObject); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	// S3 answers 204 whether or not the key existed
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *Fake) DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	if err := f.begin(ctx, OpDeleteObjects); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	out := &s3.DeleteObjectsOutput{}
	for _, id := range in.Delete.Objects {
		delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(id.Key))
		if !aws.ToBool(in.Delete.Quiet) {
			out.Deleted = append(out.Deleted, types.DeletedObject{Key: id.Key})
		}
	}
	return out, nil
}

func (f *Fake) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if err := f.begin(ctx, OpListObjectsV2); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	keys := f.keysLocked(aws.ToString(in.Bucket), aws.ToString(in.Prefix))
	if token := aws.ToString(in.ContinuationToken); token != "" {
		i := sort.SearchStrings(keys, token)
		for i < len(keys) && keys[i] <= token {
			i++
		}
		keys = keys[i:]
	}

	limit := int(aws.ToInt32(in.MaxKeys))
	if limit <= 0 {
		limit = 1000
	}
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if len(keys) > limit {
		keys = keys[:limit]
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[len(keys)-1])
	}
	for _, key := range keys {
		obj := f.objects[aws.ToString(in.Bucket)+"/"+key]
		out.Contents = append(out.Contents, types.Object{
			Key:  aws.String(key),
			Size: aws.Int64(int64(len(obj.data))),
		})
	}
	out.KeyCount = aws.Int32(int32(len(out.Contents)))
	return out, nil
}

func (f *Fake) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	if err := f.begin(ctx, OpCreateMultipartUpload); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextUpload++
	id := "upload-" + strconv.Itoa(f.nextUpload)
	f.uploads[id] = &multipart{
		bucket: aws.ToString(in.Bucket),
		key:    aws.ToString(in.Key),
		parts:  make(map[int32][]byte),
	}
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (f *Fake) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	if err := f.begin(ctx, OpUploadPart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	upload, ok := f.uploads[aws.ToString(in.UploadId)]
	if !ok {
		return nil, &types.NoSuchUpload{Message: aws.String("no such upload")}
	}
	upload.parts[aws.ToInt32(in.PartNumber)] = data
	return &s3.UploadPartOutput{ETag: etag(data)}, nil
}

func (f *Fake) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	if err := f.begin(ctx, OpCompleteMultipartUpload); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	id := aws.ToString(in.UploadId)
	upload, ok := f.uploads[id]
	if !ok {
		return nil, &types.NoSuchUpload{Message: aws.String("no such upload")}
	}

	var buf bytes.Buffer
	for _, part := range in.MultipartUpload.Parts {
		data, ok := upload.parts[aws.ToInt32(part.PartNumber)]
		if !ok {
			return nil, HTTPError(http.StatusBadRequest, "InvalidPart")
		}
		buf.Write(data)
	}

	delete(f.uploads, id)
	f.objects[upload.bucket+"/"+upload.key] = &object{data: buf.Bytes()}
	if err := nextFault(f.late, OpCompleteMultipartUpload); err != nil {
		return nil, err
	}
	return &s3.CompleteMultipartUploadOutput{
		ETag: aws.String(fmt.Sprintf(`"multipart-%d"`, len(in.MultipartUpload.Parts))),
	}, nil
}

func (f *Fake) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	if err := f.begin(ctx, OpAbortMultipartUpload); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	id := aws.ToString(in.UploadId)
	if _, ok := f.uploads[id]; !ok {
		return nil, &types.NoSuchUpload{Message: aws.String("no such upload")}
	}
	delete(f.uploads, id)
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *Fake) RestoreObject(ctx context.Context, in *s3.RestoreObjectInput, _ ...func(*s3.Options)) (*s3.RestoreObjectOutput, error) {
	if err := f.begin(ctx, OpRestoreObject); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	key := aws.ToString(in.Key)
	obj, ok := f.objects[aws.ToString(in.Bucket)+"/"+key]
	if !ok {
		return nil, noSuchKey(key)
	}
	if obj.storageClass == "" || obj.storageClass == "STANDARD" {
		return nil, HTTPError(http.StatusForbidden, "InvalidObjectState")
	}
	if strings.Contains(obj.restore, `ongoing-request="true"`) {
		return nil, HTTPError(http.StatusConflict, "RestoreAlreadyInProgress")
	}
	obj.restore = `ongoing-request="true"`
	return &s3.RestoreObjectOutput{}, nil
}
