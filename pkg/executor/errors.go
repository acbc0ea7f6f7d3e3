package executor

import (
	"context"
	"errors"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

var (
	// ErrNotFound is returned by Status when the object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrConflict marks a request the store refused because of the object
	// state (precondition failed, archived object, concurrent upload).
	ErrConflict = errors.New("object state conflict")
)

// errorClass groups store errors by how the executor reacts to them.
type errorClass int

const (
	// classRetryable: timeouts, connection resets, 5xx, throttling
	classRetryable errorClass = iota
	// classNotFound: well-formed absent response
	classNotFound
	// classConflict: 409, 412 or an archived object
	classConflict
	// classFatal: other 4xx, malformed requests, cancellation
	classFatal
)

func (c errorClass) String() string {
	switch c {
	case classRetryable:
		return "retryable"
	case classNotFound:
		return "not_found"
	case classConflict:
		return "conflict"
	default:
		return "fatal"
	}
}

var sdkRetryables = retry.IsErrorRetryables(retry.DefaultRetryables)

// classify maps an SDK error to an errorClass.
func classify(err error) errorClass {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return classFatal
	}

	// Rejected by the SDK before reaching the wire
	if isMalformedRequest(err) {
		return classFatal
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return classNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return classNotFound
		case "InvalidObjectState", "PreconditionFailed", "OperationAborted":
			return classConflict
		}
	}

	if status := httpStatus(err); status != 0 {
		switch {
		case status == http.StatusNotFound:
			return classNotFound
		case status == http.StatusConflict || status == http.StatusPreconditionFailed:
			return classConflict
		case status == http.StatusTooManyRequests || status >= 500:
			return classRetryable
		case status >= 400:
			return classFatal
		}
	}

	if sdkRetryables.IsErrorRetryable(err) == aws.TrueTernary {
		return classRetryable
	}

	// No HTTP response at all: the request never made it (DNS, refused,
	// reset, truncated body).
	if httpStatus(err) == 0 && apiErr == nil {
		return classRetryable
	}

	return classFatal
}

// isMalformedRequest reports whether err is a client-side validation or
// serialization failure. Sending the same input again fails the same way.
func isMalformedRequest(err error) bool {
	var serErr *smithy.SerializationError
	if errors.As(err, &serErr) {
		return true
	}
	// Generated validators return the value, hand-built ones a pointer
	var invalid smithy.InvalidParamsError
	var invalidPtr *smithy.InvalidParamsError
	return errors.As(err, &invalid) || errors.As(err, &invalidPtr)
}

func httpStatus(err error) int {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode()
	}
	return 0
}

func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// sourceError wraps a failure reading the entry being written. It is never
// retried and always maps to a write Failure.
type sourceError struct{ err error }

func (e *sourceError) Error() string { return "read source: " + e.err.Error() }
func (e *sourceError) Unwrap() error { return e.err }
