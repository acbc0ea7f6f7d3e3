package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// batchDeleteError reports keys a DeleteObjects request refused.
type batchDeleteError struct {
	failures map[string]string
}

func (e *batchDeleteError) Error() string {
	parts := make([]string, 0, len(e.failures))
	for key, msg := range e.failures {
		parts = append(parts, fmt.Sprintf("%s: %s", key, msg))
	}
	return fmt.Sprintf("failed to delete %d objects: %s", len(e.failures), strings.Join(parts, "; "))
}

// deleteBatch removes keys with DeleteObjects, at most maxDeleteBatch per
// request. Keys reported missing by the store count as deleted.
func (e *Executor) deleteBatch(ctx context.Context, r *retrier, client ObjectAPI, bucket string, keys []string) error {
	failures := make(map[string]string)

	for i := 0; i < len(keys); i += maxDeleteBatch {
		end := min(i+maxDeleteBatch, len(keys))

		objects := make([]types.ObjectIdentifier, 0, end-i)
		for _, key := range keys[i:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(key)})
		}

		var out *s3.DeleteObjectsOutput
		err := r.do(ctx, "delete batch", func(ctx context.Context) error {
			var err error
			out, err = client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(bucket),
				Delete: &types.Delete{
					Objects: objects,
					Quiet:   aws.Bool(true),
				},
			})
			return err
		})
		if err != nil {
			return err
		}

		for _, failed := range out.Errors {
			if aws.ToString(failed.Code) == "NoSuchKey" {
				continue
			}
			failures[aws.ToString(failed.Key)] = aws.ToString(failed.Message)
		}
	}

	if len(failures) > 0 {
		return &batchDeleteError{failures: failures}
	}
	return nil
}
