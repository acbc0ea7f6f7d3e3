package executor

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/command"
)

// DefaultStandardStorageClass is the storage class of objects readable
// without restoration.
const DefaultStandardStorageClass = "STANDARD"

var (
	ongoingRequestRe = regexp.MustCompile(`ongoing-request="([^"]*)"`)
	expiryDateRe     = regexp.MustCompile(`expiry-date="([^"]*)"`)
)

// Status queries the restoration state of a nearline object without
// triggering a restoration.
//
// Objects still in standardClass (empty means DefaultStandardStorageClass)
// are Available with no tracked expiry. Archived objects are classified from
// the x-amz-restore header:
//   - no header: NotAvailable
//   - ongoing-request="true": RestorePending
//   - ongoing-request="false" with an expiry-date in the past: Expired
//   - otherwise: Available until expiry-date
//
// Returns ErrNotFound (wrapped) when the object does not exist.
func (e *Executor) Status(ctx context.Context, cfg command.StorageConfig, key, standardClass string) (command.GlacierFileStatus, error) {
	if standardClass == "" {
		standardClass = DefaultStandardStorageClass
	}

	client, err := e.clients.get(ctx, cfg)
	if err != nil {
		return command.GlacierFileStatus{}, err
	}

	var out *s3.HeadObjectOutput
	err = e.retrierFor(cfg, command.NewCommandID("status"), "status").do(ctx, "status", func(ctx context.Context) error {
		var err error
		out, err = client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(cfg.Bucket),
			Key:    aws.String(key),
		})
		return err
	})
	if err != nil {
		if classify(err) == classNotFound {
			return command.GlacierFileStatus{}, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return command.GlacierFileStatus{}, fmt.Errorf("failed to query status of %s: %w", key, err)
	}

	status := ParseRestoreStatus(string(out.StorageClass), aws.ToString(out.Restore), standardClass, e.now())
	status.Size = out.ContentLength
	return status, nil
}

// ParseRestoreStatus builds a GlacierFileStatus from a storage class and an
// x-amz-restore header value, evaluated at now.
func ParseRestoreStatus(storageClass, restore, standardClass string, now time.Time) command.GlacierFileStatus {
	status := command.GlacierFileStatus{StorageClass: storageClass}

	// S3 omits the storage class for STANDARD objects
	if storageClass == "" || strings.EqualFold(storageClass, standardClass) {
		status.Status = command.Available
		return status
	}

	if restore == "" {
		status.Status = command.NotAvailable
		return status
	}

	if m := ongoingRequestRe.FindStringSubmatch(restore); m != nil && strings.EqualFold(m[1], "true") {
		status.Status = command.RestorePending
		return status
	}

	if m := expiryDateRe.FindStringSubmatch(restore); m != nil {
		if t, err := time.Parse(time.RFC1123, m[1]); err == nil {
			t = t.UTC()
			status.ExpiresAt = &t
		} else {
			logger.Warn("Unparseable restore expiry date %q: %v", m[1], err)
		}
	}

	status.Status = command.Available
	return status.At(now)
}

// Restore asks the store to stage an archived object for days days.
// A restoration already in progress is not an error.
func (e *Executor) Restore(ctx context.Context, cfg command.StorageConfig, key string, days int32) error {
	client, err := e.clients.get(ctx, cfg)
	if err != nil {
		return err
	}

	err = e.retrierFor(cfg, command.NewCommandID("restore"), "restore").do(ctx, "restore", func(ctx context.Context) error {
		_, err := client.RestoreObject(ctx, &s3.RestoreObjectInput{
			Bucket: aws.String(cfg.Bucket),
			Key:    aws.String(key),
			RestoreRequest: &types.RestoreRequest{
				Days: aws.Int32(days),
				GlacierJobParameters: &types.GlacierJobParameters{
					Tier: types.TierStandard,
				},
			},
		})
		return err
	})
	if err == nil {
		logger.Info("Restoration requested: bucket=%s key=%s days=%d", cfg.Bucket, key, days)
		return nil
	}

	if errorCode(err) == "RestoreAlreadyInProgress" {
		logger.Debug("Restoration already in progress: bucket=%s key=%s", cfg.Bucket, key)
		return nil
	}
	if classify(err) == classNotFound {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return fmt.Errorf("failed to restore %s: %w", key, err)
}
