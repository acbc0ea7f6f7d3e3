package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/command"
)

// ObjectAPI is the subset of *s3.Client the executor needs.
//
// Tests substitute an in-memory implementation (see package s3fake).
type ObjectAPI interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	RestoreObject(ctx context.Context, in *s3.RestoreObjectInput, optFns ...func(*s3.Options)) (*s3.RestoreObjectOutput, error)
}

var _ ObjectAPI = (*s3.Client)(nil)

// ClientFactory builds a client for a storage configuration.
type ClientFactory func(ctx context.Context, cfg command.StorageConfig) (ObjectAPI, error)

// NewS3Client builds an AWS SDK client for cfg.
//
// The SDK retryer is disabled: the executor owns the retry policy so that
// attempts and backoff follow the StorageConfig bounds exactly.
//
// Parameters:
//   - ctx: Context used while loading the AWS configuration
//   - cfg: Storage configuration (endpoint, region, credentials)
//
// Returns:
//   - ObjectAPI: Configured *s3.Client
//   - error: Returns error if the AWS configuration cannot be loaded
func NewS3Client(ctx context.Context, cfg command.StorageConfig) (ObjectAPI, error) {
	var configOptions []func(*awsConfig.LoadOptions) error

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	configOptions = append(configOptions, awsConfig.WithRegion(region))

	// Static credentials when provided, otherwise the default credential chain
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return aws.NopRetryer{}
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Custom endpoints (MinIO, Ceph, Localstack) need path-style addressing
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return client, nil
}

// ============================================================================
// Client cache
// ============================================================================

// DefaultClientTTL is how long an idle client stays cached.
const DefaultClientTTL = 5 * time.Minute

// clientCache shares one client per connection settings. Entries expire after
// ttl so rotated credentials or endpoints are eventually picked up.
type clientCache struct {
	cache   *ristretto.Cache[string, ObjectAPI]
	factory ClientFactory
	ttl     time.Duration
}

func newClientCache(factory ClientFactory, ttl time.Duration) (*clientCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, ObjectAPI]{
		NumCounters: 1000,
		MaxCost:     100,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client cache: %w", err)
	}
	return &clientCache{cache: cache, factory: factory, ttl: ttl}, nil
}

// get returns the cached client for cfg, building one on a miss.
func (c *clientCache) get(ctx context.Context, cfg command.StorageConfig) (ObjectAPI, error) {
	key := cfg.ClientKey()
	if client, ok := c.cache.Get(key); ok {
		return client, nil
	}

	client, err := c.factory(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if !c.cache.SetWithTTL(key, client, 1, c.ttl) {
		logger.Debug("S3 client cache rejected client for %s", cfg)
	}
	c.cache.Wait()

	return client, nil
}

func (c *clientCache) close() {
	c.cache.Close()
}
