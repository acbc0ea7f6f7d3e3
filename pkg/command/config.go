// Package command defines the storage command protocol: the immutable
// configuration of a remote object store, the Check/Read/Write/Delete
// commands issued against it, the in-transit StorageEntry and the closed set
// of results each command can produce.
//
// Commands are value objects. They own no mutable state and can be passed
// freely between goroutines. The only single-use value in this package is the
// byte stream carried by an Entry.
package command

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Default retry settings applied by the configuration layer when a backend
// does not override them.
const (
	DefaultMaxRetries       = 4
	DefaultRetryBackOffBase = 1 * time.Second
	DefaultRetryBackOffMax  = 10 * time.Second
)

// StorageConfig describes how to reach one bucket of an S3-compatible object
// store and how hard to try when the store misbehaves.
//
// A StorageConfig is built once per backend configuration and shared
// read-only by every command executed against that backend.
type StorageConfig struct {
	// Endpoint is the base URL of the object store (e.g. "https://s3.example.com")
	Endpoint string

	// Region is the signing region
	Region string

	// AccessKeyID and SecretAccessKey form the static credential pair.
	// When both are empty the SDK default credential chain is used.
	AccessKeyID     string
	SecretAccessKey string

	// Bucket is the bucket name
	Bucket string

	// RootPath is an optional prefix prepended to every entry key
	RootPath string

	// MaxRetries is the number of retries after the first attempt
	MaxRetries int

	// RetryBackOffBase and RetryBackOffMax bound the randomized exponential
	// backoff between attempts
	RetryBackOffBase time.Duration
	RetryBackOffMax  time.Duration
}

// EntryKey resolves a POSIX-style relative path against the root path.
//
//	RootPath "archive",  suffix "file.bin" -> "archive/file.bin"
//	RootPath "archive/", suffix "file.bin" -> "archive/file.bin"
//	RootPath "",         suffix "file.bin" -> "file.bin"
func (c StorageConfig) EntryKey(suffix string) string {
	return normalizeRoot(c.RootPath) + strings.TrimLeft(suffix, "/")
}

// NormalizedRoot returns the root path with exactly one trailing separator,
// or the empty string when no root path is configured.
func (c StorageConfig) NormalizedRoot() string {
	return normalizeRoot(c.RootPath)
}

func normalizeRoot(root string) string {
	root = strings.Trim(root, "/")
	if root == "" {
		return ""
	}
	return root + "/"
}

// Validate checks that the configuration can be used to build a client.
func (c StorageConfig) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("storage config: bucket is required")
	}
	if c.Endpoint != "" {
		u, err := url.Parse(c.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("storage config: invalid endpoint %q", c.Endpoint)
		}
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("storage config: max retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.RetryBackOffBase < 0 || c.RetryBackOffMax < 0 {
		return fmt.Errorf("storage config: backoff durations must be >= 0")
	}
	if c.RetryBackOffMax < c.RetryBackOffBase {
		return fmt.Errorf("storage config: backoff max (%s) is lower than backoff base (%s)",
			c.RetryBackOffMax, c.RetryBackOffBase)
	}
	return nil
}

// ClientKey identifies the connection settings of this configuration.
// Two configurations with the same key can share an S3 client.
func (c StorageConfig) ClientKey() string {
	return strings.Join([]string{c.Endpoint, c.Region, c.AccessKeyID, c.SecretAccessKey}, "\x00")
}

// String renders the configuration without credentials.
func (c StorageConfig) String() string {
	return fmt.Sprintf("storage(endpoint=%s bucket=%s root=%q)", c.Endpoint, c.Bucket, c.NormalizedRoot())
}
