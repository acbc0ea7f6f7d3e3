package glacier

import (
	"fmt"
	"time"

	s3backend "github.com/marmos91/dittostore/pkg/backend/s3"
	"github.com/marmos91/dittostore/pkg/executor"
	"github.com/marmos91/dittostore/pkg/state"
)

// Default values of the nearline options.
const (
	DefaultRestoreDays      = 7
	DefaultPollInterval     = 30 * time.Second
	DefaultRestoreTimeout   = 12 * time.Hour
	DefaultExpiryMargin     = time.Hour
	DefaultInternalCacheTTL = 24 * time.Hour
)

// Options configures a glacier backend. Connection settings are those of the
// s3 backend.
type Options struct {
	s3backend.Options `mapstructure:",squash"`

	// CacheKind selects where restored files are served from:
	// "internal" (downloaded to CachePath) or "external" (the restored
	// object itself, until its expiry). Default: external.
	CacheKind string `mapstructure:"cache_kind"`

	// CachePath is the internal cache directory (required for internal)
	CachePath string `mapstructure:"cache_path"`

	// RestoreDays is how long the store keeps a restored copy (default: 7)
	RestoreDays int `mapstructure:"restore_days"`

	// StandardStorageClass is the class of objects readable without
	// restoration (default: STANDARD)
	StandardStorageClass string `mapstructure:"standard_storage_class"`

	// PollInterval is the wait between restoration status checks (default: 30s)
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// RestoreTimeout bounds the wait for one restoration (default: 12h)
	RestoreTimeout time.Duration `mapstructure:"restore_timeout"`

	// ExpiryMargin: cached copies expiring within the margin are restored
	// again instead of being handed out (default: 1h)
	ExpiryMargin time.Duration `mapstructure:"expiry_margin"`

	// InternalCacheTTL is how long a downloaded copy stays in the internal
	// cache (default: 24h)
	InternalCacheTTL time.Duration `mapstructure:"internal_cache_ttl"`
}

// DefaultOptions returns the defaults, to be overridden by decoding.
func DefaultOptions() Options {
	return Options{
		Options:              s3backend.DefaultOptions(),
		CacheKind:            string(state.CacheExternal),
		RestoreDays:          DefaultRestoreDays,
		StandardStorageClass: executor.DefaultStandardStorageClass,
		PollInterval:         DefaultPollInterval,
		RestoreTimeout:       DefaultRestoreTimeout,
		ExpiryMargin:         DefaultExpiryMargin,
		InternalCacheTTL:     DefaultInternalCacheTTL,
	}
}

// Validate checks the nearline settings. Connection settings are checked by
// the s3 backend.
func (o Options) Validate() error {
	switch state.CacheKind(o.CacheKind) {
	case state.CacheInternal:
		if o.CachePath == "" {
			return fmt.Errorf("cache_path is required for the internal cache")
		}
	case state.CacheExternal:
	default:
		return fmt.Errorf("cache_kind must be internal or external, got %q", o.CacheKind)
	}
	if o.RestoreDays < 1 {
		return fmt.Errorf("restore_days must be >= 1, got %d", o.RestoreDays)
	}
	if o.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be > 0")
	}
	if o.RestoreTimeout <= 0 {
		return fmt.Errorf("restore_timeout must be > 0")
	}
	if o.ExpiryMargin < 0 {
		return fmt.Errorf("expiry_margin must be >= 0")
	}
	if o.InternalCacheTTL <= 0 {
		return fmt.Errorf("internal_cache_ttl must be > 0")
	}
	return nil
}
