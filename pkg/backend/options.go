package backend

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/dittostore/pkg/command"
	"github.com/marmos91/dittostore/pkg/request"
)

// DefaultMaxBatchSize bounds the number of requests in one working subset.
const DefaultMaxBatchSize = 100

// CommonOptions are accepted by every backend type.
type CommonOptions struct {
	// Workers bounds per-subset parallelism (default: 4)
	Workers int `mapstructure:"workers"`

	// MaxBatchSize bounds the requests per working subset (default: 100)
	MaxBatchSize int `mapstructure:"max_batch_size"`

	// AllowPhysicalDeletion lets Delete remove bytes (default: true)
	AllowPhysicalDeletion bool `mapstructure:"allow_physical_deletion"`
}

// DefaultCommonOptions returns the defaults, to be overridden by DecodeOptions.
func DefaultCommonOptions() CommonOptions {
	return CommonOptions{
		Workers:               DefaultWorkers,
		MaxBatchSize:          DefaultMaxBatchSize,
		AllowPhysicalDeletion: true,
	}
}

// DecodeOptions decodes a raw options map into out. Fields already set in
// out are defaults: keys missing from options leave them untouched.
//
// Durations accept Go duration strings ("90s", "1h"). Unknown keys fail, so
// typos in configuration files are reported instead of ignored.
func DecodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create options decoder: %w", err)
	}
	if err := decoder.Decode(options); err != nil {
		return fmt.Errorf("failed to decode backend options: %w", err)
	}
	return nil
}

// Partition groups requests by key and splits each group into subsets of at
// most maxBatch requests. Groups appear in order of first occurrence and
// requests keep their relative order, so the result is deterministic.
//
// Subsets are named "<prefix>-<n>" with n counting from 1.
func Partition[R request.Request](prefix string, reqs []R, maxBatch int, key func(R) string) []request.WorkingSubset[R] {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatchSize
	}

	var order []string
	groups := make(map[string][]R)
	for _, r := range reqs {
		k := key(r)
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], r)
	}

	var subsets []request.WorkingSubset[R]
	for _, k := range order {
		group := groups[k]
		for start := 0; start < len(group); start += maxBatch {
			end := min(start+maxBatch, len(group))
			subsets = append(subsets, request.WorkingSubset[R]{
				Name:     fmt.Sprintf("%s-%d", prefix, len(subsets)+1),
				Requests: group[start:end:end],
			})
		}
	}
	return subsets
}

// CheckStoreRequest returns the reason a store request cannot be handled by
// any backend, or "" when it is well formed.
func CheckStoreRequest(r request.StoreRequest) string {
	switch {
	case r.ID == "":
		return "missing request id"
	case r.OriginURL == "":
		return "missing origin url"
	case r.Checksum.IsZero():
		return "missing checksum"
	case strings.ContainsAny(r.Checksum.Value, "/\\"):
		return "checksum contains a path separator"
	case strings.Contains(r.SubDirectory, ".."):
		return "sub directory escapes the backend root"
	}
	if _, err := command.ParseAlgorithm(string(r.Checksum.Algorithm)); err != nil {
		return err.Error()
	}
	return ""
}

// OriginPath resolves a file:// URL or plain path of a store request origin.
func OriginPath(origin string) (string, error) {
	if rest, ok := strings.CutPrefix(origin, "file://"); ok {
		origin = rest
	}
	if origin == "" {
		return "", fmt.Errorf("empty origin")
	}
	if strings.Contains(origin, "://") {
		return "", fmt.Errorf("unsupported origin scheme: %s", origin)
	}
	return origin, nil
}

// OpenOrigin returns a command.Entry reading the origin of a store request.
// The file is opened lazily when the entry is consumed.
func OpenOrigin(cfg command.StorageConfig, r request.StoreRequest) (*command.Entry, error) {
	path, err := OriginPath(r.OriginURL)
	if err != nil {
		return nil, err
	}
	sum := r.Checksum
	if sum.Algorithm == "" {
		sum.Algorithm = command.MD5
	}
	size := r.FileSize
	if size < 0 {
		size = command.UnknownSize
	}
	return command.NewEntry(cfg, path, size, &sum, func() (io.ReadCloser, error) {
		return os.Open(path)
	}), nil
}
