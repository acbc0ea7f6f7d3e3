package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const configHeader = `# DittoStore Configuration File
#
# Values can be overridden with DITTOSTORE_* environment variables,
# for example DITTOSTORE_LOGGING_LEVEL=DEBUG.
`

// sectionComments annotate the top-level keys of the generated file.
var sectionComments = map[string]string{
	"logging":   "Logging: level (DEBUG, INFO, WARN, ERROR), format (text, json), output (stdout, stderr, file path)",
	"metrics":   "Prometheus metrics served on /metrics when enabled",
	"state":     "State store for the restoration cache index and pending actions (memory, badger)",
	"collector": "Background sweep running pending actions and purging expired cache entries",
	"executor":  "S3 command executor shared by s3 and glacier backends",
	"backends":  "Storage locations by name. type: local, s3 or glacier; options are type specific",
}

// InitConfig writes a sample configuration file at the default location.
//
// Parameters:
//   - force: Overwrite an existing file
//
// Returns:
//   - string: Path of the written file
//   - error: If the file exists and force is false, or writing fails
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a sample configuration file at path, creating
// parent directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateYAMLWithComments renders cfg as YAML with a header and a comment
// above every top-level section.
func generateYAMLWithComments(cfg *Config) (string, error) {
	var node yaml.Node
	if err := node.Encode(sampleDocument(cfg)); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	// Mapping content alternates key and value nodes
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i]
		if comment, ok := sectionComments[key.Value]; ok {
			key.HeadComment = comment
		}
	}

	var buf bytes.Buffer
	buf.WriteString(configHeader)
	buf.WriteString("\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}

	// Blank line between sections for readability
	out := buf.String()
	for _, comment := range sectionComments {
		out = strings.Replace(out, "\n# "+comment, "\n\n# "+comment, 1)
	}
	return out, nil
}

// sampleDocument mirrors Config with durations rendered as strings ("1h0m0s")
// rather than integer nanoseconds.
func sampleDocument(cfg *Config) map[string]any {
	backends := make(map[string]any, len(cfg.Backends))
	for name, b := range cfg.Backends {
		backends[name] = map[string]any{
			"type":    b.Type,
			"options": b.Options,
		}
	}

	badger := map[string]any{"db_path": cfg.State.Badger.DBPath}
	if badger["db_path"] == "" {
		badger["db_path"] = "/var/lib/dittostore/state"
	}

	return map[string]any{
		"logging": map[string]any{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
			"output": cfg.Logging.Output,
		},
		"metrics": map[string]any{
			"enabled": cfg.Metrics.Enabled,
			"listen":  cfg.Metrics.Listen,
		},
		"state": map[string]any{
			"type":   cfg.State.Type,
			"badger": badger,
		},
		"collector": map[string]any{
			"enabled":             cfg.Collector.Enabled,
			"interval":            cfg.Collector.Interval.String(),
			"sweep_timeout":       cfg.Collector.SweepTimeout.String(),
			"purge_expired_cache": cfg.Collector.PurgeExpiredCache,
		},
		"executor": map[string]any{
			"part_size":           cfg.Executor.PartSize,
			"client_ttl":          cfg.Executor.ClientTTL.String(),
			"requests_per_second": cfg.Executor.RequestsPerSecond,
		},
		"backends": backends,
	}
}
