package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/marmos91/dittostore/pkg/config"
	"github.com/spf13/cobra"
)

var (
	forceInit  bool
	initPath   string
	schemaPath string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:         "init",
	Short:       "Write a sample configuration file",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{skipConfig: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		path := initPath
		if path == "" {
			var err error
			if path, err = config.InitConfig(forceInit); err != nil {
				return err
			}
		} else if err := config.InitConfigToPath(path, forceInit); err != nil {
			return err
		}

		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Loading already validated cfg; backends are built to check their options
		return withApp(cmd.Context(), func(a *app) error {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid: %d backend(s) %v, state=%s\n",
				a.reg.Count(), a.reg.Names(), cfg.State.Type)
			return nil
		})
	},
}

var configSchemaCmd = &cobra.Command{
	Use:         "schema",
	Short:       "Write the JSON schema of the configuration file",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{skipConfig: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		reflector := jsonschema.Reflector{
			AllowAdditionalProperties: false,
			DoNotReference:            true,
			FieldNameTag:              "yaml",
		}

		schema := reflector.Reflect(&config.Config{})
		schema.Title = "DittoStore Configuration"
		schema.Description = "Configuration schema for DittoStore"

		data, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal schema: %w", err)
		}

		if schemaPath == "" || schemaPath == "-" {
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		}
		if err := os.WriteFile(schemaPath, data, 0644); err != nil {
			return fmt.Errorf("failed to write schema file: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "JSON schema written to %s\n", schemaPath)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "overwrite an existing file")
	configInitCmd.Flags().StringVar(&initPath, "path", "", "destination (default: $XDG_CONFIG_HOME/dittostore/config.yaml)")
	configSchemaCmd.Flags().StringVarP(&schemaPath, "output", "o", "-", "destination file, - for stdout")

	configCmd.AddCommand(configInitCmd, configValidateCmd, configSchemaCmd)
	rootCmd.AddCommand(configCmd)
}
