package main

import (
	"fmt"
	"io"
	"os"

	"github.com/marmos91/dittostore/pkg/command"
	"github.com/marmos91/dittostore/pkg/config"
	"github.com/marmos91/dittostore/pkg/executor"
	"github.com/spf13/cobra"
)

// objectStorage holds the connection flags of the object commands.
var objectStorage = command.StorageConfig{
	MaxRetries:       command.DefaultMaxRetries,
	RetryBackOffBase: command.DefaultRetryBackOffBase,
	RetryBackOffMax:  command.DefaultRetryBackOffMax,
}

var (
	outputPath    string
	putChecksum   string
	prefixDelete  bool
	restoreDays   int32
	standardClass string
)

var objectCmd = &cobra.Command{
	Use:   "object",
	Short: "Run raw storage commands against an S3-compatible bucket",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		return objectStorage.Validate()
	},
}

// withExecutor runs fn with an executor built from the configuration.
func withExecutor(fn func(e *executor.Executor) error) error {
	exec, err := config.NewExecutor(cfg, config.InitializeMetrics(cfg).Executor)
	if err != nil {
		return err
	}
	defer func() { _ = exec.Close() }()
	return fn(exec)
}

var objectCheckCmd = &cobra.Command{
	Use:   "check KEY",
	Short: "Report whether an object exists",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withExecutor(func(e *executor.Executor) error {
			res := e.Check(cmd.Context(), command.NewCheck(objectStorage, "cli", args[0]))
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", res.Command().EntryKey(), command.Outcome(res))
			return command.Err(res)
		})
	},
}

var objectGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Download an object to a file or stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withExecutor(func(e *executor.Executor) error {
			read := command.NewRead(objectStorage, "cli", args[0])

			return command.MatchRead(e.Read(ctx, read),
				func(p command.ReadPipe) error {
					rc, err := p.Entry.Open()
					if err != nil {
						return err
					}
					defer func() { _ = rc.Close() }()

					var w io.Writer = cmd.OutOrStdout()
					if outputPath != "" && outputPath != "-" {
						f, err := os.Create(outputPath)
						if err != nil {
							return err
						}
						defer func() { _ = f.Close() }()
						w = f
					}
					n, err := io.Copy(w, rc)
					if err != nil {
						return fmt.Errorf("download %s: %w", read.Key, err)
					}
					if outputPath != "" && outputPath != "-" {
						_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d bytes written to %s\n", read.Key, n, outputPath)
					}
					return nil
				},
				func(command.ReadNotFound) error {
					return fmt.Errorf("%s: %w", read.Key, executor.ErrNotFound)
				},
				func(u command.Unreachable) error { return u },
			)
		})
	},
}

var objectPutCmd = &cobra.Command{
	Use:   "put FILE KEY",
	Short: "Upload a local file, verifying its checksum",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		path, key := args[0], args[1]

		info, err := os.Stat(path)
		if err != nil {
			return err
		}

		var expected *command.Checksum
		if putChecksum != "" {
			sum, err := parseChecksum(putChecksum)
			if err != nil {
				return err
			}
			expected = &sum
		}

		entry := command.NewEntry(objectStorage, path, info.Size(), expected, func() (io.ReadCloser, error) {
			return os.Open(path)
		})

		return withExecutor(func(e *executor.Executor) error {
			res := e.Write(ctx, command.NewWrite(objectStorage, "cli", key, entry, expected))
			return command.MatchWrite(res,
				func(s command.WriteSuccess) error {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d bytes, %s\n", s.Cmd.Key, s.Size, s.Checksum)
					return nil
				},
				func(f command.WriteFailure) error { return f },
				func(u command.Unreachable) error { return u },
			)
		})
	},
}

var objectRmCmd = &cobra.Command{
	Use:   "rm KEY",
	Short: "Delete an object, or every object under a prefix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withExecutor(func(e *executor.Executor) error {
			del := command.NewDelete(objectStorage, "cli", args[0])
			if prefixDelete {
				del = command.NewDeletePrefix(objectStorage, "cli", args[0])
			}
			res := e.Delete(cmd.Context(), del)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", del.Key, command.Outcome(res))
			return command.Err(res)
		})
	},
}

var objectStatusCmd = &cobra.Command{
	Use:   "status KEY",
	Short: "Show the restoration status of an archived object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := objectStorage.EntryKey(args[0])
		return withExecutor(func(e *executor.Executor) error {
			st, err := e.Status(cmd.Context(), objectStorage, key, standardClass)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s size=%s expires=%s class=%s\n",
				key, st.Status, formatSize(st.Size), formatTime(st.ExpiresAt), st.StorageClass)
			return nil
		})
	},
}

var objectRestoreCmd = &cobra.Command{
	Use:   "restore KEY",
	Short: "Request the restoration of an archived object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := objectStorage.EntryKey(args[0])
		return withExecutor(func(e *executor.Executor) error {
			if err := e.Restore(cmd.Context(), objectStorage, key, restoreDays); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: restoration requested for %d day(s)\n", key, restoreDays)
			return nil
		})
	},
}

func init() {
	flags := objectCmd.PersistentFlags()
	flags.StringVar(&objectStorage.Endpoint, "endpoint", "", "object store endpoint URL (default: AWS)")
	flags.StringVar(&objectStorage.Region, "region", "us-east-1", "signing region")
	flags.StringVar(&objectStorage.Bucket, "bucket", "", "bucket name")
	flags.StringVar(&objectStorage.AccessKeyID, "access-key", "", "access key id (default: SDK credential chain)")
	flags.StringVar(&objectStorage.SecretAccessKey, "secret-key", "", "secret access key")
	flags.StringVar(&objectStorage.RootPath, "root", "", "root path prepended to keys")
	flags.IntVar(&objectStorage.MaxRetries, "max-retries", command.DefaultMaxRetries, "retries after the first attempt")
	_ = objectCmd.MarkPersistentFlagRequired("bucket")

	objectGetCmd.Flags().StringVarP(&outputPath, "output", "o", "-", "destination file, - for stdout")
	objectPutCmd.Flags().StringVar(&putChecksum, "checksum", "", "expected checksum, ALGO:HEX")
	objectRmCmd.Flags().BoolVar(&prefixDelete, "prefix", false, "delete every object under KEY")
	objectStatusCmd.Flags().StringVar(&standardClass, "standard-class", "", "storage class readable without restoration (default: STANDARD)")
	objectRestoreCmd.Flags().Int32Var(&restoreDays, "days", 1, "days the restored copy stays available")

	objectCmd.AddCommand(objectCheckCmd, objectGetCmd, objectPutCmd, objectRmCmd, objectStatusCmd, objectRestoreCmd)
	rootCmd.AddCommand(objectCmd)
}
