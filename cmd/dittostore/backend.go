package main

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/marmos91/dittostore/pkg/backend"
	"github.com/marmos91/dittostore/pkg/command"
	"github.com/marmos91/dittostore/pkg/progress"
	"github.com/marmos91/dittostore/pkg/request"
	"github.com/spf13/cobra"
)

var (
	subDirectory string
	algorithm    string
	checksums    []string
	cacheDir     string
)

var storeCmd = &cobra.Command{
	Use:   "store FILE...",
	Short: "Store local files into a backend",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireBackend(); err != nil {
			return err
		}
		ctx := cmd.Context()

		algo, err := command.ParseAlgorithm(algorithm)
		if err != nil {
			return err
		}

		names := make(map[string]string, len(args))
		reqs := make([]request.StoreRequest, 0, len(args))
		for _, arg := range args {
			path, err := filepath.Abs(arg)
			if err != nil {
				return err
			}
			sum, size, err := fileChecksum(ctx, path, algo)
			if err != nil {
				return err
			}
			r := request.StoreRequest{
				ID:           uuid.NewString(),
				FileName:     filepath.Base(path),
				OriginURL:    "file://" + path,
				SubDirectory: subDirectory,
				Checksum:     sum,
				FileSize:     size,
			}
			names[r.ID] = arg
			reqs = append(reqs, r)
		}

		return withApp(ctx, func(a *app) error {
			b, err := a.reg.Get(backendName)
			if err != nil {
				return err
			}

			subsets, rejected := b.PrepareForStorage(reqs)
			for _, rej := range rejected {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "rejected %s: %s\n", names[rej.Request.ID], rej.Reason)
			}

			rec := progress.NewRecorder(false)
			for _, subset := range subsets {
				b.Store(ctx, subset, rec)
			}
			if err := printEvents(cmd.OutOrStdout(), rec, names); err != nil {
				return err
			}
			if len(rejected) > 0 {
				return fmt.Errorf("%d request(s) rejected", len(rejected))
			}
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete URL...",
	Short: "Delete stored files from a backend",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireBackend(); err != nil {
			return err
		}
		sums, err := checksumsFor(args, checksums)
		if err != nil {
			return err
		}

		names := make(map[string]string, len(args))
		reqs := make([]request.DeleteRequest, len(args))
		for i, u := range args {
			reqs[i] = request.DeleteRequest{
				ID:       uuid.NewString(),
				URL:      u,
				Checksum: sums[i],
				FileSize: command.UnknownSize,
			}
			names[reqs[i].ID] = u
		}

		ctx := cmd.Context()
		return withApp(ctx, func(a *app) error {
			b, err := a.reg.Get(backendName)
			if err != nil {
				return err
			}

			rec := progress.NewRecorder(false)
			for _, subset := range b.PrepareForDeletion(reqs) {
				b.Delete(ctx, subset, rec)
			}
			return printEvents(cmd.OutOrStdout(), rec, names)
		})
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore URL...",
	Short: "Restore files from a nearline backend into its cache",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireBackend(); err != nil {
			return err
		}
		sums, err := checksumsFor(args, checksums)
		if err != nil {
			return err
		}

		names := make(map[string]string, len(args))
		reqs := make([]request.RestoreRequest, len(args))
		for i, u := range args {
			reqs[i] = request.RestoreRequest{
				ID:       uuid.NewString(),
				URL:      u,
				Checksum: sums[i],
				FileSize: command.UnknownSize,
				CacheDir: cacheDir,
			}
			names[reqs[i].ID] = u
		}

		ctx := cmd.Context()
		return withApp(ctx, func(a *app) error {
			b, err := a.reg.Nearline(backendName)
			if err != nil {
				return err
			}

			rec := progress.NewRecorder(false)
			for _, subset := range b.PrepareForRestoration(reqs) {
				b.Restore(ctx, subset, rec)
			}
			return printEvents(cmd.OutOrStdout(), rec, names)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status URL...",
	Short: "Show the restoration status of files in a nearline backend",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireBackend(); err != nil {
			return err
		}

		ctx := cmd.Context()
		return withApp(ctx, func(a *app) error {
			b, err := a.reg.Nearline(backendName)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer func() { _ = tw.Flush() }()
			_, _ = fmt.Fprintln(tw, "URL\tSTATUS\tSIZE\tEXPIRES\tCLASS")

			failed := 0
			for _, u := range args {
				st, err := b.Availability(ctx, u)
				if err != nil {
					failed++
					_, _ = fmt.Fprintf(tw, "%s\tERROR\t-\t-\t%v\n", u, err)
					continue
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					u, st.Status, formatSize(st.Size), formatTime(st.ExpiresAt), st.StorageClass)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d lookup(s) failed", failed, len(args))
			}
			return nil
		})
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate URL...",
	Short: "Check that locations belong to a backend",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireBackend(); err != nil {
			return err
		}

		return withApp(cmd.Context(), func(a *app) error {
			b, err := a.reg.Get(backendName)
			if err != nil {
				return err
			}

			invalid := 0
			out := cmd.OutOrStdout()
			for _, u := range args {
				var errs backend.URLErrors
				if b.IsValidURL(u, &errs) {
					_, _ = fmt.Fprintf(out, "%s: valid\n", u)
					continue
				}
				invalid++
				_, _ = fmt.Fprintf(out, "%s: invalid\n", u)
				for _, p := range errs.Problems() {
					_, _ = fmt.Fprintf(out, "  - %s\n", p)
				}
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d url(s) invalid", invalid, len(args))
			}
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{storeCmd, deleteCmd, restoreCmd, statusCmd, validateCmd} {
		c.Flags().StringVarP(&backendName, "backend", "b", "", "backend name from the configuration")
		rootCmd.AddCommand(c)
	}

	storeCmd.Flags().StringVar(&subDirectory, "subdir", "", "destination directory inside the backend")
	storeCmd.Flags().StringVar(&algorithm, "algorithm", "MD5", "checksum algorithm (MD5, SHA-256)")

	for _, c := range []*cobra.Command{deleteCmd, restoreCmd} {
		c.Flags().StringSliceVar(&checksums, "checksum", nil, "checksum per url, ALGO:HEX (repeatable, in url order)")
	}
	restoreCmd.Flags().StringVar(&cacheDir, "cache-dir", "", "internal cache directory (default: backend cache_path)")
}
