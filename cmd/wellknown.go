package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/shortlink-edge/internal/storage"
)

// newWellKnownCmd creates the 'wellknown' command group for managing the
// per-domain association files served under /.well-known/.
func newWellKnownCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wellknown",
		Short: "Manage per-domain .well-known files",
	}
	cmd.AddCommand(newWellKnownPutCmd())
	return cmd
}

func newWellKnownPutCmd() *cobra.Command {
	var contentType string
	cmd := &cobra.Command{
		Use:   "put <domain> <file> <source>",
		Short: "Upload a .well-known file for a domain",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			domain, file, source := args[0], args[1], args[2]
			if !supportedWellKnown(cfg.Edge.WellKnownFiles, file) {
				return fmt.Errorf("%s is not a served well-known file (have %v)", file, cfg.Edge.WellKnownFiles)
			}
			f, err := os.Open(filepath.Clean(source))
			if err != nil {
				return fmt.Errorf("open %s: %w", source, err)
			}
			defer f.Close()

			app, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer func() {
				if cerr := app.Close(context.WithoutCancel(cmd.Context())); cerr != nil {
					app.Logger().Warn("failed to close application", zap.Error(cerr))
				}
			}()
			if cfg.Storage.Backend == "" || cfg.Storage.Backend == "memory" {
				app.Logger().Warn("memory storage backend selected; the upload will not outlive this process")
			}

			uri, err := app.BlobStore().PutObject(cmd.Context(),
				storage.WellKnownPath(cfg.Storage.Prefix, domain, file), contentType, f)
			if err != nil {
				return fmt.Errorf("upload %s for %s: %w", file, domain, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), uri)
			return nil
		},
	}
	cmd.Flags().StringVar(&contentType, "content-type", "application/json", "content type stored with the file")
	return cmd
}

func supportedWellKnown(files []string, file string) bool {
	for _, f := range files {
		if f == file {
			return true
		}
	}
	return false
}
