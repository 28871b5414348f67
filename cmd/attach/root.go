package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/meigma/attach"
	"github.com/meigma/attach/store/sqlite"
)

type rootOptions struct {
	dbPath  string
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "attach",
		Short:         "Content-addressed attachment store",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.dbPath, "db", "attachments.db", "path to the attachment database")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log service activity to stderr")

	cmd.AddCommand(
		newImportCmd(opts),
		newGetCmd(opts),
		newExistsCmd(opts),
		newListCmd(opts),
	)
	return cmd
}

// withService opens the store, builds a service, and runs fn against it.
func withService(opts *rootOptions, fn func(ctx context.Context, svc *attach.Service) error) error {
	store, err := sqlite.Open(opts.dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	var svcOpts []attach.ServiceOption
	if opts.verbose {
		svcOpts = append(svcOpts, attach.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, nil))))
	}
	svc, err := attach.NewService(store, svcOpts...)
	if err != nil {
		return err
	}
	return fn(context.Background(), svc)
}
