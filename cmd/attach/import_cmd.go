package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/meigma/attach"
)

type importOptions struct {
	uploader        string
	filename        string
	contractClasses []string
	orGet           bool
}

func newImportCmd(root *rootOptions) *cobra.Command {
	opts := &importOptions{}
	cmd := &cobra.Command{
		Use:   "import <path>",
		Short: "Import an archive and print its content hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			importOpts := []attach.ImportOption{
				attach.ImportWithUploader(opts.uploader),
				attach.ImportWithFilename(chooseFirst(opts.filename, filepath.Base(path))),
			}
			if len(opts.contractClasses) > 0 {
				importOpts = append(importOpts, attach.ImportWithContractClasses(opts.contractClasses))
			}

			return withService(root, func(ctx context.Context, svc *attach.Service) error {
				importFn := svc.Import
				if opts.orGet {
					importFn = svc.ImportOrGet
				}
				hash, err := importFn(ctx, f, importOpts...)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), hash)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.uploader, "uploader", "", "uploader identity to record")
	cmd.Flags().StringVar(&opts.filename, "filename", "", "file name to record (defaults to the path's base name)")
	cmd.Flags().StringArrayVar(&opts.contractClasses, "contract-class", nil, "declared contract class name (repeatable, ordered)")
	cmd.Flags().BoolVar(&opts.orGet, "or-get", false, "treat already-stored content as success")
	return cmd
}

func chooseFirst(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
