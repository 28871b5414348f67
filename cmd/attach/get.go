package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/opencontainers/go-digest"
	"github.com/spf13/cobra"

	"github.com/meigma/attach"
)

func newGetCmd(root *rootOptions) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "get <hash>",
		Short: "Write an attachment's verified content to stdout or a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := digest.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid content hash %q: %w", args[0], err)
			}

			return withService(root, func(ctx context.Context, svc *attach.Service) error {
				att, ok, err := svc.Open(ctx, hash)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no attachment for %s", hash)
				}

				out := cmd.OutOrStdout()
				if outPath != "" {
					f, err := os.Create(outPath)
					if err != nil {
						return err
					}
					defer f.Close()
					out = f
				}

				rc, err := att.Open(ctx)
				if err != nil {
					return err
				}
				if _, err := io.Copy(out, rc); err != nil {
					_ = rc.Close()
					return err
				}
				return rc.Close()
			})
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write content to this file instead of stdout")
	return cmd
}

func newExistsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "exists <hash>",
		Short: "Check whether content is stored (exit status 1 when absent)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := digest.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid content hash %q: %w", args[0], err)
			}

			return withService(root, func(ctx context.Context, svc *attach.Service) error {
				ok, err := svc.Exists(ctx, hash)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no attachment for %s", hash)
				}
				fmt.Fprintln(cmd.OutOrStdout(), hash)
				return nil
			})
		},
	}
}
