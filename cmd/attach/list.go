package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meigma/attach"
)

type listOptions struct {
	uploaders     []string
	filenames     []string
	contractClass string
	minVersion    int
	sortBy        string
	desc          bool
}

func newListCmd(root *rootOptions) *cobra.Command {
	opts := &listOptions{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List content hashes matching the given criteria",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			criteria := attach.Criteria{
				Uploaders:     opts.uploaders,
				Filenames:     opts.filenames,
				ContractClass: opts.contractClass,
				MinVersion:    opts.minVersion,
				SortBy:        attach.SortField(opts.sortBy),
			}
			if opts.desc {
				criteria.SortDir = attach.SortDesc
			}

			return withService(root, func(ctx context.Context, svc *attach.Service) error {
				hashes, err := svc.Query(ctx, criteria)
				if err != nil {
					return err
				}
				for _, hash := range hashes {
					fmt.Fprintln(cmd.OutOrStdout(), hash)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&opts.uploaders, "uploader", nil, "match any of these uploaders (repeatable)")
	cmd.Flags().StringArrayVar(&opts.filenames, "filename", nil, "match any of these file names (repeatable)")
	cmd.Flags().StringVar(&opts.contractClass, "contract-class", "", "match archives declaring this contract class")
	cmd.Flags().IntVar(&opts.minVersion, "min-version", 0, "match archives with at least this contract version")
	cmd.Flags().StringVar(&opts.sortBy, "sort", "", "sort field: inserted_at, filename, or version")
	cmd.Flags().BoolVar(&opts.desc, "desc", false, "sort descending")
	return cmd
}
