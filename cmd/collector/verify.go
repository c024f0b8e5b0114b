package main

import (
	"fmt"
	"text/tabwriter"

	"klinecollector/internal/localstore"

	"github.com/spf13/cobra"
)

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check every local parquet file against its manifest",
		RunE:  runVerify,
	}
	cmd.Flags().String("local-dir", "", "directory of the local parquet files")
	return cmd
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, _, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	results, err := localstore.New(cfg.Local.Dir, log).Verify()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tROWS\tSTATUS")
	bad := 0
	for _, r := range results {
		status := "ok"
		if r.Err != nil {
			status = r.Err.Error()
			bad++
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", r.Path, r.Rows, status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if bad > 0 {
		return fmt.Errorf("%w: %d of %d files failed verification", errIncomplete, bad, len(results))
	}
	return nil
}
