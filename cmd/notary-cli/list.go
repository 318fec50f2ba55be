package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"tlsn-notary/shared"
	"tlsn-notary/store"
)

var (
	listDB     string
	listExport string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived proofs",
	RunE: func(cmd *cobra.Command, args []string) error {
		archive, err := store.OpenArchive(listDB)
		if err != nil {
			return fmt.Errorf("opening proof archive: %w", err)
		}
		defer archive.Close()

		ctx := context.Background()
		if listExport != "" {
			proofJSON, err := archive.Load(ctx, listExport)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(proofJSON)
			return err
		}

		entries, err := archive.List(ctx)
		if err != nil {
			return fmt.Errorf("listing proofs: %w", err)
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stdout, "No proofs archived.")
			return nil
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SESSION\tSERVER\tCREATED\tBYTES")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", e.SessionID, e.ServerName, e.CreatedAt.Format(time.RFC3339), e.Size)
		}
		return tw.Flush()
	},
}

func init() {
	listCmd.Flags().StringVar(&listDB, "db", shared.GetEnvOrDefault("PROOF_DB", "proofs.db"), "proof archive path")
	listCmd.Flags().StringVar(&listExport, "export", "", "print the proof archived under this session id")
}
