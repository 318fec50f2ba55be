package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"tlsn-notary/proofverifier"
)

var (
	verifyNotary     string
	verifyServerName string
)

var verifyCmd = &cobra.Command{
	Use:   "verify <proof-file>",
	Short: "Verify a proof and print the disclosed transcripts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		disclosed, err := proofverifier.ValidateFile(args[0], proofverifier.Options{
			NotaryAddress: verifyNotary,
			ServerName:    verifyServerName,
		})
		if err != nil {
			return fmt.Errorf("proof rejected: %w", err)
		}

		w := os.Stdout
		fmt.Fprintf(w, "Session:     %s\n", disclosed.SessionID)
		fmt.Fprintf(w, "Server:      %s\n", disclosed.ServerName)
		fmt.Fprintf(w, "Notary:      %s\n", disclosed.NotaryAddress)
		fmt.Fprintf(w, "Handshake:   %s\n", disclosed.HandshakeTime.Format(time.RFC3339))
		fmt.Fprintf(w, "Notarized:   %s\n", disclosed.NotarizedAt.Format(time.RFC3339))
		fmt.Fprintf(w, "\n--- sent (%d ranges) ---\n%s\n", len(disclosed.SentRanges), proofverifier.FormatTranscript(disclosed.Sent))
		fmt.Fprintf(w, "\n--- received (%d ranges) ---\n%s\n", len(disclosed.RecvRanges), proofverifier.FormatTranscript(disclosed.Recv))
		return nil
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyNotary, "notary", "", "expected notary address")
	verifyCmd.Flags().StringVar(&verifyServerName, "server", "", "expected server name")
}
