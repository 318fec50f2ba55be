package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tlsn-notary/shared"
)

const version = "0.1.0"

const (
	exitSuccess = 0
	exitFailure = 1
	exitUsage   = 2
)

var rootCmd = &cobra.Command{
	Use:           "notary-cli",
	Short:         "Notarized chat completions with selective disclosure",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print notary-cli version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(os.Stdout, "notary-cli version %s\n", version)
	},
}

func main() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
	os.Exit(exitSuccess)
}

func exitCode(err error) int {
	var inputErr *shared.InputError
	var cfgErr *shared.ConfigurationError
	if errors.As(err, &inputErr) || errors.As(err, &cfgErr) {
		return exitUsage
	}
	return exitFailure
}

func newLogger() (*shared.Logger, error) {
	return shared.NewLoggerFromEnv("notary-cli")
}
