package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tlsn-notary/model"
	"tlsn-notary/pipeline"
	"tlsn-notary/store"
)

var (
	runMessages    []string
	runTools       []string
	runTopP        float64
	runTemperature float64
	runOut         string
	runBinary      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Notarize one chat completion and write its proof",
	RunE:  runNotarize,
}

func init() {
	runCmd.Flags().StringArrayVarP(&runMessages, "message", "m", nil, "chat message as a JSON object (repeatable)")
	runCmd.Flags().StringArrayVar(&runTools, "tool", nil, "tool definition as a JSON object (repeatable)")
	runCmd.Flags().Float64Var(&runTopP, "top-p", 0, "nucleus sampling override")
	runCmd.Flags().Float64Var(&runTemperature, "temperature", 0, "sampling temperature override")
	runCmd.Flags().StringVarP(&runOut, "out", "o", "proof.json", "where to write the proof")
	runCmd.Flags().BoolVar(&runBinary, "binary", false, "write the compact binary encoding instead of JSON")
	_ = runCmd.MarkFlagRequired("message")
}

func runNotarize(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := pipeline.LoadConfig(logger)
	if err != nil {
		return err
	}
	messages, err := model.ParseMessages(runMessages)
	if err != nil {
		return err
	}
	tools, err := model.ParseTools(runTools)
	if err != nil {
		return err
	}

	notarizer, err := pipeline.NewNotarizer(cfg.Notary, logger)
	if err != nil {
		return err
	}

	var opts []pipeline.Option
	if cfg.ProofDB != "" {
		archive, err := store.OpenArchive(cfg.ProofDB)
		if err != nil {
			return fmt.Errorf("opening proof archive: %w", err)
		}
		defer archive.Close()
		opts = append(opts, pipeline.WithArchive(archive))
	}

	req := pipeline.Request{Messages: messages, Tools: tools}
	if cmd.Flags().Changed("top-p") {
		req.TopP = &runTopP
	}
	if cmd.Flags().Changed("temperature") {
		req.Temperature = &runTemperature
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := pipeline.NewOrchestrator(cfg, notarizer, logger, opts...).Run(ctx, req)
	if err != nil {
		return err
	}

	out := result.ProofJSON
	if runBinary {
		if out, err = result.Proof.MarshalBinary(); err != nil {
			return fmt.Errorf("encoding proof: %w", err)
		}
	}
	if err := os.WriteFile(runOut, out, 0o644); err != nil {
		return fmt.Errorf("writing proof: %w", err)
	}
	logger.Info("Proof written", zap.String("path", runOut), zap.String("session_id", result.SessionID))

	fmt.Fprintln(os.Stdout, result.Response)
	return nil
}
