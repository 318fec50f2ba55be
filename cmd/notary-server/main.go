package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tlsn-notary/notary"
	"tlsn-notary/shared"
)

func main() {
	config := LoadServerConfig()

	logger, err := shared.NewLoggerFromEnv("notary-server")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	signer, err := loadSigner(config, logger)
	if err != nil {
		logger.Fatal("Failed to load signing key", zap.Error(err))
	}

	verifier := notary.NewVerifier(signer, logger)
	verifier.SetLimits(config.MaxSentData, config.MaxRecvData)
	service := notary.NewService(verifier, config.Path, config.SessionTimeout, logger)

	// WriteTimeout stays unset: websocket sessions outlive a single response.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Port),
		Handler:           service.Routes(),
		ReadHeaderTimeout: 30 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting notary server",
			zap.Int("port", config.Port),
			zap.String("path", config.Path),
			zap.String("notary_address", verifier.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-serverErr:
		logger.Critical("Server failed", zap.Error(err))
	}

	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
	}

	logger.Info("Shutdown complete")
}

func loadSigner(config *ServerConfig, logger *shared.Logger) (*shared.SigningKeyPair, error) {
	if config.SigningKey != "" {
		return shared.LoadSigningKeyPair(config.SigningKey)
	}
	signer, err := shared.GenerateSigningKeyPair()
	if err != nil {
		return nil, err
	}
	logger.Warn("NOTARY_KEY not set, using an ephemeral signing key",
		zap.String("notary_address", signer.GetEthAddress().Hex()))
	return signer, nil
}
