package main

import (
	"log"
	"time"

	"github.com/joho/godotenv"

	"tlsn-notary/shared"
)

type ServerConfig struct {
	Port           int           `json:"port"`
	Path           string        `json:"path"`
	SigningKey     string        `json:"-"` // hex secp256k1 key, generated when empty
	MaxSentData    int           `json:"max_sent_data"`
	MaxRecvData    int           `json:"max_recv_data"`
	SessionTimeout time.Duration `json:"session_timeout"`
}

func LoadServerConfig() *ServerConfig {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	return &ServerConfig{
		Port:           shared.GetEnvIntOrDefault("PORT", 7047),
		Path:           shared.GetEnvOrDefault("NOTARY_PATH", ""),
		SigningKey:     shared.GetEnvOrDefault("NOTARY_KEY", ""),
		MaxSentData:    shared.GetEnvIntOrDefault("MAX_SENT_DATA", 0),
		MaxRecvData:    shared.GetEnvIntOrDefault("MAX_RECV_DATA", 0),
		SessionTimeout: time.Duration(shared.GetEnvIntOrDefault("SESSION_TIMEOUT_SECONDS", 300)) * time.Second,
	}
}
