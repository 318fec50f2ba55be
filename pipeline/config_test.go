package pipeline

import (
	"errors"
	"testing"
	"time"

	"tlsn-notary/notary"
	"tlsn-notary/shared"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("MODEL_API_DOMAIN", "api.example.com")
	t.Setenv("MODEL_API_PORT", "8443")
	t.Setenv("MODEL_API_KEY", "sk-test")
	t.Setenv("MODEL_ID", "test-model")
	t.Setenv("REQUEST_TOPICS_TO_CENSOR", "authorization,x-api-key")
	t.Setenv("RESPONSE_JSON_PATHS_TO_CENSOR", "$.id")
	t.Setenv("NOTARY_MODE", "remote")
	t.Setenv("NOTARY_HOST", "notary.example.com")
	t.Setenv("DEFER_DECRYPTION", "false")
	t.Setenv("SESSION_TIMEOUT_SECONDS", "30")

	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.API.Address() != "api.example.com:8443" {
		t.Errorf("Expected api.example.com:8443, got %s", cfg.API.Address())
	}
	if cfg.API.InferenceRoute != DefaultInferenceRoute {
		t.Errorf("Expected default route, got %s", cfg.API.InferenceRoute)
	}
	if cfg.Model.ID != "test-model" {
		t.Errorf("Expected test-model, got %s", cfg.Model.ID)
	}
	if len(cfg.Privacy.RequestTopicsToCensor) != 2 || cfg.Privacy.RequestTopicsToCensor[1] != "x-api-key" {
		t.Errorf("Unexpected request topics %q", cfg.Privacy.RequestTopicsToCensor)
	}
	if len(cfg.Privacy.ResponseTopicsToCensor) != len(DefaultResponseTopics) {
		t.Errorf("Expected default response topics, got %q", cfg.Privacy.ResponseTopicsToCensor)
	}
	if len(cfg.Privacy.ResponseJSONPathsToCensor) != 1 {
		t.Errorf("Unexpected JSON paths %q", cfg.Privacy.ResponseJSONPathsToCensor)
	}
	if cfg.Notary.Mode != NotaryModeRemote || cfg.Notary.Port != DefaultNotaryPort || !cfg.Notary.TLS {
		t.Errorf("Unexpected notary settings %+v", cfg.Notary)
	}
	if cfg.DeferDecryption {
		t.Error("Expected deferred decryption to be disabled")
	}
	if cfg.SessionTimeout != 30*time.Second {
		t.Errorf("Expected 30s, got %v", cfg.SessionTimeout)
	}
}

func TestLoadConfigRequiresAPIKey(t *testing.T) {
	t.Setenv("MODEL_API_KEY", "")
	_, err := LoadConfig(nil)

	var cfgErr *shared.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected ConfigurationError, got %v", err)
	}
	if cfgErr.Field != "MODEL_API_KEY" {
		t.Errorf("Expected MODEL_API_KEY, got %s", cfgErr.Field)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"MissingDomain", func(c *Config) { c.API.ServerDomain = "" }, "MODEL_API_DOMAIN"},
		{"BadPort", func(c *Config) { c.API.Port = 70000 }, "MODEL_API_PORT"},
		{"MissingRoute", func(c *Config) { c.API.InferenceRoute = "" }, "MODEL_API_ROUTE"},
		{"MissingModel", func(c *Config) { c.Model.ID = "" }, "MODEL_ID"},
		{"ZeroTimeout", func(c *Config) { c.SessionTimeout = 0 }, "SESSION_TIMEOUT_SECONDS"},
		{"UnknownMode", func(c *Config) { c.Notary.Mode = "mpc" }, "NOTARY_MODE"},
		{"RemoteWithoutHost", func(c *Config) { c.Notary.Mode = NotaryModeRemote; c.Notary.Host = "" }, "NOTARY_HOST"},
		{"Valid", func(c *Config) {}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.API.APIKey = "sk-test"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.field == "" {
				if err != nil {
					t.Errorf("Expected valid config, got %v", err)
				}
				return
			}
			var cfgErr *shared.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Expected ConfigurationError, got %v", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, cfgErr.Field)
			}
		})
	}
}

func TestNewNotarizer(t *testing.T) {
	kp, err := shared.GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	n, err := NewNotarizer(NotarySettings{Mode: NotaryModeLocal, SigningKey: kp.PrivateKeyHex()}, nil)
	if err != nil {
		t.Fatalf("NewNotarizer failed: %v", err)
	}
	local, ok := n.(*notary.LocalNotarizer)
	if !ok {
		t.Fatalf("Expected *notary.LocalNotarizer, got %T", n)
	}
	if local.Address() != kp.GetEthAddress().Hex() {
		t.Errorf("Expected notary %s, got %s", kp.GetEthAddress().Hex(), local.Address())
	}

	n, err = NewNotarizer(NotarySettings{Mode: NotaryModeRemote, Host: "notary.example.com", Port: 443, Path: "v1", TLS: true}, nil)
	if err != nil {
		t.Fatalf("NewNotarizer failed: %v", err)
	}
	remote, ok := n.(*notary.RemoteNotarizer)
	if !ok {
		t.Fatalf("Expected *notary.RemoteNotarizer, got %T", n)
	}
	if remote.URL() != "wss://notary.example.com:443/v1/notarize" {
		t.Errorf("Unexpected URL %s", remote.URL())
	}

	var cfgErr *shared.ConfigurationError
	if _, err := NewNotarizer(NotarySettings{Mode: NotaryModeLocal, SigningKey: "zz"}, nil); !errors.As(err, &cfgErr) {
		t.Errorf("Expected ConfigurationError for bad key, got %v", err)
	}
	if _, err := NewNotarizer(NotarySettings{Mode: "mpc"}, nil); !errors.As(err, &cfgErr) {
		t.Errorf("Expected ConfigurationError for unknown mode, got %v", err)
	}
}
