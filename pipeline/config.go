package pipeline

import (
	"crypto/x509"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"tlsn-notary/notary"
	"tlsn-notary/shared"
)

// Notary modes
const (
	NotaryModeLocal  = "local"
	NotaryModeRemote = "remote"
)

// Defaults of the hosted model API and the public notary
const (
	DefaultAPIDomain      = "api.red-pill.ai"
	DefaultAPIPort        = 443
	DefaultInferenceRoute = "/v1/chat/completions"
	DefaultModelListRoute = "/v1/models"
	DefaultNotaryHost     = "notary.pse.dev"
	DefaultNotaryPort     = 443
	DefaultNotaryPath     = "v0.1.0-alpha.6"
	DefaultSessionTimeout = 2 * time.Minute
	DefaultRequestTopic   = "authorization"
	defaultModelID        = "gpt-4o"
)

// DefaultResponseTopics are response headers whose values identify the
// caller's request or account
var DefaultResponseTopics = []string{
	"anthropic-ratelimit-requests-reset",
	"anthropic-ratelimit-tokens-reset",
	"request-id",
	"x-kong-request-id",
	"cf-ray",
	"server-timing",
	"report-to",
}

// APISettings locate the model API
type APISettings struct {
	ServerDomain   string
	Port           int
	DialAddress    string // host:port to dial, defaults to ServerDomain:Port
	InferenceRoute string
	ModelListRoute string
	APIKey         string
	RootCAs        *x509.CertPool // nil uses the system pool
}

// Address returns the network address of the API server
func (a APISettings) Address() string {
	if a.DialAddress != "" {
		return a.DialAddress
	}
	return net.JoinHostPort(a.ServerDomain, strconv.Itoa(a.Port))
}

// ModelSettings select the model and its sampling defaults
type ModelSettings struct {
	ID          string
	SetupPrompt string
	TopP        *float64
	Temperature *float64
}

// PrivacySettings name what must never be disclosed
type PrivacySettings struct {
	RequestTopicsToCensor     []string
	ResponseTopicsToCensor    []string
	ResponseJSONPathsToCensor []string
}

// NotarySettings select and locate the notary
type NotarySettings struct {
	Mode        string
	Host        string
	Port        int
	Path        string
	TLS         bool
	SigningKey  string // hex key of the local notary, random when empty
	MaxSentData int
	MaxRecvData int
}

// Config is the complete configuration of one pipeline
type Config struct {
	API             APISettings
	Model           ModelSettings
	Privacy         PrivacySettings
	Notary          NotarySettings
	DeferDecryption bool
	SessionTimeout  time.Duration
	ProofDB         string
}

// DefaultConfig returns the built-in configuration without an API key
func DefaultConfig() *Config {
	return &Config{
		API: APISettings{
			ServerDomain:   DefaultAPIDomain,
			Port:           DefaultAPIPort,
			InferenceRoute: DefaultInferenceRoute,
			ModelListRoute: DefaultModelListRoute,
		},
		Model: ModelSettings{ID: defaultModelID},
		Privacy: PrivacySettings{
			RequestTopicsToCensor:  []string{DefaultRequestTopic},
			ResponseTopicsToCensor: append([]string(nil), DefaultResponseTopics...),
		},
		Notary: NotarySettings{
			Mode: NotaryModeLocal,
			Host: DefaultNotaryHost,
			Port: DefaultNotaryPort,
			Path: DefaultNotaryPath,
			TLS:  true,
		},
		DeferDecryption: true,
		SessionTimeout:  DefaultSessionTimeout,
	}
}

// LoadConfig reads .env (if present) and the environment on top of the
// defaults, then validates the result.
func LoadConfig(logger *shared.Logger) (*Config, error) {
	if logger == nil {
		logger = shared.NewNopLogger()
	}
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded", zap.Error(err))
	} else {
		logger.Debug("Loaded .env file")
	}

	def := DefaultConfig()
	cfg := &Config{
		API: APISettings{
			ServerDomain:   shared.GetEnvOrDefault("MODEL_API_DOMAIN", def.API.ServerDomain),
			Port:           shared.GetEnvIntOrDefault("MODEL_API_PORT", def.API.Port),
			DialAddress:    shared.GetEnvOrDefault("MODEL_API_ADDR", ""),
			InferenceRoute: shared.GetEnvOrDefault("MODEL_API_ROUTE", def.API.InferenceRoute),
			ModelListRoute: shared.GetEnvOrDefault("MODEL_LIST_ROUTE", def.API.ModelListRoute),
			APIKey:         shared.GetEnvOrDefault("MODEL_API_KEY", ""),
		},
		Model: ModelSettings{
			ID:          shared.GetEnvOrDefault("MODEL_ID", def.Model.ID),
			SetupPrompt: shared.GetEnvOrDefault("MODEL_SETUP_PROMPT", ""),
		},
		Privacy: PrivacySettings{
			RequestTopicsToCensor:     shared.GetEnvListOrDefault("REQUEST_TOPICS_TO_CENSOR", def.Privacy.RequestTopicsToCensor),
			ResponseTopicsToCensor:    shared.GetEnvListOrDefault("RESPONSE_TOPICS_TO_CENSOR", def.Privacy.ResponseTopicsToCensor),
			ResponseJSONPathsToCensor: shared.GetEnvListOrDefault("RESPONSE_JSON_PATHS_TO_CENSOR", nil),
		},
		Notary: NotarySettings{
			Mode:        shared.GetEnvOrDefault("NOTARY_MODE", def.Notary.Mode),
			Host:        shared.GetEnvOrDefault("NOTARY_HOST", def.Notary.Host),
			Port:        shared.GetEnvIntOrDefault("NOTARY_PORT", def.Notary.Port),
			Path:        shared.GetEnvOrDefault("NOTARY_PATH", def.Notary.Path),
			TLS:         shared.GetEnvBoolOrDefault("NOTARY_TLS", def.Notary.TLS),
			SigningKey:  shared.GetEnvOrDefault("NOTARY_KEY", ""),
			MaxSentData: shared.GetEnvIntOrDefault("MAX_SENT_DATA", 0),
			MaxRecvData: shared.GetEnvIntOrDefault("MAX_RECV_DATA", 0),
		},
		DeferDecryption: shared.GetEnvBoolOrDefault("DEFER_DECRYPTION", def.DeferDecryption),
		SessionTimeout:  time.Duration(shared.GetEnvIntOrDefault("SESSION_TIMEOUT_SECONDS", int(def.SessionTimeout/time.Second))) * time.Second,
		ProofDB:         shared.GetEnvOrDefault("PROOF_DB", def.ProofDB),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info("Configuration loaded",
		zap.String("api_domain", cfg.API.ServerDomain),
		zap.String("model", cfg.Model.ID),
		zap.String("notary_mode", cfg.Notary.Mode),
		zap.Int("request_topics", len(cfg.Privacy.RequestTopicsToCensor)),
		zap.Int("response_topics", len(cfg.Privacy.ResponseTopicsToCensor)),
		zap.Bool("defer_decryption", cfg.DeferDecryption))
	return cfg, nil
}

// Validate checks the fields the pipeline cannot run without
func (c *Config) Validate() error {
	switch {
	case c.API.ServerDomain == "":
		return shared.NewConfigurationError("MODEL_API_DOMAIN", "server domain is required")
	case c.API.Port <= 0 || c.API.Port > 65535:
		return shared.NewConfigurationError("MODEL_API_PORT", fmt.Sprintf("invalid port %d", c.API.Port))
	case c.API.InferenceRoute == "":
		return shared.NewConfigurationError("MODEL_API_ROUTE", "inference route is required")
	case c.API.APIKey == "":
		return shared.NewConfigurationError("MODEL_API_KEY", "API key is required")
	case c.Model.ID == "":
		return shared.NewConfigurationError("MODEL_ID", "model id is required")
	case c.SessionTimeout <= 0:
		return shared.NewConfigurationError("SESSION_TIMEOUT_SECONDS", "timeout must be positive")
	}
	switch c.Notary.Mode {
	case NotaryModeLocal:
	case NotaryModeRemote:
		if c.Notary.Host == "" {
			return shared.NewConfigurationError("NOTARY_HOST", "remote notary host is required")
		}
		if c.Notary.Port <= 0 || c.Notary.Port > 65535 {
			return shared.NewConfigurationError("NOTARY_PORT", fmt.Sprintf("invalid port %d", c.Notary.Port))
		}
	default:
		return shared.NewConfigurationError("NOTARY_MODE", fmt.Sprintf("unknown mode %q, expected local or remote", c.Notary.Mode))
	}
	return nil
}

// NewNotarizer builds the notarizer variant selected by the settings
func NewNotarizer(s NotarySettings, logger *shared.Logger) (notary.Notarizer, error) {
	switch s.Mode {
	case NotaryModeLocal, "":
		var signer *shared.SigningKeyPair
		if s.SigningKey != "" {
			var err error
			signer, err = shared.LoadSigningKeyPair(s.SigningKey)
			if err != nil {
				return nil, shared.NewConfigurationError("NOTARY_KEY", err.Error())
			}
		}
		return notary.NewLocalNotarizer(signer, logger)
	case NotaryModeRemote:
		return &notary.RemoteNotarizer{Host: s.Host, Port: s.Port, Path: s.Path, TLS: s.TLS}, nil
	default:
		return nil, shared.NewConfigurationError("NOTARY_MODE", fmt.Sprintf("unknown mode %q", s.Mode))
	}
}
