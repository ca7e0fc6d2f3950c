// Package config loads worker configuration from the process environment.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Mode selects which peripheral drivers a worker process runs.
type Mode string

const (
	ModeTranscription Mode = "transcription"
	ModeAIJobs        Mode = "ai-jobs"
	ModeBoth          Mode = "both"
)

func (m Mode) Transcribes() bool { return m == ModeTranscription || m == ModeBoth }
func (m Mode) RunsAIJobs() bool  { return m == ModeAIJobs || m == ModeBoth }

// Config is the fully-resolved worker configuration.
type Config struct {
	WorkerID string
	Mode     Mode
	LogLevel string

	Store     StoreConfig
	Discovery DiscoveryConfig
	Heartbeat HeartbeatConfig
	Provider  ProviderConfig
	LiveKit   LiveKitConfig
	AIJobs    AIJobsConfig
	HTTP      HTTPConfig
}

type StoreConfig struct {
	URL        string
	ServiceKey string
	DirectURL  string // enables the LISTEN/NOTIFY channel when set
}

type DiscoveryConfig struct {
	PollingInterval     time.Duration
	RealtimeTimeout     time.Duration
	RealtimeRetry       time.Duration
	ClaimCacheDuration  time.Duration
	EnablePollingFallback bool
	EnableDatabaseNotify  bool
	RealtimeURL           string // empty disables the realtime changefeed notifier
}

type HeartbeatConfig struct {
	Interval        time.Duration
	StaleThreshold  time.Duration
	ReapInterval    time.Duration
}

// ProviderConfig configures the external streaming transcription service.
type ProviderConfig struct {
	WSURL          string
	BearerToken    string
	Language       string
	OperatingPoint string
	EnablePartials bool
	MaxDelaySec    float64
}

type LiveKitConfig struct {
	Host      string
	APIKey    string
	APISecret string
}

type AIJobsConfig struct {
	PollInterval time.Duration
	Workers      int
	GenAIAPIKey  string
}

type HTTPConfig struct {
	Port        string // empty disables the health server
	MetricsPort string // empty disables a standalone metrics listener
}

// Load reads configuration from the environment, optionally pre-loaded from a .env file.
// Command-line --mode= takes precedence over MODE when both are present.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] .env load skipped: %v", err)
	}

	storeURL := os.Getenv("STORE_URL")
	if storeURL == "" {
		return nil, fmt.Errorf("STORE_URL is required")
	}
	serviceKey := os.Getenv("STORE_SERVICE_KEY")
	if serviceKey == "" {
		return nil, fmt.Errorf("STORE_SERVICE_KEY is required")
	}

	mode := Mode(firstNonEmpty(modeFromArgs(args), os.Getenv("MODE"), string(ModeTranscription)))
	switch mode {
	case ModeTranscription, ModeAIJobs, ModeBoth:
	default:
		return nil, fmt.Errorf("invalid MODE %q", mode)
	}

	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		workerID = uuid.NewString()
	}

	cfg := &Config{
		WorkerID: workerID,
		Mode:     mode,
		LogLevel: firstNonEmpty(os.Getenv("LOG_LEVEL"), "info"),
		Store: StoreConfig{
			URL:        storeURL,
			ServiceKey: serviceKey,
			DirectURL:  os.Getenv("STORE_DIRECT_URL"),
		},
		Discovery: DiscoveryConfig{
			PollingInterval:       durationMsEnv("POLLING_INTERVAL_MS", 5000),
			RealtimeTimeout:       durationMsEnv("REALTIME_TIMEOUT_MS", 30000),
			RealtimeRetry:         durationMsEnv("REALTIME_RETRY_INTERVAL_MS", 120000),
			ClaimCacheDuration:    durationMsEnv("ROOM_CLAIM_CACHE_DURATION_MS", 30000),
			EnablePollingFallback: boolEnv("ENABLE_POLLING_FALLBACK", true),
			EnableDatabaseNotify:  boolEnv("ENABLE_DATABASE_NOTIFY", true),
			RealtimeURL:           os.Getenv("REALTIME_CHANGEFEED_URL"),
		},
		Heartbeat: HeartbeatConfig{
			Interval:       durationMsEnv("HEARTBEAT_INTERVAL_MS", 15000),
			StaleThreshold: 45 * time.Second,
			ReapInterval:   60 * time.Second,
		},
		Provider: ProviderConfig{
			WSURL:          os.Getenv("STT_PROVIDER_WS_URL"),
			BearerToken:    os.Getenv("STT_PROVIDER_TOKEN"),
			Language:       firstNonEmpty(os.Getenv("STT_PROVIDER_LANGUAGE"), "en"),
			OperatingPoint: firstNonEmpty(os.Getenv("STT_PROVIDER_OPERATING_POINT"), "enhanced"),
			EnablePartials: boolEnv("STT_PROVIDER_ENABLE_PARTIALS", false),
			MaxDelaySec:    2.0,
		},
		LiveKit: LiveKitConfig{
			Host:      os.Getenv("LIVEKIT_HOST"),
			APIKey:    os.Getenv("LIVEKIT_API_KEY"),
			APISecret: os.Getenv("LIVEKIT_API_SECRET"),
		},
		AIJobs: AIJobsConfig{
			PollInterval: durationMsEnv("AI_JOBS_POLL_INTERVAL_MS", 5000),
			Workers:      intEnv("AI_JOBS_WORKERS", 2),
			GenAIAPIKey:  os.Getenv("GENAI_API_KEY"),
		},
		HTTP: HTTPConfig{
			Port:        os.Getenv("PORT"),
			MetricsPort: os.Getenv("METRICS_PORT"),
		},
	}

	if !cfg.Discovery.EnableDatabaseNotify {
		cfg.Store.DirectURL = ""
	} else if cfg.Store.DirectURL == "" {
		cfg.Discovery.EnableDatabaseNotify = false
	}

	return cfg, nil
}

func modeFromArgs(args []string) string {
	for _, a := range args {
		if strings.HasPrefix(a, "--mode=") {
			return strings.TrimPrefix(a, "--mode=")
		}
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func durationMsEnv(key string, def int) time.Duration {
	return time.Duration(intEnv(key, def)) * time.Millisecond
}

func intEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using default %d", key, v, def)
		return def
	}
	return n
}

func boolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using default %v", key, v, def)
		return def
	}
	return b
}
