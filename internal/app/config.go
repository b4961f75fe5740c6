package app

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/yungbote/neurobridge-chat/internal/data/db"
	"github.com/yungbote/neurobridge-chat/internal/platform/envutil"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
	"github.com/yungbote/neurobridge-chat/internal/services"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderLangChain = "langchain"
	ProviderHash      = "hash"
)

type Config struct {
	Port        string
	Environment string
	Version     string

	JWTSecretKey string
	CORSOrigins  []string

	DB db.Config

	RedisAddr         string
	RedisStreamPrefix string
	StreamReplayTTL   time.Duration
	StreamOpenTTL     time.Duration

	GenerationTimeout  time.Duration
	ReconnectFreshness time.Duration
	SSEHeartbeat       time.Duration
	ShutdownTimeout    time.Duration
	PromptCacheTTL     time.Duration

	ModelProvider string
	EmbedProvider string

	Quotas              services.Quotas
	QuotaFile           string
	AdmissionFailClosed bool

	MetricsEnabled        bool
	MetricsScrapeInterval time.Duration

	OtelEnabled     bool
	OtelEndpoint    string
	OtelHeaders     string
	OtelInsecure    bool
	OtelSampleRatio float64
}

func LoadConfig(log *logger.Logger) (Config, error) {
	defaults := services.DefaultQuotas()
	cfg := Config{
		Port:        envutil.String(log, "PORT", "8080"),
		Environment: envutil.String(log, "APP_ENV", "development"),
		Version:     envutil.String(log, "APP_VERSION", "dev"),

		JWTSecretKey: envutil.String(log, "JWT_SECRET_KEY", ""),
		CORSOrigins:  splitList(envutil.String(log, "CORS_ORIGINS", "")),

		DB: db.Config{
			Driver:        envutil.String(log, "DB_DRIVER", db.DriverPostgres),
			DSN:           postgresDSN(log),
			SQLitePath:    envutil.String(log, "SQLITE_PATH", "neurobridge-chat.db"),
			SlowThreshold: envutil.Duration(log, "DB_SLOW_THRESHOLD", time.Second),
		},

		RedisAddr:         envutil.String(log, "REDIS_ADDR", ""),
		RedisStreamPrefix: envutil.String(log, "REDIS_STREAM_PREFIX", "chat:stream:"),
		StreamReplayTTL:   envutil.Duration(log, "STREAM_REPLAY_TTL", 10*time.Minute),
		StreamOpenTTL:     envutil.Duration(log, "STREAM_OPEN_TTL", 30*time.Minute),

		GenerationTimeout:  envutil.Duration(log, "GENERATION_TIMEOUT", 5*time.Minute),
		ReconnectFreshness: envutil.Duration(log, "RECONNECT_FRESHNESS", services.DefaultFreshness),
		SSEHeartbeat:       envutil.Duration(log, "SSE_HEARTBEAT", 15*time.Second),
		ShutdownTimeout:    envutil.Duration(log, "SHUTDOWN_TIMEOUT", 30*time.Second),
		PromptCacheTTL:     envutil.Duration(log, "PROMPT_CACHE_TTL", 5*time.Minute),

		ModelProvider: strings.ToLower(envutil.String(log, "MODEL_PROVIDER", ProviderOpenAI)),
		EmbedProvider: strings.ToLower(envutil.String(log, "EMBED_PROVIDER", "")),

		Quotas: services.Quotas{
			Guest:   envutil.Int64(log, "QUOTA_GUEST", defaults.Guest),
			Regular: envutil.Int64(log, "QUOTA_REGULAR", defaults.Regular),
			Premium: envutil.Int64(log, "QUOTA_PREMIUM", defaults.Premium),
		},
		QuotaFile:           envutil.String(log, "QUOTA_FILE", ""),
		AdmissionFailClosed: envutil.Bool(log, "ADMISSION_FAIL_CLOSED", false),

		MetricsEnabled:        envutil.Bool(log, "METRICS_ENABLED", false),
		MetricsScrapeInterval: envutil.Duration(log, "METRICS_SCRAPE_INTERVAL", 15*time.Second),

		OtelEnabled:     envutil.Bool(log, "OTEL_ENABLED", false),
		OtelEndpoint:    envutil.String(log, "OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OtelHeaders:     envutil.String(log, "OTEL_EXPORTER_OTLP_HEADERS", ""),
		OtelInsecure:    envutil.Bool(log, "OTEL_EXPORTER_OTLP_INSECURE", false),
		OtelSampleRatio: envutil.Float64(log, "OTEL_SAMPLER_RATIO", 0.1),
	}
	if cfg.EmbedProvider == "" {
		cfg.EmbedProvider = defaultEmbedProvider(cfg.ModelProvider)
	}

	if cfg.QuotaFile != "" {
		q, err := services.LoadQuotasFile(cfg.QuotaFile, cfg.Quotas)
		if err != nil {
			return Config{}, err
		}
		cfg.Quotas = q
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.JWTSecretKey) == "" {
		return fmt.Errorf("JWT_SECRET_KEY is required")
	}
	switch c.ModelProvider {
	case ProviderOpenAI, ProviderAnthropic, ProviderLangChain:
	default:
		return fmt.Errorf("unknown MODEL_PROVIDER %q", c.ModelProvider)
	}
	switch c.EmbedProvider {
	case ProviderOpenAI, ProviderLangChain, ProviderHash:
	default:
		return fmt.Errorf("unknown EMBED_PROVIDER %q", c.EmbedProvider)
	}
	if c.Quotas.Guest < 0 || c.Quotas.Regular < 0 || c.Quotas.Premium < 0 {
		return fmt.Errorf("quotas must not be negative")
	}
	// The open-stream key must outlive the producer or resumers lose a live
	// generation.
	if c.StreamOpenTTL > 0 && c.GenerationTimeout > 0 && c.StreamOpenTTL < c.GenerationTimeout {
		return fmt.Errorf("STREAM_OPEN_TTL (%s) must not be shorter than GENERATION_TIMEOUT (%s)", c.StreamOpenTTL, c.GenerationTimeout)
	}
	return nil
}

// Anthropic has no embeddings endpoint, so it pairs with the hash embedder.
func defaultEmbedProvider(model string) string {
	switch model {
	case ProviderOpenAI, ProviderLangChain:
		return model
	default:
		return ProviderHash
	}
}

// postgresDSN prefers POSTGRES_DSN and otherwise assembles one from the
// discrete POSTGRES_* variables.
func postgresDSN(log *logger.Logger) string {
	if dsn := envutil.String(log, "POSTGRES_DSN", ""); dsn != "" {
		return dsn
	}
	u := url.URL{
		Scheme: "postgres",
		User: url.UserPassword(
			envutil.String(log, "POSTGRES_USER", "postgres"),
			envutil.String(log, "POSTGRES_PASSWORD", "postgres"),
		),
		Host: envutil.String(log, "POSTGRES_HOST", "localhost") + ":" + envutil.String(log, "POSTGRES_PORT", "5432"),
		Path: envutil.String(log, "POSTGRES_NAME", "neurobridge_chat"),
	}
	q := url.Values{}
	q.Set("sslmode", envutil.String(log, "POSTGRES_SSLMODE", "disable"))
	u.RawQuery = q.Encode()
	return u.String()
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
