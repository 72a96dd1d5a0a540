package cliparse

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           int
	StorageBackend string
	DatabaseURL    string
	RedisURL       string
	TopicsFile     string
	IdentitySecret string

	VoteBudget           int
	DailyVoteCap         int
	SubnetDailyCap       int
	CredentialsPerMinute int
	SessionTTL           time.Duration
	MinReasoningWords    int
	MaxReasoningBytes    int
	RequireReasoning     bool
	TallyWeighting       string
	SynthesisEvery       int
	AuditLogSize         int
	StatusLimit          int

	RequestsPerSecond float64
	RequestBurst      int
	// TrustProxy takes the client address from X-Forwarded-For/X-Real-IP
	TrustProxy bool
	// AllowedOrigins are host patterns ("app.example.com", "*.example.com")
	// browsers may call the API and open streams from
	AllowedOrigins []string

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	MetricsEnabled bool
}

// Defaults returns the configuration used when nothing is set
func Defaults() Config {
	return Config{
		Port:                 3318,
		StorageBackend:       "memory",
		TopicsFile:           "topics.yaml",
		VoteBudget:           9,
		DailyVoteCap:         5,
		SubnetDailyCap:       50,
		CredentialsPerMinute: 3,
		SessionTTL:           30 * time.Minute,
		MinReasoningWords:    100,
		MaxReasoningBytes:    16 << 10,
		RequireReasoning:     true,
		TallyWeighting:       "quality",
		SynthesisEvery:       10,
		AuditLogSize:         1000,
		StatusLimit:          10,
		RequestsPerSecond:    5,
		RequestBurst:         10,
		MetricsEnabled:       true,
	}
}

// ParseFlags reads flags, then environment variables (optionally loaded
// from a .env file), then defaults, and validates the result
func ParseFlags(args []string) (Config, error) {
	cfg := Defaults()

	var (
		port                             int
		backend, dbURL, redisURL, topics string
		secret, envFile                  string
	)

	fs := flag.NewFlagSet("agora", flag.ContinueOnError)

	// Network and storage config (can be CLI args or env)
	fs.IntVar(&port, "p", 0, "Server port")
	fs.StringVar(&backend, "s", "", "Storage backend (memory, redis, postgres or sqlite)")
	fs.StringVar(&dbURL, "d", "", "Database URL for postgres/sqlite")
	fs.StringVar(&redisURL, "redis", "", "Redis URL")
	fs.StringVar(&topics, "topics", "", "Topics YAML file")
	fs.StringVar(&envFile, "env", "", "Environment file to load (default .env if present)")

	// Secrets (prefer env variables, but allow CLI for dev)
	fs.StringVar(&secret, "secret", "", "Identity secret (prefer env)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := loadEnvFile(envFile); err != nil {
		return Config{}, err
	}

	// Fall back to environment variables
	var err error
	if cfg.Port, err = pick(port, "PORT", cfg.Port, strconv.Atoi); err != nil {
		return Config{}, err
	}
	cfg.StorageBackend = pickString(backend, "STORAGE_BACKEND", cfg.StorageBackend)
	cfg.DatabaseURL = pickString(dbURL, "DATABASE_URL", "")
	cfg.RedisURL = pickString(redisURL, "REDIS_URL", "")
	cfg.TopicsFile = pickString(topics, "TOPICS_FILE", cfg.TopicsFile)
	cfg.IdentitySecret = pickString(secret, "IDENTITY_SECRET", "")

	ints := []struct {
		env string
		dst *int
	}{
		{"VOTE_BUDGET", &cfg.VoteBudget},
		{"DAILY_VOTE_CAP", &cfg.DailyVoteCap},
		{"SUBNET_DAILY_CAP", &cfg.SubnetDailyCap},
		{"CREDENTIALS_PER_MINUTE", &cfg.CredentialsPerMinute},
		{"MIN_REASONING_WORDS", &cfg.MinReasoningWords},
		{"MAX_REASONING_BYTES", &cfg.MaxReasoningBytes},
		{"SYNTHESIS_EVERY", &cfg.SynthesisEvery},
		{"AUDIT_LOG_SIZE", &cfg.AuditLogSize},
		{"STATUS_LIMIT", &cfg.StatusLimit},
		{"REQUEST_BURST", &cfg.RequestBurst},
	}
	for _, v := range ints {
		if *v.dst, err = pick(0, v.env, *v.dst, strconv.Atoi); err != nil {
			return Config{}, err
		}
	}

	if cfg.SessionTTL, err = pick(0, "SESSION_TTL", cfg.SessionTTL, time.ParseDuration); err != nil {
		return Config{}, err
	}
	if cfg.RequireReasoning, err = pick(false, "REQUIRE_REASONING", cfg.RequireReasoning, strconv.ParseBool); err != nil {
		return Config{}, err
	}
	if cfg.MetricsEnabled, err = pick(false, "METRICS_ENABLED", cfg.MetricsEnabled, strconv.ParseBool); err != nil {
		return Config{}, err
	}
	if cfg.TrustProxy, err = pick(false, "TRUST_PROXY", cfg.TrustProxy, strconv.ParseBool); err != nil {
		return Config{}, err
	}
	parseFloat := func(s string) (float64, error) { return strconv.ParseFloat(s, 64) }
	if cfg.RequestsPerSecond, err = pick(0, "REQUESTS_PER_SECOND", cfg.RequestsPerSecond, parseFloat); err != nil {
		return Config{}, err
	}

	cfg.TallyWeighting = pickString("", "TALLY_WEIGHTING", cfg.TallyWeighting)
	cfg.AllowedOrigins = splitList(os.Getenv("ALLOWED_ORIGINS"))
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAIModel = os.Getenv("OPENAI_MODEL")
	cfg.OpenAIBaseURL = os.Getenv("OPENAI_BASE_URL")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required settings and their combinations
func (c Config) Validate() error {
	// Secrets - MUST be provided
	if c.IdentitySecret == "" {
		return errors.New("IDENTITY_SECRET required")
	}

	switch c.StorageBackend {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return errors.New("redis URL required for redis storage (use -redis or REDIS_URL env)")
		}
	case "postgres", "sqlite":
		if c.DatabaseURL == "" {
			return errors.New("database URL required (use -d or DATABASE_URL env)")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}

	switch c.TallyWeighting {
	case "quality", "linear", "unit":
	default:
		return fmt.Errorf("unknown TALLY_WEIGHTING %q", c.TallyWeighting)
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.VoteBudget <= 0 {
		return errors.New("VOTE_BUDGET must be positive")
	}
	if c.SessionTTL <= 0 {
		return errors.New("SESSION_TTL must be positive")
	}
	return nil
}

// loadEnvFile loads path, or .env when path is empty. Only an explicitly
// named file is required to exist. Existing variables are never overridden.
func loadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err != nil && (explicit || !errors.Is(err, fs.ErrNotExist)) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func pickString(flagVal, env, def string) string {
	if flagVal != "" {
		return flagVal
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

// splitList parses a comma-separated list, dropping empty entries
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// pick returns flagVal when set, else the parsed env variable, else def
func pick[T comparable](flagVal T, env string, def T, parse func(string) (T, error)) (T, error) {
	var zero T
	if flagVal != zero {
		return flagVal, nil
	}
	raw := os.Getenv(env)
	if raw == "" {
		return def, nil
	}
	v, err := parse(raw)
	if err != nil {
		return zero, fmt.Errorf("invalid %s env variable: %w", env, err)
	}
	return v, nil
}
