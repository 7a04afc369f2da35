package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"repolens/internal/repoctx"
)

type Config struct {
	Port        string
	Env         string
	CORSOrigins []string
	Log         LogConfig
	Context     ContextConfig
	LLM         LLMConfig
	DatabaseURL string
	Artifact    ArtifactConfig
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or text
}

type ContextConfig struct {
	MaxChars int
}

type LLMConfig struct {
	GeminiAPIKey string
	GroqAPIKey   string
	RPS          float64
	Burst        int
	CallTimeout  time.Duration
	ModelsFile   string
	// Fake registers offline fake models instead of remote providers.
	Fake   bool
	Chains ModelChains
}

type ArtifactConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Compress  bool
}

func DefaultConfig() Config {
	return Config{
		Port: ":8081",
		Env:  "local",
		Log:  LogConfig{Level: "info", Format: "text"},
		Context: ContextConfig{
			MaxChars: repoctx.DefaultMaxChars,
		},
		LLM: LLMConfig{
			RPS:         1,
			Burst:       1,
			CallTimeout: 2 * time.Minute,
		},
		Artifact: ArtifactConfig{
			Region:   "us-east-1",
			Bucket:   "repolens-artifacts",
			UseSSL:   true,
			Compress: true,
		},
	}
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	return LoadWith(nil)
}

// LoadWith is Load with overrides that take precedence over the environment.
func LoadWith(overrides map[string]string) (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(func(key string) string {
		if v, ok := overrides[key]; ok {
			return v
		}
		return os.Getenv(key)
	})
}

// FromEnv builds a Config from DefaultConfig and the given lookup. A models
// file named by REPOLENS_MODELS_FILE is loaded into LLM.Chains.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := DefaultConfig()
	env := func(key string) string { return strings.TrimSpace(getenv(key)) }
	var errs []error

	if p := env("PORT"); p != "" {
		if !strings.HasPrefix(p, ":") {
			p = ":" + p
		}
		cfg.Port = p
	}
	cfg.Env = firstNonEmpty(env("APP_ENV"), cfg.Env)
	cfg.CORSOrigins = splitList(env("REPOLENS_CORS_ORIGINS"))
	cfg.Log.Level = strings.ToLower(firstNonEmpty(env("REPOLENS_LOG_LEVEL"), cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(firstNonEmpty(env("REPOLENS_LOG_FORMAT"), cfg.Log.Format))

	if v := env("REPOLENS_CONTEXT_MAX_CHARS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("REPOLENS_CONTEXT_MAX_CHARS: %w", err))
		}
		cfg.Context.MaxChars = n
	}

	cfg.LLM.GeminiAPIKey = env("GEMINI_API_KEY")
	cfg.LLM.GroqAPIKey = env("GROQ_API_KEY")
	if v := env("LLM_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("LLM_RPS: %w", err))
		}
		cfg.LLM.RPS = f
	}
	if v := env("LLM_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("LLM_BURST: %w", err))
		}
		cfg.LLM.Burst = n
	}
	if v := env("REPOLENS_CALL_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("REPOLENS_CALL_TIMEOUT: %w", err))
		}
		cfg.LLM.CallTimeout = d
	}
	cfg.LLM.Fake = parseBool(env("REPOLENS_FAKE_LLM"), false)
	cfg.LLM.ModelsFile = env("REPOLENS_MODELS_FILE")
	if cfg.LLM.ModelsFile != "" {
		chains, err := LoadModelChains(cfg.LLM.ModelsFile)
		if err != nil {
			errs = append(errs, err)
		}
		cfg.LLM.Chains = chains
	}

	cfg.DatabaseURL = env("REPOLENS_PG_DSN")
	cfg.Artifact = loadArtifactConfig(cfg.Env, env, cfg.Artifact)

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadArtifactConfig(appEnv string, env func(string) string, def ArtifactConfig) ArtifactConfig {
	local := strings.EqualFold(appEnv, "local")
	endpoint := env("ARTIFACT_S3_ENDPOINT")
	useSSL := parseBool(env("ARTIFACT_S3_USE_SSL"), def.UseSSL)
	if local {
		endpoint = firstNonEmpty(endpoint, env("ARTIFACT_MINIO_ENDPOINT"))
		useSSL = false
	}
	return ArtifactConfig{
		Enabled:   endpoint != "",
		Endpoint:  endpoint,
		Region:    firstNonEmpty(env("ARTIFACT_S3_REGION"), def.Region),
		AccessKey: firstNonEmpty(env("ARTIFACT_S3_ACCESS_KEY"), env("MINIO_ROOT_USER")),
		SecretKey: firstNonEmpty(env("ARTIFACT_S3_SECRET_KEY"), env("MINIO_ROOT_PASSWORD")),
		Bucket:    firstNonEmpty(env("ARTIFACT_S3_BUCKET"), def.Bucket),
		UseSSL:    useSSL,
		Compress:  parseBool(env("ARTIFACT_COMPRESS"), def.Compress),
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Context.MaxChars < 0 {
		errs = append(errs, fmt.Errorf("context max chars must be >= 0, got %d", c.Context.MaxChars))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	if c.LLM.RPS < 0 {
		errs = append(errs, fmt.Errorf("llm rps must be >= 0, got %g", c.LLM.RPS))
	}
	if c.LLM.RPS > 0 && c.LLM.Burst < 1 {
		errs = append(errs, fmt.Errorf("llm burst must be >= 1 when rps is set, got %d", c.LLM.Burst))
	}
	if c.LLM.CallTimeout < 0 {
		errs = append(errs, fmt.Errorf("call timeout must be >= 0, got %s", c.LLM.CallTimeout))
	}
	if !c.LLM.Fake && c.LLM.GeminiAPIKey == "" && c.LLM.GroqAPIKey == "" {
		errs = append(errs, errors.New("no llm provider configured: set GEMINI_API_KEY, GROQ_API_KEY or REPOLENS_FAKE_LLM"))
	}
	if c.Artifact.Enabled {
		if c.Artifact.Bucket == "" {
			errs = append(errs, errors.New("artifact bucket is required"))
		}
		if c.Artifact.AccessKey == "" || c.Artifact.SecretKey == "" {
			errs = append(errs, errors.New("artifact credentials are required when an endpoint is set"))
		}
	}
	return errors.Join(errs...)
}

func parseBool(raw string, def bool) bool {
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

// splitList parses a comma separated list, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
