package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var (
	runSuffix = regexp.MustCompile(`/run.*$`)

	appOnce   sync.Once
	appConfig *Config
	appErr    error
)

// Config is the full runtime configuration. Values come from an optional YAML
// file first, then environment variables (and .env) override them.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Gemini  GeminiConfig  `yaml:"gemini"`
	Space   SpaceConfig   `yaml:"space"`
	Stripe  StripeConfig  `yaml:"stripe"`
	Jobs    JobsConfig    `yaml:"jobs"`
	Redis   RedisConfig   `yaml:"redis"`
	Storage StorageConfig `yaml:"storage"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	TempDir     string `yaml:"temp_dir"`
	MaxFileSize int64  `yaml:"max_file_size"`
}

type LogConfig struct {
	Level       string   `yaml:"level"`
	Encoding    string   `yaml:"encoding"`
	OutputPaths []string `yaml:"output_paths"`
}

type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// Configured reports whether report generation can talk to the provider.
func (g GeminiConfig) Configured() bool { return strings.TrimSpace(g.APIKey) != "" }

type SpaceConfig struct {
	URL          string        `yaml:"url"`
	Token        string        `yaml:"token"`
	Prompt       string        `yaml:"prompt"`
	PollInterval time.Duration `yaml:"poll_interval"`
	PollAttempts int           `yaml:"poll_attempts"`
	Timeout      time.Duration `yaml:"timeout"`
}

func (s SpaceConfig) Configured() bool { return strings.TrimSpace(s.URL) != "" }

// BaseURL is the Space root; URL may point at a /run… endpoint below it.
func (s SpaceConfig) BaseURL() string { return SpaceBaseURL(s.URL) }

// SpaceBaseURL 去掉 Space 地址路径中的 /run… 后缀
func SpaceBaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimRight(raw, "/")
	}
	u.Path = runSuffix.ReplaceAllString(u.Path, "")
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimRight(u.String(), "/")
}

type StripeConfig struct {
	WebhookSecret    string   `yaml:"webhook_secret"`
	ForwardEndpoints []string `yaml:"forward_endpoints"`
	MarkPaidEndpoint string   `yaml:"mark_paid_endpoint"`
}

type JobsConfig struct {
	Store         string `yaml:"store"` // memory | redis | mysql | sqlite3
	DSN           string `yaml:"dsn"`
	Queue         string `yaml:"queue"` // local | asynq
	MaxFiles      int    `yaml:"max_files"`
	RetentionDays int    `yaml:"retention_days"`
	Concurrency   int    `yaml:"concurrency"`
}

func (j JobsConfig) Retention() time.Duration {
	return time.Duration(j.RetentionDays) * 24 * time.Hour
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type StorageConfig struct {
	Type  string      `yaml:"type"` // local | s3 | minio
	Dir   string      `yaml:"dir"`
	S3    S3Config    `yaml:"s3"`
	Minio MinioConfig `yaml:"minio"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        ":8080",
			TempDir:     os.TempDir(),
			MaxFileSize: 50 << 20,
		},
		Log: LogConfig{
			Level:       "info",
			Encoding:    "json",
			OutputPaths: []string{"stdout", "logs/app.log"},
		},
		Gemini: GeminiConfig{Model: "gemini-2.5-flash"},
		Space: SpaceConfig{
			Prompt:       "Generate an organized PDF report with charts, an executive summary and analysis of the attached data.",
			PollInterval: 2 * time.Second,
			PollAttempts: 60,
			Timeout:      5 * time.Minute,
		},
		Jobs: JobsConfig{
			Store:         "memory",
			Queue:         "local",
			MaxFiles:      5,
			RetentionDays: 7,
			Concurrency:   5,
		},
		Redis:   RedisConfig{Addr: "localhost:6379"},
		Storage: StorageConfig{Type: "local", Dir: "data/jobs"},
	}
}

// Get loads the configuration once per process. The YAML path is taken from
// SCIZON_CONFIG; a missing file is not an error.
func Get() (*Config, error) {
	appOnce.Do(func() {
		loadDotEnv()
		appConfig, appErr = Load(os.Getenv("SCIZON_CONFIG"))
	})
	return appConfig, appErr
}

// Load builds a Config from path (optional) and the current environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("decode config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			log.Printf("Warning: config file %s not found, using defaults and environment", path)
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if len(cfg.Stripe.ForwardEndpoints) == 0 && cfg.Space.URL != "" {
		cfg.Stripe.ForwardEndpoints = DefaultForwardEndpoints(cfg.Space.URL)
	}
	if cfg.Stripe.MarkPaidEndpoint == "" && cfg.Space.URL != "" {
		cfg.Stripe.MarkPaidEndpoint = cfg.Space.BaseURL() + "/api/mark-paid"
	}
	return cfg, nil
}

// DefaultForwardEndpoints is the ordered list of Space paths that accept a
// forwarded payment event.
func DefaultForwardEndpoints(spaceURL string) []string {
	base := SpaceBaseURL(spaceURL)
	return []string{
		base + "/stripe/webhook",
		base + "/api/stripe/webhook",
		base + "/api/mark-paid",
		base + "/mark-paid",
	}
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Server.Addr, "SERVER_ADDR")
	setString(&cfg.Server.TempDir, "TEMP_DIR")
	if err := setInt64(&cfg.Server.MaxFileSize, "MAX_FILE_SIZE"); err != nil {
		return err
	}

	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Encoding, "LOG_ENCODING")

	setString(&cfg.Gemini.APIKey, "VITE_GEMINI_API_KEY", "GOOGLE_API_KEY", "GEMINI_API_KEY")
	setString(&cfg.Gemini.Model, "GEMINI_MODEL")

	setString(&cfg.Space.URL, "HF_SPACE_URL")
	setString(&cfg.Space.Token, "HF_API_KEY", "HF_TOKEN")
	setString(&cfg.Space.Prompt, "HF_PROMPT")
	if err := setInt(&cfg.Space.PollAttempts, "HF_POLL_ATTEMPTS"); err != nil {
		return err
	}

	setString(&cfg.Stripe.WebhookSecret, "STRIPE_WEBHOOK_SECRET")
	if v := os.Getenv("STRIPE_FORWARD_ENDPOINTS"); v != "" {
		cfg.Stripe.ForwardEndpoints = splitList(v)
	}
	setString(&cfg.Stripe.MarkPaidEndpoint, "STRIPE_MARK_PAID_ENDPOINT")

	setString(&cfg.Jobs.Store, "JOB_STORE")
	setString(&cfg.Jobs.DSN, "JOB_STORE_DSN")
	setString(&cfg.Jobs.Queue, "QUEUE_BACKEND")
	if err := setInt(&cfg.Jobs.RetentionDays, "RETENTION_DAYS"); err != nil {
		return err
	}
	if err := setInt(&cfg.Jobs.Concurrency, "WORKER_CONCURRENCY"); err != nil {
		return err
	}

	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	if err := setInt(&cfg.Redis.DB, "REDIS_DB"); err != nil {
		return err
	}

	setString(&cfg.Storage.Type, "STORAGE_TYPE")
	setString(&cfg.Storage.Dir, "STORAGE_DIR")
	applyS3Env(&cfg.Storage.S3)
	applyMinioEnv(&cfg.Storage.Minio)
	return nil
}

// loadDotEnv loads the .env at the project root, then one in the working
// directory. Existing environment variables win.
func loadDotEnv() {
	_, filename, _, _ := runtime.Caller(0)
	rootDir := filepath.Dir(filepath.Dir(filename))
	envPath := filepath.Join(rootDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		if err := godotenv.Load(); err != nil {
			log.Printf("Warning: .env file not found at %s, falling back to environment variables", envPath)
		}
	}
}

// setString assigns the first non-empty variable among keys; later keys take
// precedence over earlier ones.
func setString(dst *string, keys ...string) {
	for i := len(keys) - 1; i >= 0; i-- {
		if v := os.Getenv(keys[i]); v != "" {
			*dst = v
			return
		}
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func setInt64(dst *int64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
