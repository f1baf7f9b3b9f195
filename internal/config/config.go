// Package config provides configuration management for the harness
// control plane. Configuration is loaded from environment variables
// with the HARNESS_ prefix, with an optional YAML file overlay for
// settings that don't fit comfortably into a single env var (suite
// filters, custom batch-size lists).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully resolved configuration for one harness process.
type Config struct {
	Server        ServerConfig
	Suite         SuiteConfig
	EventBus      EventBusConfig
	Coordinator   CoordinatorConfig
	Executor      ExecutorConfig
	Evaluator     EvaluatorConfig
	Queue         QueueConfig
	Store         StoreConfig
	ModelClient   ModelClientConfig
	Secrets       SecretsConfig
	SyntaxCheck   SyntaxCheckConfig
	Notifications NotificationsConfig
	Variant       VariantConfig
	Log           LogConfig
	Observability ObservabilityConfig
}

// ServerConfig configures the REST transport and its realtime
// websocket leg.
type ServerConfig struct {
	HTTPPort        int
	MetricsPort     int
	ShutdownTimeout time.Duration
}

// SuiteConfig points at the on-disk suite definition the harness
// loads at startup (internal/suite.LoadDefinitionFile).
type SuiteConfig struct {
	DefinitionPath string
}

// EventBusConfig tunes the Event Bus (internal/eventbus.Config).
type EventBusConfig struct {
	QueueSize   int
	HistorySize int
}

// CoordinatorConfig tunes the per-Run batch concurrency cap
// (internal/coordinator.Config).
type CoordinatorConfig struct {
	Concurrency int64
}

// ExecutorConfig tunes per-batch execution (internal/executor.Config).
type ExecutorConfig struct {
	Timeout    time.Duration
	MaxRetries int
}

// EvaluatorConfig tunes the Evaluator Scheduler's concurrency cap
// (internal/evaluator.Config).
type EvaluatorConfig struct {
	Concurrency int64
}

// QueueConfig tunes the Queue Manager's default queue-wide
// concurrency when a submission omits one.
type QueueConfig struct {
	DefaultQueueSize int
}

// StoreBackend selects which Store implementation backs the control
// plane.
type StoreBackend string

const (
	StoreBackendFS       StoreBackend = "fs"
	StoreBackendPostgres StoreBackend = "postgres"
	StoreBackendSQLite   StoreBackend = "sqlite"
	StoreBackendObject   StoreBackend = "object"
)

// StoreConfig selects and configures the Store backend.
type StoreConfig struct {
	Backend StoreBackend

	FSDir string

	PostgresURL string

	SQLitePath string

	ObjectEndpoint        string
	ObjectBucket          string
	ObjectRegion          string
	ObjectAccessKeyID     string
	ObjectSecretAccessKey string
	ObjectUseSSL          bool

	CleanupEnabled  bool
	CleanupInterval time.Duration
	Retention       time.Duration
}

// ModelClientConfig configures the reference HTTP ModelClient
// (internal/modelclient.HTTPConfig). APIKey is left empty when
// Secrets.Enabled is true — the control plane resolves it from Vault
// at startup instead.
type ModelClientConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// SecretsConfig configures Vault-backed secret resolution
// (internal/secrets.VaultConfig). When Enabled is false, ModelClient's
// APIKey is read directly from env instead.
type SecretsConfig struct {
	Enabled   bool
	Address   string
	Token     string
	Namespace string
	Mount     string
	Timeout   time.Duration
}

// SyntaxCheckBackend selects which SyntaxChecker implementation runs
// the hard compile/lint check.
type SyntaxCheckBackend string

const (
	SyntaxCheckBackendSubprocess SyntaxCheckBackend = "subprocess"
	SyntaxCheckBackendDocker     SyntaxCheckBackend = "docker"
)

// SyntaxCheckConfig configures the SyntaxChecker.
type SyntaxCheckConfig struct {
	Backend SyntaxCheckBackend
	Timeout time.Duration

	// Subprocess backend.
	Command []string
	FileExt string
	WorkDir string

	// Docker backend.
	DockerHost string
	Image      string
}

// NotificationsConfig configures the notify Subscriber's channels.
type NotificationsConfig struct {
	WebhookEnabled bool
	WebhookURL     string
	WebhookSecret  string

	SlackEnabled   bool
	SlackURL       string
	SlackUsername  string
	SlackIconEmoji string
}

// VariantBackend selects which VariantCatalog implementation serves
// variant lookups.
type VariantBackend string

const (
	VariantBackendStatic VariantBackend = "static"
	VariantBackendGit    VariantBackend = "git"
)

// VariantConfig configures the VariantCatalog. Static catalogs and git
// catalog entries are both defined in the YAML overlay file (Load's
// configPath param), not individual env vars, since both are lists.
type VariantConfig struct {
	Backend  VariantBackend
	GitToken string
}

// LogConfig configures pkg/log's zerolog-backed Logger.
type LogConfig struct {
	Level  string
	Format string
}

// ObservabilityConfig configures pkg/tracing's OTLP exporter.
type ObservabilityConfig struct {
	TracingEnabled    bool
	TracingEndpoint   string
	TracingInsecure   bool
	TracingSampleRate float64
	Environment       string
}

// FileOverlay holds settings loaded from an optional YAML config
// file, layered on top of env vars for values that don't fit a single
// env var well.
type FileOverlay struct {
	SuiteFilter    []string          `yaml:"suite_filter"`
	BatchSizes     []int             `yaml:"batch_sizes"`
	Variants       []VariantEntry    `yaml:"variants"`
	GitCatalogRepo GitCatalogRepo    `yaml:"git_catalog_repo"`
	WebhookHeaders map[string]string `yaml:"webhook_headers"`
}

// VariantEntry describes one statically-declared Variant.
type VariantEntry struct {
	Name      string `yaml:"name"`
	DocRef    string `yaml:"doc_ref"`
	SizeBytes int64  `yaml:"size_bytes"`
}

// GitCatalogRepo describes where git-backed variant documentation
// lives, for VariantBackendGit.
type GitCatalogRepo struct {
	Owner string `yaml:"owner"`
	Repo  string `yaml:"repo"`
	Ref   string `yaml:"ref"`
	Path  string `yaml:"path"`
}

// Load reads Config from HARNESS_-prefixed environment variables and,
// if configPath is non-empty, layers a YAML FileOverlay on top. It
// validates the result before returning.
func Load(configPath string) (*Config, *FileOverlay, error) {
	cfg := &Config{
		Server: ServerConfig{
			HTTPPort:        getEnvInt("HARNESS_SERVER_HTTP_PORT", 8080),
			MetricsPort:     getEnvInt("HARNESS_SERVER_METRICS_PORT", 9090),
			ShutdownTimeout: getEnvDuration("HARNESS_SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Suite: SuiteConfig{
			DefinitionPath: getEnv("HARNESS_SUITE_DEFINITION_PATH", ""),
		},
		EventBus: EventBusConfig{
			QueueSize:   getEnvInt("HARNESS_EVENTBUS_QUEUE_SIZE", 256),
			HistorySize: getEnvInt("HARNESS_EVENTBUS_HISTORY_SIZE", 1024),
		},
		Coordinator: CoordinatorConfig{
			Concurrency: int64(getEnvInt("HARNESS_COORDINATOR_CONCURRENCY", 4)),
		},
		Executor: ExecutorConfig{
			Timeout:    getEnvDuration("HARNESS_EXECUTOR_TIMEOUT", 10*time.Minute),
			MaxRetries: getEnvInt("HARNESS_EXECUTOR_MAX_RETRIES", 3),
		},
		Evaluator: EvaluatorConfig{
			Concurrency: int64(getEnvInt("HARNESS_EVALUATOR_CONCURRENCY", 2)),
		},
		Queue: QueueConfig{
			DefaultQueueSize: getEnvInt("HARNESS_QUEUE_DEFAULT_SIZE", 1),
		},
		Store: StoreConfig{
			Backend:               StoreBackend(getEnv("HARNESS_STORE_BACKEND", string(StoreBackendFS))),
			FSDir:                 getEnv("HARNESS_STORE_FS_DIR", "./data"),
			PostgresURL:           getEnv("HARNESS_STORE_POSTGRES_URL", ""),
			SQLitePath:            getEnv("HARNESS_STORE_SQLITE_PATH", ""),
			ObjectEndpoint:        getEnv("HARNESS_STORE_OBJECT_ENDPOINT", ""),
			ObjectBucket:          getEnv("HARNESS_STORE_OBJECT_BUCKET", ""),
			ObjectRegion:          getEnv("HARNESS_STORE_OBJECT_REGION", "us-east-1"),
			ObjectAccessKeyID:     getEnv("HARNESS_STORE_OBJECT_ACCESS_KEY_ID", ""),
			ObjectSecretAccessKey: getEnv("HARNESS_STORE_OBJECT_SECRET_ACCESS_KEY", ""),
			ObjectUseSSL:          getEnvBool("HARNESS_STORE_OBJECT_USE_SSL", true),
			CleanupEnabled:        getEnvBool("HARNESS_STORE_CLEANUP_ENABLED", true),
			CleanupInterval:       getEnvDuration("HARNESS_STORE_CLEANUP_INTERVAL", time.Hour),
			Retention:             getEnvDuration("HARNESS_STORE_RETENTION", 30*24*time.Hour),
		},
		ModelClient: ModelClientConfig{
			BaseURL: getEnv("HARNESS_MODEL_BASE_URL", ""),
			APIKey:  getEnv("HARNESS_MODEL_API_KEY", ""),
			Model:   getEnv("HARNESS_MODEL_NAME", ""),
		},
		Secrets: SecretsConfig{
			Enabled:   getEnvBool("HARNESS_SECRETS_VAULT_ENABLED", false),
			Address:   getEnv("HARNESS_SECRETS_VAULT_ADDRESS", ""),
			Token:     getEnv("HARNESS_SECRETS_VAULT_TOKEN", ""),
			Namespace: getEnv("HARNESS_SECRETS_VAULT_NAMESPACE", ""),
			Mount:     getEnv("HARNESS_SECRETS_VAULT_MOUNT", "secret"),
			Timeout:   getEnvDuration("HARNESS_SECRETS_VAULT_TIMEOUT", 5*time.Second),
		},
		SyntaxCheck: SyntaxCheckConfig{
			Backend:    SyntaxCheckBackend(getEnv("HARNESS_SYNTAXCHECK_BACKEND", string(SyntaxCheckBackendSubprocess))),
			Timeout:    getEnvDuration("HARNESS_SYNTAXCHECK_TIMEOUT", 5*time.Second),
			Command:    strings.Fields(getEnv("HARNESS_SYNTAXCHECK_COMMAND", "")),
			FileExt:    getEnv("HARNESS_SYNTAXCHECK_FILE_EXT", ".py"),
			WorkDir:    getEnv("HARNESS_SYNTAXCHECK_WORKDIR", ""),
			DockerHost: getEnv("HARNESS_SYNTAXCHECK_DOCKER_HOST", ""),
			Image:      getEnv("HARNESS_SYNTAXCHECK_DOCKER_IMAGE", ""),
		},
		Notifications: NotificationsConfig{
			WebhookEnabled: getEnvBool("HARNESS_NOTIFY_WEBHOOK_ENABLED", false),
			WebhookURL:     getEnv("HARNESS_NOTIFY_WEBHOOK_URL", ""),
			WebhookSecret:  getEnv("HARNESS_NOTIFY_WEBHOOK_SECRET", ""),
			SlackEnabled:   getEnvBool("HARNESS_NOTIFY_SLACK_ENABLED", false),
			SlackURL:       getEnv("HARNESS_NOTIFY_SLACK_URL", ""),
			SlackUsername:  getEnv("HARNESS_NOTIFY_SLACK_USERNAME", "harness"),
			SlackIconEmoji: getEnv("HARNESS_NOTIFY_SLACK_ICON_EMOJI", ":robot_face:"),
		},
		Variant: VariantConfig{
			Backend:  VariantBackend(getEnv("HARNESS_VARIANT_BACKEND", string(VariantBackendStatic))),
			GitToken: getEnv("HARNESS_VARIANT_GIT_TOKEN", ""),
		},
		Log: LogConfig{
			Level:  getEnv("HARNESS_LOG_LEVEL", "info"),
			Format: getEnv("HARNESS_LOG_FORMAT", "json"),
		},
		Observability: ObservabilityConfig{
			TracingEnabled:    getEnvBool("HARNESS_TRACING_ENABLED", false),
			TracingEndpoint:   getEnv("HARNESS_TRACING_ENDPOINT", ""),
			TracingInsecure:   getEnvBool("HARNESS_TRACING_INSECURE", false),
			TracingSampleRate: getEnvFloat("HARNESS_TRACING_SAMPLE_RATE", 0.1),
			Environment:       getEnv("HARNESS_ENVIRONMENT", "development"),
		},
	}

	var overlay *FileOverlay
	if configPath != "" {
		loaded, err := loadFileOverlay(configPath)
		if err != nil {
			return nil, nil, err
		}
		overlay = loaded
	}

	if err := cfg.Validate(); err != nil {
		return nil, overlay, err
	}
	return cfg, overlay, nil
}

func loadFileOverlay(path string) (*FileOverlay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	var overlay FileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return &overlay, nil
}

// Validate checks the Config for internal consistency, aggregating
// every problem found rather than stopping at the first.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.HTTPPort < 1 || c.Server.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port must be between 1 and 65535, got %d", c.Server.HTTPPort))
	}
	if c.Server.MetricsPort < 1 || c.Server.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("server.metrics_port must be between 1 and 65535, got %d", c.Server.MetricsPort))
	}

	if c.Suite.DefinitionPath == "" {
		errs = append(errs, fmt.Errorf("suite.definition_path is required"))
	}

	if c.Coordinator.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("coordinator.concurrency must be at least 1, got %d", c.Coordinator.Concurrency))
	}
	if c.Evaluator.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("evaluator.concurrency must be at least 1, got %d", c.Evaluator.Concurrency))
	}
	if c.Executor.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("executor.max_retries must not be negative, got %d", c.Executor.MaxRetries))
	}

	switch c.Store.Backend {
	case StoreBackendFS:
		if c.Store.FSDir == "" {
			errs = append(errs, fmt.Errorf("store.fs_dir is required when store.backend is %q", StoreBackendFS))
		}
	case StoreBackendPostgres:
		if c.Store.PostgresURL == "" {
			errs = append(errs, fmt.Errorf("store.postgres_url is required when store.backend is %q", StoreBackendPostgres))
		}
	case StoreBackendSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, fmt.Errorf("store.sqlite_path is required when store.backend is %q", StoreBackendSQLite))
		}
	case StoreBackendObject:
		if c.Store.ObjectBucket == "" {
			errs = append(errs, fmt.Errorf("store.object_bucket is required when store.backend is %q", StoreBackendObject))
		}
		if c.Store.ObjectAccessKeyID == "" || c.Store.ObjectSecretAccessKey == "" {
			errs = append(errs, fmt.Errorf("store.object_access_key_id and store.object_secret_access_key are required when store.backend is %q", StoreBackendObject))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend must be one of fs, postgres, sqlite, object, got %q", c.Store.Backend))
	}

	if c.Secrets.Enabled {
		if c.Secrets.Address == "" {
			errs = append(errs, fmt.Errorf("secrets.vault_address is required when secrets.vault_enabled is true"))
		}
		if c.Secrets.Token == "" {
			errs = append(errs, fmt.Errorf("secrets.vault_token is required when secrets.vault_enabled is true"))
		}
	} else if c.ModelClient.APIKey == "" {
		errs = append(errs, fmt.Errorf("model.api_key is required when secrets.vault_enabled is false"))
	}
	if c.ModelClient.BaseURL == "" {
		errs = append(errs, fmt.Errorf("model.base_url is required"))
	}

	switch c.SyntaxCheck.Backend {
	case SyntaxCheckBackendSubprocess:
		if len(c.SyntaxCheck.Command) == 0 {
			errs = append(errs, fmt.Errorf("syntaxcheck.command is required when syntaxcheck.backend is %q", SyntaxCheckBackendSubprocess))
		}
	case SyntaxCheckBackendDocker:
		if c.SyntaxCheck.Image == "" {
			errs = append(errs, fmt.Errorf("syntaxcheck.docker_image is required when syntaxcheck.backend is %q", SyntaxCheckBackendDocker))
		}
	default:
		errs = append(errs, fmt.Errorf("syntaxcheck.backend must be one of subprocess, docker, got %q", c.SyntaxCheck.Backend))
	}

	if c.Notifications.WebhookEnabled && c.Notifications.WebhookURL == "" {
		errs = append(errs, fmt.Errorf("notify.webhook_url is required when notify.webhook_enabled is true"))
	}
	if c.Notifications.SlackEnabled && c.Notifications.SlackURL == "" {
		errs = append(errs, fmt.Errorf("notify.slack_url is required when notify.slack_enabled is true"))
	}

	switch c.Variant.Backend {
	case VariantBackendStatic, VariantBackendGit:
	default:
		errs = append(errs, fmt.Errorf("variant.backend must be one of static, git, got %q", c.Variant.Backend))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be one of json, console, got %q", c.Log.Format))
	}

	if c.Observability.TracingEnabled && c.Observability.TracingEndpoint == "" {
		errs = append(errs, fmt.Errorf("observability.tracing_endpoint is required when observability.tracing_enabled is true"))
	}
	if c.Observability.TracingSampleRate < 0 || c.Observability.TracingSampleRate > 1 {
		errs = append(errs, fmt.Errorf("observability.tracing_sample_rate must be between 0 and 1, got %f", c.Observability.TracingSampleRate))
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// ValidationError aggregates every configuration problem found by
// Validate so an operator sees the whole picture in one pass instead
// of fixing one field at a time.
type ValidationError struct {
	Errors []error
}

func (v *ValidationError) Error() string {
	msgs := make([]string, len(v.Errors))
	for i, e := range v.Errors {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("invalid configuration (%d issue(s)): %s", len(v.Errors), strings.Join(msgs, "; "))
}

func (v *ValidationError) Unwrap() []error { return v.Errors }

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvFloat(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
