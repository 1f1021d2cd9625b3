// Package config loads process configuration from defaults, an optional YAML
// file and environment variables, in that order of precedence (env wins).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ModeQueue = "queue"
	ModeScan  = "scan"

	LedgerSheets    = "sheets"
	LedgerFirestore = "firestore"

	LedgerBatched   = "batched"
	LedgerImmediate = "immediate"

	ProviderVertex = "vertex"
	ProviderOpenAI = "openai"
)

// firestoreMaxBatch is the most writes one Firestore batch commit accepts.
const firestoreMaxBatch = 500

// Role selects which keys are mandatory during validation.
type Role int

const (
	RoleWorker Role = iota
	RolePoller
	RoleEventFunction
)

// Config holds every setting of the worker, poller and event function.
type Config struct {
	ProjectID         string `yaml:"project_id"`
	SourceFolderID    string `yaml:"source_folder_id"`
	DestinationRootID string `yaml:"destination_root_id"`

	LedgerBackend         string `yaml:"ledger_backend"`
	LedgerSpreadsheetID   string `yaml:"ledger_spreadsheet_id"`
	LedgerSheetName       string `yaml:"ledger_sheet_name"`
	FirestoreCollection   string `yaml:"firestore_collection"`
	RegistrySpreadsheetID string `yaml:"registry_spreadsheet_id"`
	RegistryRange         string `yaml:"registry_range"`

	ModelProvider  string `yaml:"model_provider"`
	VertexAIRegion string `yaml:"vertex_ai_region"`
	ModelName      string `yaml:"model_name"`
	OpenAIAPIKey   string `yaml:"openai_api_key"`
	OpenAIBaseURL  string `yaml:"openai_base_url"`

	PubSubSubscription string `yaml:"pubsub_subscription"`
	PubSubTopic        string `yaml:"pubsub_topic"`

	IngestMode            string        `yaml:"ingest_mode"`
	MaxConcurrentFiles    int           `yaml:"max_concurrent_files"`
	MaxConcurrentAPICalls int           `yaml:"max_concurrent_api_calls"`
	YearTimeout           time.Duration `yaml:"year_timeout"`
	MaxInlineBytes        int           `yaml:"max_inline_bytes"`
	CompressionTarget     int           `yaml:"compression_target_bytes"`

	LedgerMode              string        `yaml:"ledger_mode"`
	LedgerFlushInterval     time.Duration `yaml:"ledger_flush_interval"`
	LedgerMaxBatch          int           `yaml:"ledger_max_batch"`
	LedgerMaxAttempts       int           `yaml:"ledger_max_attempts"`
	LedgerBackoff           time.Duration `yaml:"ledger_backoff"`
	SheetsRequestsPerMinute int           `yaml:"sheets_requests_per_minute"`

	BatchSize        int           `yaml:"batch_size"`
	BatchDelay       time.Duration `yaml:"batch_delay"`
	BatchMaxAttempts int           `yaml:"batch_max_attempts"`
	ScanInterval     time.Duration `yaml:"scan_interval"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	CheckpointURI    string        `yaml:"checkpoint_uri"`

	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
}

// Default returns the configuration used when nothing overrides a key.
func Default() Config {
	return Config{
		LedgerBackend:           LedgerSheets,
		LedgerSheetName:         "Processed",
		FirestoreCollection:     "processed_files",
		RegistryRange:           "Properties!A2:B",
		ModelProvider:           ProviderVertex,
		VertexAIRegion:          "us-central1",
		ModelName:               "gemini-1.5-flash",
		IngestMode:              ModeQueue,
		MaxConcurrentFiles:      5,
		MaxConcurrentAPICalls:   2,
		YearTimeout:             10 * time.Second,
		MaxInlineBytes:          20 << 20,
		CompressionTarget:       4 << 20,
		LedgerMode:              LedgerBatched,
		LedgerFlushInterval:     10 * time.Second,
		LedgerMaxBatch:          100,
		LedgerMaxAttempts:       5,
		LedgerBackoff:           time.Second,
		SheetsRequestsPerMinute: 60,
		BatchSize:               10,
		BatchDelay:              2 * time.Second,
		BatchMaxAttempts:        3,
		ScanInterval:            5 * time.Minute,
		PollInterval:            time.Minute,
		CheckpointURI:           "",
		Port:                    "8080",
		ShutdownTimeout:         30 * time.Second,
		LogLevel:                "info",
	}
}

// Load builds the configuration for role. path may be empty; when set, the
// YAML file is read with ${VAR} expansion before environment overrides.
func Load(path string, role Role) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(role); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// ParseLogLevel maps debug, info, warn or error to a slog level. Anything
// else is info.
func ParseLogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func getEnvInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}

func (c *Config) applyEnv() error {
	c.ProjectID = GetEnv("PROJECT_ID", c.ProjectID)
	c.SourceFolderID = GetEnv("SOURCE_FOLDER_ID", c.SourceFolderID)
	c.DestinationRootID = GetEnv("DESTINATION_ROOT_ID", c.DestinationRootID)
	c.LedgerBackend = strings.ToLower(GetEnv("LEDGER_BACKEND", c.LedgerBackend))
	c.LedgerSpreadsheetID = GetEnv("LEDGER_SPREADSHEET_ID", c.LedgerSpreadsheetID)
	c.LedgerSheetName = GetEnv("LEDGER_SHEET_NAME", c.LedgerSheetName)
	c.FirestoreCollection = GetEnv("FIRESTORE_COLLECTION", c.FirestoreCollection)
	c.RegistrySpreadsheetID = GetEnv("REGISTRY_SPREADSHEET_ID", c.RegistrySpreadsheetID)
	c.RegistryRange = GetEnv("REGISTRY_RANGE", c.RegistryRange)
	c.ModelProvider = strings.ToLower(GetEnv("MODEL_PROVIDER", c.ModelProvider))
	c.VertexAIRegion = GetEnv("VERTEX_AI_REGION", c.VertexAIRegion)
	c.ModelName = GetEnv("MODEL_NAME", c.ModelName)
	c.OpenAIAPIKey = GetEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIBaseURL = GetEnv("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.PubSubSubscription = GetEnv("PUBSUB_SUBSCRIPTION", c.PubSubSubscription)
	c.PubSubTopic = GetEnv("PUBSUB_TOPIC", c.PubSubTopic)
	c.IngestMode = strings.ToLower(GetEnv("INGEST_MODE", c.IngestMode))
	c.LedgerMode = strings.ToLower(GetEnv("LEDGER_MODE", c.LedgerMode))
	c.CheckpointURI = GetEnv("CHECKPOINT_URI", c.CheckpointURI)
	c.Port = GetEnv("PORT", c.Port)
	c.LogLevel = GetEnv("LOG_LEVEL", c.LogLevel)

	ints := []struct {
		key string
		dst *int
	}{
		{"MAX_CONCURRENT_FILES", &c.MaxConcurrentFiles},
		{"MAX_CONCURRENT_API_CALLS", &c.MaxConcurrentAPICalls},
		{"MAX_INLINE_BYTES", &c.MaxInlineBytes},
		{"COMPRESSION_TARGET_BYTES", &c.CompressionTarget},
		{"LEDGER_MAX_BATCH", &c.LedgerMaxBatch},
		{"LEDGER_MAX_ATTEMPTS", &c.LedgerMaxAttempts},
		{"SHEETS_REQUESTS_PER_MINUTE", &c.SheetsRequestsPerMinute},
		{"BATCH_SIZE", &c.BatchSize},
		{"BATCH_MAX_ATTEMPTS", &c.BatchMaxAttempts},
	}
	for _, f := range ints {
		v, err := getEnvInt(f.key, *f.dst)
		if err != nil {
			return err
		}
		*f.dst = v
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"YEAR_TIMEOUT", &c.YearTimeout},
		{"LEDGER_FLUSH_INTERVAL", &c.LedgerFlushInterval},
		{"LEDGER_BACKOFF", &c.LedgerBackoff},
		{"BATCH_DELAY", &c.BatchDelay},
		{"SCAN_INTERVAL", &c.ScanInterval},
		{"POLL_INTERVAL", &c.PollInterval},
		{"SHUTDOWN_TIMEOUT", &c.ShutdownTimeout},
	}
	for _, f := range durations {
		v, err := getEnvDuration(f.key, *f.dst)
		if err != nil {
			return err
		}
		*f.dst = v
	}
	return nil
}

// Validate checks the keys role needs.
func (c *Config) Validate(role Role) error {
	if c.SourceFolderID == "" && role != RoleEventFunction {
		return fmt.Errorf("SOURCE_FOLDER_ID must be set")
	}
	if err := c.validateLedger(); err != nil {
		return err
	}

	switch role {
	case RolePoller:
		if c.PubSubTopic == "" {
			return fmt.Errorf("PUBSUB_TOPIC must be set")
		}
		if c.ProjectID == "" {
			return fmt.Errorf("PROJECT_ID must be set")
		}
		if c.PollInterval <= 0 {
			return fmt.Errorf("POLL_INTERVAL must be positive")
		}
		return nil
	case RoleWorker:
		switch c.IngestMode {
		case ModeQueue:
			if c.PubSubSubscription == "" {
				return fmt.Errorf("PUBSUB_SUBSCRIPTION must be set when INGEST_MODE is %q", ModeQueue)
			}
		case ModeScan:
			if c.ScanInterval <= 0 {
				return fmt.Errorf("SCAN_INTERVAL must be positive when INGEST_MODE is %q", ModeScan)
			}
		default:
			return fmt.Errorf("unsupported INGEST_MODE %q", c.IngestMode)
		}
		switch c.LedgerMode {
		case LedgerBatched:
			if c.LedgerFlushInterval <= 0 {
				return fmt.Errorf("LEDGER_FLUSH_INTERVAL must be positive when LEDGER_MODE is %q", LedgerBatched)
			}
		case LedgerImmediate:
		default:
			return fmt.Errorf("unsupported LEDGER_MODE %q", c.LedgerMode)
		}
	}

	if c.DestinationRootID == "" {
		return fmt.Errorf("DESTINATION_ROOT_ID must be set")
	}
	if c.RegistrySpreadsheetID == "" {
		return fmt.Errorf("REGISTRY_SPREADSHEET_ID must be set")
	}
	switch c.ModelProvider {
	case ProviderVertex:
		if c.ProjectID == "" {
			return fmt.Errorf("PROJECT_ID must be set for the vertex model provider")
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY must be set for the openai model provider")
		}
	default:
		return fmt.Errorf("unsupported MODEL_PROVIDER %q", c.ModelProvider)
	}
	if c.MaxConcurrentFiles < 1 || c.MaxConcurrentAPICalls < 1 {
		return fmt.Errorf("MAX_CONCURRENT_FILES and MAX_CONCURRENT_API_CALLS must be at least 1")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("BATCH_SIZE must be at least 1")
	}
	if c.CompressionTarget <= 0 || c.CompressionTarget > c.MaxInlineBytes {
		return fmt.Errorf("COMPRESSION_TARGET_BYTES must be positive and no larger than MAX_INLINE_BYTES")
	}
	return nil
}

func (c *Config) validateLedger() error {
	switch c.LedgerBackend {
	case LedgerSheets:
		if c.LedgerSpreadsheetID == "" {
			return fmt.Errorf("LEDGER_SPREADSHEET_ID must be set for the sheets ledger")
		}
	case LedgerFirestore:
		if c.ProjectID == "" {
			return fmt.Errorf("PROJECT_ID must be set for the firestore ledger")
		}
		if c.LedgerMaxBatch > firestoreMaxBatch {
			return fmt.Errorf("LEDGER_MAX_BATCH must be at most %d for the firestore ledger", firestoreMaxBatch)
		}
	default:
		return fmt.Errorf("unsupported LEDGER_BACKEND %q", c.LedgerBackend)
	}
	return nil
}
