package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Speech      SpeechConfig              `json:"speech"`
	Limits      LimitsConfig              `json:"limits"`
	Log         LogConfig                 `json:"log"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	DatabaseType  string `json:"database_type"`
	// DataDir holds scratch media files and stored blobs.
	DataDir          string `json:"data_dir"`
	PublicBaseURL    string `json:"public_base_url"`
	AnalysisProvider string `json:"analysis_provider"`
	FFmpegPath       string `json:"ffmpeg_path"`
	BlobKey          string `json:"blob_key"`

	MaxUploadMB        int    `json:"max_upload_mb"`
	UserStorageMB      int    `json:"user_storage_mb"`
	BlobTTLMinutes     int    `json:"blob_ttl_minutes"`
	TempMaxAgeMinutes  int    `json:"temp_max_age_minutes"`
	SweepSchedule      string `json:"sweep_schedule"`
	TokenTTLHours      int    `json:"token_ttl_hours"`
	StreamTimeoutMins  int    `json:"stream_timeout_minutes"`
	MinWorkers         int    `json:"min_workers"`
	MaxWorkers         int    `json:"max_workers"`
	QueueSize          int    `json:"queue_size"`
	WorkerIdleSeconds  int    `json:"worker_idle_seconds"`
	FetchAttempts      int    `json:"fetch_attempts"`
	FetchDelaySeconds  int    `json:"fetch_delay_seconds"`
	UseRedisForLimits  bool   `json:"use_redis_for_limits"`
	DisableRedisTokens bool   `json:"disable_redis_tokens"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// SpeechConfig describes the speech-to-text endpoint and its per-call ceilings.
type SpeechConfig struct {
	BaseURL         string `json:"base_url"`
	APIKey          string `json:"api_key"`
	Model           string `json:"model"`
	MaxChunkMB      int    `json:"max_chunk_mb"`
	MaxChunkSeconds int    `json:"max_chunk_seconds"`
}

type PlanLimits struct {
	Analyses       int64 `json:"analyses"`
	Transcriptions int64 `json:"transcriptions"`
}

type LimitsConfig struct {
	WindowMinutes int                   `json:"window_minutes"`
	Plans         map[string]PlanLimits `json:"plans"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Load reads configuration from the provided path (defaults to config.json).
// A .env file next to the working directory is loaded first when present and
// selected environment variables override file values.
func Load(path string) (*Config, error) {
	_ = LoadEnv()
	if path == "" {
		path = GetEnv("PODIUM_CONFIG", "config.json")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.resolvePaths(filepath.Dir(absPath)); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEnv loads .env style files into the process environment. Missing files
// are reported but callers normally ignore that.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the value of key, or fallback when unset or empty.
func GetEnv(key, fallback string) string {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of key, or fallback when unset or invalid.
func GetEnvInt(key string, fallback int) int {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

func (c *Config) applyEnv() {
	b := &c.BasicConfig
	b.ServerAddress = GetEnv("PODIUM_ADDR", b.ServerAddress)
	b.DatabaseType = GetEnv("PODIUM_DB", b.DatabaseType)
	b.DataDir = GetEnv("PODIUM_DATA_DIR", b.DataDir)
	b.PublicBaseURL = GetEnv("PODIUM_PUBLIC_URL", b.PublicBaseURL)
	b.BlobKey = GetEnv("PODIUM_BLOB_KEY", b.BlobKey)
	c.Log.Level = GetEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = GetEnv("LOG_FORMAT", c.Log.Format)

	if key := GetEnv("OPENAI_API_KEY", ""); key != "" {
		if c.Providers == nil {
			c.Providers = make(map[string]ProviderConfig)
		}
		p := c.Providers["openai"]
		if p.APIKey == "" {
			p.APIKey = key
		}
		c.Providers["openai"] = p
		if c.Speech.APIKey == "" {
			c.Speech.APIKey = key
		}
	}
	if addr := GetEnv("REDIS_ADDR", ""); addr != "" {
		host, port, ok := strings.Cut(addr, ":")
		c.Redis.Enabled = true
		c.Redis.Host = host
		if ok {
			if n, err := strconv.Atoi(port); err == nil {
				c.Redis.Port = n
			}
		}
	}
}

func (c *Config) applyDefaults() {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = ":8090"
	}
	if b.DatabaseType == "" {
		b.DatabaseType = "sqlite3"
	}
	if b.DataDir == "" {
		b.DataDir = "./data"
	}
	if b.PublicBaseURL == "" {
		b.PublicBaseURL = "http://localhost" + b.ServerAddress
	}
	b.PublicBaseURL = strings.TrimRight(b.PublicBaseURL, "/")
	if b.AnalysisProvider == "" {
		b.AnalysisProvider = "openai"
	}
	if b.FFmpegPath == "" {
		b.FFmpegPath = "ffmpeg"
	}
	if b.MaxUploadMB <= 0 {
		b.MaxUploadMB = 200
	}
	if b.UserStorageMB <= 0 {
		b.UserStorageMB = 1024
	}
	if b.BlobTTLMinutes <= 0 {
		b.BlobTTLMinutes = 24 * 60
	}
	if b.TempMaxAgeMinutes <= 0 {
		b.TempMaxAgeMinutes = 120
	}
	if b.SweepSchedule == "" {
		b.SweepSchedule = "@every 10m"
	}
	if b.TokenTTLHours <= 0 {
		b.TokenTTLHours = 24
	}
	if b.StreamTimeoutMins <= 0 {
		b.StreamTimeoutMins = 30
	}
	if b.MinWorkers <= 0 {
		b.MinWorkers = 2
	}
	if b.MaxWorkers < b.MinWorkers {
		b.MaxWorkers = b.MinWorkers * 4
	}
	if b.QueueSize <= 0 {
		b.QueueSize = 256
	}
	if b.WorkerIdleSeconds <= 0 {
		b.WorkerIdleSeconds = 30
	}
	if b.FetchAttempts <= 0 {
		b.FetchAttempts = 3
	}
	if b.FetchDelaySeconds <= 0 {
		b.FetchDelaySeconds = 2
	}

	if c.Speech.Model == "" {
		c.Speech.Model = "whisper-1"
	}
	if c.Speech.MaxChunkMB <= 0 {
		c.Speech.MaxChunkMB = 25
	}
	if c.Speech.MaxChunkSeconds <= 0 {
		c.Speech.MaxChunkSeconds = 1400
	}

	if c.Limits.WindowMinutes <= 0 {
		c.Limits.WindowMinutes = 24 * 60
	}
	if c.Limits.Plans == nil {
		c.Limits.Plans = make(map[string]PlanLimits)
	}
	if _, ok := c.Limits.Plans["free"]; !ok {
		c.Limits.Plans["free"] = PlanLimits{Analyses: 3, Transcriptions: 3}
	}
	if _, ok := c.Limits.Plans["pro"]; !ok {
		c.Limits.Plans["pro"] = PlanLimits{Analyses: 100, Transcriptions: 100}
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

func (c *Config) resolvePaths(baseDir string) error {
	if !filepath.IsAbs(c.BasicConfig.DataDir) {
		c.BasicConfig.DataDir = filepath.Join(baseDir, c.BasicConfig.DataDir)
	}
	for name, db := range c.Databases {
		if !isSQLite(name) || db.DSN == "" || strings.HasPrefix(db.DSN, ":memory:") || strings.HasPrefix(db.DSN, "file:") {
			continue
		}
		if !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(baseDir, db.DSN)
			c.Databases[name] = db
		}
	}
	return nil
}

// Validate reports configuration that cannot produce a working server.
func (c *Config) Validate() error {
	var errs []error
	if _, ok := c.Databases[c.BasicConfig.DatabaseType]; !ok {
		errs = append(errs, fmt.Errorf("database config for %s not found", c.BasicConfig.DatabaseType))
	}
	if _, ok := c.Providers[c.BasicConfig.AnalysisProvider]; !ok {
		errs = append(errs, fmt.Errorf("provider %s not configured", c.BasicConfig.AnalysisProvider))
	}
	if c.Limits.Plans["free"].Analyses < 0 {
		errs = append(errs, errors.New("limits.plans.free.analyses cannot be negative"))
	}
	return errors.Join(errs...)
}

// TempDir is the scratch directory for per-request media files.
func (c *Config) TempDir() string {
	return filepath.Join(c.BasicConfig.DataDir, "tmp")
}

// BlobDir is where uploaded objects are stored.
func (c *Config) BlobDir() string {
	return filepath.Join(c.BasicConfig.DataDir, "blobs")
}

func isSQLite(name string) bool {
	n := strings.ToLower(name)
	return n == "sqlite" || n == "sqlite3"
}
