package paragraf

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/paragraf/paragraf/ingest"
)

// Config holds all configuration for the lookup service.
type Config struct {
	// Backend selects the storage backend: "sqlite" (default, embedded)
	// or "postgres" (networked, with trigram matching and structures).
	Backend string `json:"backend" yaml:"backend"`

	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.paragraf/paragraf.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// PostgresDSN is the connection string for the postgres backend.
	PostgresDSN string `json:"postgres_dsn" yaml:"postgres_dsn"`

	// CacheDir is where downloaded XML files are kept between syncs.
	// If empty, defaults to ~/.paragraf/cache
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`

	// HubBaseURL overrides the Lovdata hub endpoint (tests).
	HubBaseURL string `json:"hub_base_url" yaml:"hub_base_url"`

	// GeminiAPIKey enables semantic search and embedding backfill.
	// Empty key means lexical-only search.
	GeminiAPIKey string `json:"gemini_api_key" yaml:"gemini_api_key"`

	// EmbedModel overrides the embedding model name.
	EmbedModel string `json:"embed_model" yaml:"embed_model"`

	// FTSWeight is the lexical weight in hybrid search, in [0,1].
	FTSWeight float64 `json:"fts_weight" yaml:"fts_weight"`

	// Probes is the IVFFlat probe count for vector search (postgres).
	Probes int `json:"probes" yaml:"probes"`

	// SearchLimit is the default maximum number of search hits.
	SearchLimit int `json:"search_limit" yaml:"search_limit"`

	// Retry tunes outbound HTTP retries for sync and embedding.
	Retry ingest.RetryPolicy `json:"retry" yaml:"retry"`
}

// DefaultConfig returns a Config with the embedded SQLite backend and
// data under ~/.paragraf/.
func DefaultConfig() Config {
	return Config{
		Backend:     "sqlite",
		HubBaseURL:  ingest.DefaultBaseURL,
		FTSWeight:   0.5,
		Probes:      10,
		SearchLimit: 20,
		Retry:       ingest.DefaultRetryPolicy(),
	}
}

// ConfigFromEnv builds a Config from PARAGRAF_* environment variables
// on top of the defaults. Unset variables keep their defaults.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if v := os.Getenv("PARAGRAF_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("PARAGRAF_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("PARAGRAF_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
		if os.Getenv("PARAGRAF_BACKEND") == "" {
			cfg.Backend = "postgres"
		}
	}
	if v := os.Getenv("PARAGRAF_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	if v := os.Getenv("PARAGRAF_HUB_BASE_URL"); v != "" {
		cfg.HubBaseURL = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.GeminiAPIKey = v
	}
	if v := os.Getenv("PARAGRAF_EMBED_MODEL"); v != "" {
		cfg.EmbedModel = v
	}
	if v := os.Getenv("PARAGRAF_FTS_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			cfg.FTSWeight = f
		}
	}
	if v := os.Getenv("PARAGRAF_PROBES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Probes = n
		}
	}
	cfg.Retry = ingest.RetryPolicyFromEnv()
	return cfg
}

// resolveDBPath computes the final SQLite path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "paragraf.db" // fallback to cwd
	}
	return filepath.Join(home, ".paragraf", "paragraf.db")
}

// resolveCacheDir computes the XML cache directory.
func (c *Config) resolveCacheDir() string {
	if c.CacheDir != "" {
		return c.CacheDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "cache"
	}
	return filepath.Join(home, ".paragraf", "cache")
}
