package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Extract ExtractConfig `toml:"extract"`
	Storage StorageConfig `toml:"storage"`
	Server  ServerConfig  `toml:"server"`
	Log     LogConfig     `toml:"log"`
}

type ExtractConfig struct {
	// Workers bounds the number of files resolved concurrently.
	Workers int `toml:"workers"`
	// HashMode selects the fingerprint strategy: "fast" or "full".
	HashMode string `toml:"hash_mode"`
	// TextThreshold is the minimum trimmed text length for a direct
	// extraction to count as substantial. Kept configurable because the
	// skip/fallback behaviour of prior runs depends on it.
	TextThreshold int `toml:"text_threshold"`
	// HashChunkSize is the byte count of the head/tail regions hashed in
	// fast mode. Changing it invalidates previously stored fingerprints.
	HashChunkSize int    `toml:"hash_chunk_size"`
	OCRLanguage   string `toml:"ocr_language"`
	// OCRTimeout is a duration string ("2m", "90s") bounding one file's OCR
	// pipeline; parsed with time.ParseDuration at wiring time.
	OCRTimeout string `toml:"ocr_timeout"`
}

type StorageConfig struct {
	// DatabasePath is the SQLite file holding extraction results.
	DatabasePath string `toml:"database_path"`
}

type ServerConfig struct {
	Port int `toml:"port"`
	// Token, when non-empty, enables bearer auth on the query API.
	Token string `toml:"token"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

func defaults() Config {
	return Config{
		Extract: ExtractConfig{
			Workers:       4,
			HashMode:      "fast",
			TextThreshold: 50,
			HashChunkSize: 1024,
			OCRLanguage:   "eng",
			OCRTimeout:    "2m",
		},
		Storage: StorageConfig{
			DatabasePath: "pdf_extractions.db",
		},
		Server: ServerConfig{
			Port: 4800,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the expected config file location,
// $XDG_CONFIG_HOME/pdfmill/config.toml with the usual ~/.config fallback.
func DefaultPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "pdfmill", "config.toml")
}

// Load reads configuration from the TOML file at path (DefaultPath when
// empty), then applies PDFMILL_* environment overrides. A missing file is
// not an error; the defaults are used.
func Load(path string) (Config, error) {
	cfg := defaults()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
			// No config file is fine; defaults apply.
		default:
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PDFMILL_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Extract.Workers = n
		}
	}
	if v := os.Getenv("PDFMILL_HASH_MODE"); v != "" {
		cfg.Extract.HashMode = v
	}
	if v := os.Getenv("PDFMILL_OCR_LANGUAGE"); v != "" {
		cfg.Extract.OCRLanguage = v
	}
	if v := os.Getenv("PDFMILL_OCR_TIMEOUT"); v != "" {
		cfg.Extract.OCRTimeout = v
	}
	if v := os.Getenv("PDFMILL_DATABASE"); v != "" {
		cfg.Storage.DatabasePath = v
	}
	if v := os.Getenv("PDFMILL_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("PDFMILL_API_TOKEN"); v != "" {
		cfg.Server.Token = v
	}
	if v := os.Getenv("PDFMILL_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func validate(cfg Config) error {
	if cfg.Extract.Workers < 1 {
		return fmt.Errorf("extract.workers must be at least 1, got %d", cfg.Extract.Workers)
	}
	if cfg.Extract.HashMode != "fast" && cfg.Extract.HashMode != "full" {
		return fmt.Errorf("extract.hash_mode must be %q or %q, got %q", "fast", "full", cfg.Extract.HashMode)
	}
	if cfg.Extract.HashChunkSize < 1 {
		return fmt.Errorf("extract.hash_chunk_size must be positive, got %d", cfg.Extract.HashChunkSize)
	}
	if cfg.Storage.DatabasePath == "" {
		return errors.New("storage.database_path must not be empty")
	}
	if _, err := time.ParseDuration(cfg.Extract.OCRTimeout); err != nil {
		return fmt.Errorf("extract.ocr_timeout: %w", err)
	}
	return nil
}
