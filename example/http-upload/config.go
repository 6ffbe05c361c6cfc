package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/mazrean/formbuf"
	"github.com/mazrean/formbuf/store"
)

type config struct {
	Addr     string `toml:"addr"`
	LogLevel string `toml:"log_level"`

	Upload struct {
		MaxBodySize  int64    `toml:"max_body_size"`
		MaxFileSize  int64    `toml:"max_file_size"`
		AllowedTypes []string `toml:"allowed_types"`
		SniffContent bool     `toml:"sniff_content"`
		Normalize    bool     `toml:"normalize"`
	} `toml:"upload"`

	Storage struct {
		// Kind is "disk" or "minio".
		Kind  string            `toml:"kind"`
		Dir   string            `toml:"dir"`
		Minio store.MinioConfig `toml:"minio"`
	} `toml:"storage"`
}

func defaultConfig() config {
	var cfg config
	cfg.Addr = ":8080"
	cfg.LogLevel = "info"
	cfg.Upload.MaxBodySize = int64(5 * formbuf.MB)
	cfg.Upload.MaxFileSize = int64(5 * formbuf.MB)
	cfg.Upload.Normalize = true
	cfg.Storage.Kind = "disk"
	cfg.Storage.Dir = "uploads/menu"
	return cfg
}

// loadConfig reads path, if given, over the defaults and then applies environment overrides.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return config{}, fmt.Errorf("failed to decode config %s: %w", path, err)
		}
	}

	overrideString(&cfg.Addr, "ADDR")
	overrideString(&cfg.LogLevel, "LOG_LEVEL")
	overrideString(&cfg.Storage.Kind, "STORAGE_KIND")
	overrideString(&cfg.Storage.Dir, "UPLOAD_DIR")
	overrideString(&cfg.Storage.Minio.Endpoint, "MINIO_ENDPOINT")
	overrideString(&cfg.Storage.Minio.AccessKey, "MINIO_ACCESS_KEY")
	overrideString(&cfg.Storage.Minio.SecretKey, "MINIO_SECRET_KEY")
	overrideString(&cfg.Storage.Minio.Bucket, "MINIO_BUCKET")
	if v := os.Getenv("MAX_FILE_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return config{}, fmt.Errorf("invalid MAX_FILE_SIZE %q: %w", v, err)
		}
		cfg.Upload.MaxFileSize = n
	}

	return cfg, nil
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c config) parserOptions() []formbuf.ParserOption {
	options := []formbuf.ParserOption{
		formbuf.WithMaxBodySize(formbuf.DataSize(c.Upload.MaxBodySize)),
		formbuf.WithMaxFileSize(formbuf.DataSize(c.Upload.MaxFileSize)),
	}
	if len(c.Upload.AllowedTypes) > 0 {
		options = append(options, formbuf.WithAllowedTypes(c.Upload.AllowedTypes...))
	}
	if c.Upload.SniffContent {
		options = append(options, formbuf.WithContentSniffing())
	}
	return options
}
