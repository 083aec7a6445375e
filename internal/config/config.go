package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/trade-engine/darwinex-ftp/internal/domain"
	"github.com/trade-engine/darwinex-ftp/internal/remote"
	"github.com/trade-engine/darwinex-ftp/pkg/schema"
)

// DefaultPath is used when no -config flag is given.
const DefaultPath = "config.yml"

type Config struct {
	Application Application `yaml:"application"`
	FTP         FTP         `yaml:"ftp" envPrefix:"DARWINEX_FTP_"`
	Download    Download    `yaml:"download" envPrefix:"DARWINEX_FTP_"`
	Catalog     Catalog     `yaml:"catalog" envPrefix:"DARWINEX_FTP_"`
}

type Application struct {
	Name     string `yaml:"name"`
	Version  string `yaml:"version"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`
}

type FTP struct {
	Host          string        `yaml:"host" env:"HOST"`
	Port          int           `yaml:"port" env:"PORT"`
	Username      string        `yaml:"username" env:"USER"`
	Password      string        `yaml:"password" env:"PASSWORD"`
	Timeout       time.Duration `yaml:"timeout" env:"TIMEOUT"`
	TransferRate  float64       `yaml:"transfer_rate" env:"TRANSFER_RATE"`
	TransferBurst int           `yaml:"transfer_burst" env:"TRANSFER_BURST"`
}

type Download struct {
	Darwins             []string      `yaml:"darwins" env:"DARWINS" envSeparator:","`
	IncludeVar10        bool          `yaml:"include_var10" env:"INCLUDE_VAR10"`
	StartPeriod         string        `yaml:"start_period" env:"START_PERIOD"`
	EndPeriod           string        `yaml:"end_period" env:"END_PERIOD"`
	Resample            string        `yaml:"resample" env:"RESAMPLE"`
	SnapshotDir         string        `yaml:"snapshot_dir" env:"SNAPSHOT_DIR"`
	SnapshotLockTimeout time.Duration `yaml:"snapshot_lock_timeout" env:"SNAPSHOT_LOCK_TIMEOUT"`
	Resume              bool          `yaml:"resume" env:"RESUME"`
	ExportParquet       string        `yaml:"export_parquet" env:"EXPORT_PARQUET"`
	ParquetCompression  string        `yaml:"parquet_compression"`
	Schedule            string        `yaml:"schedule" env:"SCHEDULE"`
	Verbose             int           `yaml:"verbose" env:"VERBOSE"`
}

type Catalog struct {
	Path string `yaml:"path" env:"CATALOG_PATH"`
}

// Default returns the configuration used for every field a file leaves out.
func Default() *Config {
	return &Config{
		Application: Application{
			Name:     "darwinex-ftp",
			Version:  "0.1.0",
			LogLevel: "info",
		},
		FTP: FTP{
			Host:          "tickdata.darwinex.com",
			Port:          21,
			Timeout:       30 * time.Second,
			TransferBurst: 1,
		},
		Download: Download{
			SnapshotLockTimeout: 10 * time.Second,
			Resume:              true,
			ParquetCompression:  "zstd",
			Verbose:             1,
		},
	}
}

// RemoteOptions returns the connection settings.
func (c *Config) RemoteOptions() remote.Options {
	return remote.Options{
		Host:          c.FTP.Host,
		Port:          c.FTP.Port,
		Username:      c.FTP.Username,
		Password:      c.FTP.Password,
		Timeout:       c.FTP.Timeout,
		TransferRate:  c.FTP.TransferRate,
		TransferBurst: c.FTP.TransferBurst,
	}
}

// DownloadRequest builds the request for the download section. Periods are
// checked later by DownloadRequest.Validate.
func (c *Config) DownloadRequest() (domain.DownloadRequest, error) {
	freq, err := schema.ParseFrequency(c.Download.Resample)
	if err != nil {
		return domain.DownloadRequest{}, err
	}
	return domain.DownloadRequest{
		Darwins:      append([]string(nil), c.Download.Darwins...),
		IncludeVar10: c.Download.IncludeVar10,
		StartPeriod:  schema.Period(c.Download.StartPeriod),
		EndPeriod:    schema.Period(c.Download.EndPeriod),
		Resample:     freq,
		SnapshotDir:  c.Download.SnapshotDir,
		Resume:       c.Download.Resume,
		Verbose:      c.Download.Verbose,
	}, nil
}

func (c *Config) DatesRequest() domain.DatesRequest {
	return domain.DatesRequest{
		Darwins: append([]string(nil), c.Download.Darwins...),
		Verbose: c.Download.Verbose,
	}
}

// Load reads, validates and decodes the YAML file at path over the defaults,
// then applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse is Load for an in-memory document.
func Parse(data []byte) (*Config, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
