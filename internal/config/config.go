// Package config provides functionality for managing bootstrap
// configuration options for the application using command-line flags,
// environment variables, and a TOML file.
package config

import (
	"log"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mcuadros/go-defaults"
)

// Options holds the process bootstrap configuration. Runtime tunables
// (recognition threshold, feature toggles) live in the encrypted
// system config blob instead, so they survive and reload without a
// restart.
type Options struct {
	// Addr defines the server's listening address (ip:port).
	Addr string `toml:"addr" default:"localhost:8080"`

	// DataDir is the directory holding the encrypted blobs and the
	// access ledger.
	DataDir string `toml:"data_dir" default:"data"`

	// VaultKey is the deployment secret the vault cipher is derived
	// from.
	VaultKey string `toml:"vault_key" default:"CarBiometric2025SecureKey!@#"`

	// ExtractorURL is the base URL of the face-embedding sidecar.
	ExtractorURL string `toml:"extractor_url" default:"http://localhost:8500"`

	// CaptureTimeout bounds the wait for a valid probe extraction.
	CaptureTimeout Duration `toml:"capture_timeout"`

	// SessionTTL is how long a partial enrollment batch may stay open
	// before it is discarded.
	SessionTTL Duration `toml:"session_ttl"`

	// DefaultPIN seeds the emergency PIN on first boot.
	DefaultPIN string `toml:"default_pin" default:"1234"`

	// DefaultManagerKey seeds the manager credential on first boot.
	DefaultManagerKey string `toml:"default_manager_key" default:"change-me"`

	// GPSLatitude and GPSLongitude locate the deployment.
	GPSLatitude  float64 `toml:"gps_latitude" default:"-26.2041"`
	GPSLongitude float64 `toml:"gps_longitude" default:"28.0473"`
	// GPSAddress is the human-readable position recorded on entries.
	GPSAddress string `toml:"gps_address" default:"Johannesburg, Gauteng, South Africa"`

	// Config is the path to the TOML config file.
	Config string `toml:"-"`
}

// Duration is a time.Duration that decodes from TOML strings like
// "10s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// options holds the current configuration values.
var options = &Options{}

// init initializes command-line flags and sets default values.
func init() {
	defaults.SetDefaults(options)
	options.CaptureTimeout = Duration(10 * time.Second)
	options.SessionTTL = Duration(5 * time.Minute)
	registerFlags()
}

// Parse resolves the configuration: struct defaults, then the TOML
// file if present, then environment variables, then flags. It returns
// a pointer to the Options struct containing the resolved values.
func Parse() *Options {
	parseFlags()

	if configPath := os.Getenv("CONFIG"); configPath != "" {
		options.Config = configPath
	}

	if options.Config != "" {
		if _, err := os.Stat(options.Config); err == nil {
			if _, err := toml.DecodeFile(options.Config, options); err != nil {
				log.Fatalf("error while parsing config file: %v", err)
			}
		}
	}

	if addr := os.Getenv("SERVER_ADDRESS"); addr != "" {
		options.Addr = addr
	}
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		options.DataDir = dir
	}
	if key := os.Getenv("VAULT_KEY"); key != "" {
		options.VaultKey = key
	}
	if url := os.Getenv("EXTRACTOR_URL"); url != "" {
		options.ExtractorURL = url
	}

	return options
}
