// Package config defines the top-level configuration for txsim and provides
// validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by TXSIM_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Chain    ChainConfig    `toml:"chain"`
	Venue1   VenueConfig    `toml:"venue1"`
	Venue2   VenueConfig    `toml:"venue2"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	ABIDir   string         `toml:"abi_dir"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the sending account's credentials. Either a raw hex
// private key or an encrypted key file plus password must be provided.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig holds parameters for the primary RPC endpoint used by the
// listenAndSend program.
type ChainConfig struct {
	Endpoint       string   `toml:"endpoint"`
	ToAddress      string   `toml:"to_address"`
	GasLimit       uint64   `toml:"gas_limit"`
	ReceiptTimeout duration `toml:"receipt_timeout"`
	PollInterval   duration `toml:"poll_interval"`
	Retries        int      `toml:"retries"`
}

// VenueConfig describes one leg of the arbitrage simulation: an RPC endpoint,
// the swap contract, and the two coin contracts on that chain. PoolFee is the
// Uniswap fee tier in hundredths of a bip (venue 1 only); MinOut is the
// minimum acceptable output for Curve exchanges (venue 2 only).
type VenueConfig struct {
	Endpoint     string `toml:"endpoint"`
	SwapAddress  string `toml:"swap_address"`
	CoinAAddress string `toml:"coin_a_address"`
	CoinBAddress string `toml:"coin_b_address"`
	PoolFee      int64  `toml:"pool_fee"`
	MinOut       int64  `toml:"min_out"`
}

// PostgresConfig holds connection parameters for the transaction journal.
// The journal is optional; when Enabled is false the programs run without
// persistence.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis backs the per-sender
// nonce locks and the transaction event bus; both are optional.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the journal
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the archive program.
type ArchiveConfig struct {
	RetentionDays int    `toml:"retention_days"`
	Prefix        string `toml:"prefix"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "2m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values. These
// match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			Endpoint:       "http://localhost:8545",
			GasLimit:       400_000,
			ReceiptTimeout: duration{2 * time.Minute},
			PollInterval:   duration{2 * time.Second},
			Retries:        5,
		},
		Venue1: VenueConfig{
			PoolFee: 100,
		},
		Venue2: VenueConfig{
			MinOut: 0,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "txsim",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   10,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "txsim-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Prefix:        "journal",
		},
		Notify: NotifyConfig{
			Events: []string{"tx_failed", "swap_failed"},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values for the
// given program ("listen_and_send", "arbitrage", "tail", or "archive") and
// returns a combined error describing every problem found.
func (c *Config) Validate(program string) error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	needsWallet := program == "listen_and_send" || program == "arbitrage"
	if needsWallet {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	switch program {
	case "listen_and_send":
		if c.Chain.Endpoint == "" {
			errs = append(errs, "chain: endpoint must not be empty")
		}
		if c.Chain.ToAddress == "" {
			errs = append(errs, "chain: to_address must not be empty")
		} else if !common.IsHexAddress(c.Chain.ToAddress) {
			errs = append(errs, fmt.Sprintf("chain: to_address %q is not a valid address", c.Chain.ToAddress))
		}
		if c.Chain.GasLimit == 0 {
			errs = append(errs, "chain: gas_limit must be > 0")
		}
		if c.Chain.Retries < 0 {
			errs = append(errs, "chain: retries must be >= 0")
		}
	case "arbitrage":
		errs = append(errs, validateVenue("venue1", c.Venue1)...)
		errs = append(errs, validateVenue("venue2", c.Venue2)...)
		if c.Venue1.PoolFee <= 0 {
			errs = append(errs, "venue1: pool_fee must be > 0")
		}
		if c.Venue2.MinOut < 0 {
			errs = append(errs, "venue2: min_out must be >= 0")
		}
		if c.Chain.Retries < 0 {
			errs = append(errs, "chain: retries must be >= 0")
		}
	case "tail":
		if !c.Redis.Enabled {
			errs = append(errs, "redis: must be enabled for the tail program")
		}
	case "archive":
		if !c.Postgres.Enabled {
			errs = append(errs, "postgres: must be enabled for the archive program")
		}
		if !c.S3.Enabled {
			errs = append(errs, "s3: must be enabled for the archive program")
		}
		if c.Archive.RetentionDays <= 0 {
			errs = append(errs, "archive: retention_days must be > 0")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown program %q", program))
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// validateVenue checks the fields every arbitrage venue needs.
func validateVenue(name string, v VenueConfig) []string {
	var errs []string
	if v.Endpoint == "" {
		errs = append(errs, name+": endpoint must not be empty")
	}
	for field, addr := range map[string]string{
		"swap_address":   v.SwapAddress,
		"coin_a_address": v.CoinAAddress,
		"coin_b_address": v.CoinBAddress,
	} {
		if addr == "" {
			errs = append(errs, fmt.Sprintf("%s: %s must not be empty", name, field))
		} else if !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Sprintf("%s: %s %q is not a valid address", name, field, addr))
		}
	}
	return errs
}
