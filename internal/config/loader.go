package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TXSIM_* environment variable overrides, and
// returns the final Config. explicit says whether the path was chosen by the
// operator: a missing file is tolerated only for the implicit default
// location, so a mistyped --config path fails instead of silently running on
// defaults. The returned Config has NOT been validated; the caller should
// invoke Config.Validate() after Load.
func Load(path string, explicit bool) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TXSIM_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "TXSIM_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.PrivateKey, "PRIVATE_KEY") // compatibility alias
	setStr(&cfg.Wallet.EncryptedKeyPath, "TXSIM_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "TXSIM_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.Endpoint, "TXSIM_CHAIN_ENDPOINT")
	setStr(&cfg.Chain.Endpoint, "TESTNET_ENDPOINT") // compatibility alias
	setStr(&cfg.Chain.ToAddress, "TXSIM_CHAIN_TO_ADDRESS")
	setStr(&cfg.Chain.ToAddress, "TO_ADDRESS") // compatibility alias
	setUint64(&cfg.Chain.GasLimit, "TXSIM_CHAIN_GAS_LIMIT")
	setDuration(&cfg.Chain.ReceiptTimeout, "TXSIM_CHAIN_RECEIPT_TIMEOUT")
	setDuration(&cfg.Chain.PollInterval, "TXSIM_CHAIN_POLL_INTERVAL")
	setInt(&cfg.Chain.Retries, "TXSIM_CHAIN_RETRIES")

	// ── Venues ──
	setStr(&cfg.Venue1.Endpoint, "TXSIM_VENUE1_ENDPOINT")
	setStr(&cfg.Venue1.SwapAddress, "TXSIM_VENUE1_SWAP_ADDRESS")
	setStr(&cfg.Venue1.CoinAAddress, "TXSIM_VENUE1_COIN_A_ADDRESS")
	setStr(&cfg.Venue1.CoinBAddress, "TXSIM_VENUE1_COIN_B_ADDRESS")
	setInt64(&cfg.Venue1.PoolFee, "TXSIM_VENUE1_POOL_FEE")

	setStr(&cfg.Venue2.Endpoint, "TXSIM_VENUE2_ENDPOINT")
	setStr(&cfg.Venue2.SwapAddress, "TXSIM_VENUE2_SWAP_ADDRESS")
	setStr(&cfg.Venue2.CoinAAddress, "TXSIM_VENUE2_COIN_A_ADDRESS")
	setStr(&cfg.Venue2.CoinBAddress, "TXSIM_VENUE2_COIN_B_ADDRESS")
	setInt64(&cfg.Venue2.MinOut, "TXSIM_VENUE2_MIN_OUT")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "TXSIM_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "TXSIM_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TXSIM_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TXSIM_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TXSIM_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TXSIM_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TXSIM_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TXSIM_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TXSIM_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TXSIM_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TXSIM_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "TXSIM_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TXSIM_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TXSIM_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TXSIM_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TXSIM_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TXSIM_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TXSIM_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "TXSIM_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "TXSIM_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TXSIM_S3_REGION")
	setStr(&cfg.S3.Bucket, "TXSIM_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TXSIM_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TXSIM_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TXSIM_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TXSIM_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setInt(&cfg.Archive.RetentionDays, "TXSIM_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Prefix, "TXSIM_ARCHIVE_PREFIX")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TXSIM_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TXSIM_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TXSIM_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TXSIM_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.ABIDir, "TXSIM_ABI_DIR")
	setStr(&cfg.LogLevel, "TXSIM_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
