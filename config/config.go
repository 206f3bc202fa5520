// Package config loads zecflowd's runtime configuration: an optional
// TOML file merged with environment variables and urfave/cli flag
// overrides, in the layering the teacher's own cmd/geth applies
// (its loadConfig pattern — decode a TOML
// file into a typed struct, then let command-line flags override
// individual fields before the node starts).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/urfave/cli/v2"
)

// Config is the complete runtime configuration of one zecflowd process,
// spec.md §6 "Configuration".
type Config struct {
	Mongo     MongoConfig
	Queue     QueueConfig
	Auth      AuthConfig
	Zcash     ZcashConfig
	NilDB     ServiceConfig
	NilAI     ServiceConfig
	NilCC     ServiceConfig
	Social    ServiceConfig
	PublicURL string
	KeepAlive time.Duration
	CORS      []string
}

type MongoConfig struct {
	URI string
}

type QueueConfig struct {
	RedisURL    string
	Concurrency int
}

type AuthConfig struct {
	JWTSecret      string
	RefreshSecret  string
	EncryptionKey  string
}

type ZcashConfig struct {
	RPCURL      string
	RPCUser     string
	RPCPassword string
	RPCTimeout  time.Duration
}

// ServiceConfig is the shared shape of the three confidential-compute
// family integrations (NilDB/NilAI/NilCC): a base URL and an API key.
type ServiceConfig struct {
	BaseURL string
	APIKey  string
}

// fileConfig mirrors Config's shape for TOML decoding under snake_case-
// free TOML section names, the way the teacher's gethConfig nests Eth/
// Node/Shh structs one per component.
type fileConfig struct {
	Mongo struct{ URI string }
	Queue struct {
		RedisURL    string `toml:"redis_url"`
		Concurrency int
	}
	Auth struct {
		JWTSecret     string `toml:"jwt_secret"`
		RefreshSecret string `toml:"refresh_secret"`
		EncryptionKey string `toml:"encryption_key"`
	}
	Zcash struct {
		RPCURL      string `toml:"rpc_url"`
		RPCUser     string `toml:"rpc_user"`
		RPCPassword string `toml:"rpc_password"`
		RPCTimeout  string `toml:"rpc_timeout"`
	}
	NilDB     ServiceFileConfig
	NilAI     ServiceFileConfig
	NilCC     ServiceFileConfig
	Social    ServiceFileConfig
	PublicURL string   `toml:"public_url"`
	KeepAlive string   `toml:"keep_alive_interval"`
	CORS      []string `toml:"cors_origins"`
}

type ServiceFileConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

// Default returns the documented defaults for every field spec.md §6
// lists as optional (everything but the three secrets and Mongo/Redis
// URLs, which have no safe default).
func Default() Config {
	return Config{
		Queue:     QueueConfig{Concurrency: 5},
		Zcash:     ZcashConfig{RPCTimeout: 30 * time.Second},
		KeepAlive: 25 * time.Second,
		CORS:      []string{"*"},
	}
}

// LoadFile decodes path, a TOML file, into a Config layered over
// Default(). A missing path is not an error: config files are optional,
// environment variables and flags can supply everything.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	var fc fileConfig
	meta, err := toml.DecodeFile(path, &fc)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return cfg, fmt.Errorf("config: unrecognised keys in %s: %s", path, strings.Join(keys, ", "))
	}

	applyFile(&cfg, fc)
	return cfg, nil
}

func applyFile(cfg *Config, fc fileConfig) {
	setString(&cfg.Mongo.URI, fc.Mongo.URI)
	setString(&cfg.Queue.RedisURL, fc.Queue.RedisURL)
	if fc.Queue.Concurrency > 0 {
		cfg.Queue.Concurrency = fc.Queue.Concurrency
	}
	setString(&cfg.Auth.JWTSecret, fc.Auth.JWTSecret)
	setString(&cfg.Auth.RefreshSecret, fc.Auth.RefreshSecret)
	setString(&cfg.Auth.EncryptionKey, fc.Auth.EncryptionKey)
	setString(&cfg.Zcash.RPCURL, fc.Zcash.RPCURL)
	setString(&cfg.Zcash.RPCUser, fc.Zcash.RPCUser)
	setString(&cfg.Zcash.RPCPassword, fc.Zcash.RPCPassword)
	setDuration(&cfg.Zcash.RPCTimeout, fc.Zcash.RPCTimeout)
	applyService(&cfg.NilDB, fc.NilDB)
	applyService(&cfg.NilAI, fc.NilAI)
	applyService(&cfg.NilCC, fc.NilCC)
	applyService(&cfg.Social, fc.Social)
	setString(&cfg.PublicURL, fc.PublicURL)
	setDuration(&cfg.KeepAlive, fc.KeepAlive)
	if len(fc.CORS) > 0 {
		cfg.CORS = fc.CORS
	}
}

func applyService(dst *ServiceConfig, src ServiceFileConfig) {
	setString(&dst.BaseURL, src.BaseURL)
	setString(&dst.APIKey, src.APIKey)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v string) {
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}

// ApplyEnv layers the MONGO_URI/QUEUE_REDIS_URL/... environment
// variables spec.md §6 names over cfg, taking priority over anything a
// config file set.
func (cfg *Config) ApplyEnv() {
	setEnvString(&cfg.Mongo.URI, "MONGO_URI")
	setEnvString(&cfg.Queue.RedisURL, "QUEUE_REDIS_URL")
	setEnvInt(&cfg.Queue.Concurrency, "QUEUE_CONCURRENCY")
	setEnvString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setEnvString(&cfg.Auth.RefreshSecret, "REFRESH_TOKEN_SECRET")
	setEnvString(&cfg.Auth.EncryptionKey, "ENCRYPTION_KEY")
	setEnvString(&cfg.Zcash.RPCURL, "ZCASH_RPC_URL")
	setEnvString(&cfg.Zcash.RPCUser, "ZCASH_RPC_USER")
	setEnvString(&cfg.Zcash.RPCPassword, "ZCASH_RPC_PASSWORD")
	setEnvDuration(&cfg.Zcash.RPCTimeout, "ZCASH_RPC_TIMEOUT_MS")
	setEnvString(&cfg.NilDB.BaseURL, "NILDB_BASE_URL")
	setEnvString(&cfg.NilDB.APIKey, "NILDB_API_KEY")
	setEnvString(&cfg.NilAI.BaseURL, "NILAI_BASE_URL")
	setEnvString(&cfg.NilAI.APIKey, "NILAI_API_KEY")
	setEnvString(&cfg.NilCC.BaseURL, "NILCC_BASE_URL")
	setEnvString(&cfg.NilCC.APIKey, "NILCC_API_KEY")
	setEnvString(&cfg.Social.BaseURL, "SOCIAL_BASE_URL")
	setEnvString(&cfg.Social.APIKey, "SOCIAL_API_TOKEN")
	setEnvString(&cfg.PublicURL, "PUBLIC_URL")
	setEnvDuration(&cfg.KeepAlive, "KEEP_ALIVE_INTERVAL_MS")
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORS = strings.Split(v, ",")
	}
}

func setEnvString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setEnvInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		*dst = n
	}
}

// setEnvDuration parses key as milliseconds, matching the *_MS naming
// spec.md §6 uses for its duration-valued environment variables.
func setEnvDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
		*dst = time.Duration(ms) * time.Millisecond
	}
}

// ApplyFlags layers urfave/cli flag values over cfg for the flags a
// caller actually set, taking the highest priority of the three layers
// (file < env < flags).
func (cfg *Config) ApplyFlags(c *cli.Context) {
	if c.IsSet(FlagMongoURI) {
		cfg.Mongo.URI = c.String(FlagMongoURI)
	}
	if c.IsSet(FlagRedisURL) {
		cfg.Queue.RedisURL = c.String(FlagRedisURL)
	}
	if c.IsSet(FlagConcurrency) {
		cfg.Queue.Concurrency = c.Int(FlagConcurrency)
	}
	if c.IsSet(FlagPublicURL) {
		cfg.PublicURL = c.String(FlagPublicURL)
	}
	if c.IsSet(FlagCORSOrigins) {
		cfg.CORS = c.StringSlice(FlagCORSOrigins)
	}
}

// Flag names shared between cmd/zecflowd's cli.App definition and
// ApplyFlags, so the two never drift out of sync.
const (
	FlagConfigFile  = "config"
	FlagMongoURI    = "mongo-uri"
	FlagRedisURL    = "redis-url"
	FlagConcurrency = "worker-concurrency"
	FlagPublicURL   = "public-url"
	FlagCORSOrigins = "cors-origin"
)

// Validate reports the first missing required field, per spec.md §6
// "the process refuses to start without these set".
func (cfg Config) Validate() error {
	switch {
	case cfg.Mongo.URI == "":
		return fmt.Errorf("config: MONGO_URI is required")
	case cfg.Queue.RedisURL == "":
		return fmt.Errorf("config: QUEUE_REDIS_URL is required")
	case cfg.Auth.JWTSecret == "":
		return fmt.Errorf("config: JWT_SECRET is required")
	case cfg.Auth.EncryptionKey == "":
		return fmt.Errorf("config: ENCRYPTION_KEY is required")
	}
	return nil
}
