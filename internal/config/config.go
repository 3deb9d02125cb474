package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "STARBOARD_"

// Config is the process-wide configuration, loaded once at startup.
type Config struct {
	DatabaseType string
	DatabaseDSN  string

	BotToken string
	BotID    string
	OwnerIDs []string

	ThemeColor int
	ErrorColor int

	DefaultLimits map[string]int
	PremiumLimits map[string]int
	Languages     map[string]string

	DonorRoles    []string
	PatronRoles   []string
	SupportServer string

	TenorKey string
	GiphyKey string

	IPCURL                string
	IPCListen             string
	IPCCert               string
	IPCKey                string
	IPCInsecureSkipVerify bool
	IPCResponseWindow     time.Duration

	ClusterName string
	ShardIDs    []int
	ShardCount  int

	MetricsListen string
	LogDir        string
	DevMode       bool

	StatsInterval     time.Duration
	RoleLoopInterval  time.Duration
	IntakeWorkers     int
	IntakeQueueLength int
}

// Load reads .env, an optional JSON file and STARBOARD_* environment
// variables, in that order. Nested keys use a double underscore:
// STARBOARD_GIFS__TENOR_KEY sets gifs.tenor_key.
func Load(jsonPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	k := koanf.New(".")

	if jsonPath != "" && fileExists(jsonPath) {
		if err := k.Load(file.Provider(jsonPath), json.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", jsonPath, err)
		}
	}

	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	return fromKoanf(k)
}

func fromKoanf(k *koanf.Koanf) (*Config, error) {
	cfg := &Config{
		DatabaseType: stringOr(k, "database.type", "postgres"),
		DatabaseDSN:  k.String("database.dsn"),

		BotToken: k.String("bot.token"),
		BotID:    k.String("bot.id"),
		OwnerIDs: stringList(k, "owners"),

		DefaultLimits: intMap(k, "limits.default"),
		PremiumLimits: intMap(k, "limits.premium"),
		Languages:     k.StringMap("languages"),

		DonorRoles:    stringList(k, "roles.donor"),
		PatronRoles:   stringList(k, "roles.patron"),
		SupportServer: k.String("support.server"),

		TenorKey: k.String("gifs.tenor_key"),
		GiphyKey: k.String("gifs.giphy_key"),

		IPCURL:                stringOr(k, "ipc.url", "wss://localhost:4000"),
		IPCListen:             stringOr(k, "ipc.listen", "localhost:4000"),
		IPCCert:               stringOr(k, "ipc.cert", "localhost.pem"),
		IPCKey:                stringOr(k, "ipc.key", "localhost-key.pem"),
		IPCInsecureSkipVerify: k.Bool("ipc.insecure_skip_verify"),
		IPCResponseWindow:     durationOr(k, "ipc.response_window", 100*time.Millisecond),

		ClusterName: stringOr(k, "cluster.name", uuid.NewString()[:8]),
		ShardCount:  intOr(k, "cluster.shard_count", 1),

		MetricsListen: k.String("metrics.listen"),
		LogDir:        stringOr(k, "log.dir", "logs"),
		DevMode:       k.Bool("dev.mode"),

		StatsInterval:     durationOr(k, "stats.interval", time.Minute),
		RoleLoopInterval:  durationOr(k, "roles.interval", 5*time.Second),
		IntakeWorkers:     intOr(k, "intake.workers", 8),
		IntakeQueueLength: intOr(k, "intake.queue", 1024),
	}

	var err error
	if cfg.ThemeColor, err = hexColor(stringOr(k, "theme.color", "FFE19C")); err != nil {
		return nil, fmt.Errorf("theme.color: %w", err)
	}
	if cfg.ErrorColor, err = hexColor(stringOr(k, "theme.error_color", "FF6961")); err != nil {
		return nil, fmt.Errorf("theme.error_color: %w", err)
	}

	for _, s := range stringList(k, "cluster.shards") {
		id, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("cluster.shards: %w", err)
		}
		cfg.ShardIDs = append(cfg.ShardIDs, id)
	}

	return cfg, nil
}

// Validate checks the settings a worker cluster cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.BotToken == "" {
		errs = append(errs, errors.New("bot.token is required"))
	}
	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	switch c.DatabaseType {
	case "postgres", "sqlite", "sqlite-cgo":
	default:
		errs = append(errs, fmt.Errorf("unsupported database.type %q", c.DatabaseType))
	}
	return errors.Join(errs...)
}

// IsOwner reports whether userID is one of the configured bot owners.
func (c *Config) IsOwner(userID string) bool {
	for _, id := range c.OwnerIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func hexColor(s string) (int, error) {
	v, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimPrefix(s, "#"), "0x"), 16, 32)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

func stringOr(k *koanf.Koanf, path, def string) string {
	if v := k.String(path); v != "" {
		return v
	}
	return def
}

func intOr(k *koanf.Koanf, path string, def int) int {
	if !k.Exists(path) {
		return def
	}
	return k.Int(path)
}

func durationOr(k *koanf.Koanf, path string, def time.Duration) time.Duration {
	if !k.Exists(path) {
		return def
	}
	return k.Duration(path)
}

// stringList accepts either a JSON array or a comma separated string.
func stringList(k *koanf.Koanf, path string) []string {
	switch v := k.Get(path).(type) {
	case nil:
		return nil
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	default:
		return k.Strings(path)
	}
}

func intMap(k *koanf.Koanf, path string) map[string]int {
	out := make(map[string]int)
	for key := range k.Cut(path).All() {
		out[key] = k.Int(path + "." + key)
	}
	return out
}

func fileExists(filename string) bool {
	_, err := os.Stat(filename)
	return err == nil
}
