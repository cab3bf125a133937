package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/BrandonDHaskell/parkgate/internal/parkgate/types"
)

const envPrefix = "PARKGATE"

type Config struct {
	HTTPAddr string
	GRPCAddr string // "" disables the health endpoint
	Env      string // "dev" | "prod"

	LogLevel  string
	LogFormat string // "json" | "console"; unset means console in dev, json in prod

	Roster RosterConfig
	Serial SerialConfig

	Slots      int
	QueueLimit int

	// Trusted replaces the built-in trusted table when non-nil.
	Trusted []types.Identity
}

type RosterConfig struct {
	Backend string // "json" | "sqlite"
	Path    string // json file, e.g. "./data/users.json"
	DBPath  string // sqlite file, e.g. "./data/parkgate.db"
}

type SerialConfig struct {
	Port         string // "" means don't connect at startup
	Baud         int
	ReadTimeout  time.Duration
	RetryBackoff time.Duration
}

var defaults = map[string]any{
	"http_addr":            ":8080",
	"grpc_addr":            ":9090",
	"env":                  "dev",
	"log.level":            "info",
	"log.format":           "",
	"roster.backend":       "json",
	"roster.path":          "./data/users.json",
	"roster.db_path":       "./data/parkgate.db",
	"serial.port":          "",
	"serial.baud":          9600,
	"serial.read_timeout":  time.Second,
	"serial.retry_backoff": time.Second,
	"slots":                types.DefaultSlotCount,
	"queue_limit":          32,
}

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"http-addr":      "http_addr",
	"grpc-addr":      "grpc_addr",
	"env":            "env",
	"log-level":      "log.level",
	"log-format":     "log.format",
	"roster-backend": "roster.backend",
	"roster-path":    "roster.path",
	"roster-db-path": "roster.db_path",
	"serial-port":    "serial.port",
	"serial-baud":    "serial.baud",
	"slots":          "slots",
	"queue-limit":    "queue_limit",
}

// NewFlagSet declares the server's flags. Unset flags fall through to the
// environment, then the config file, then the defaults.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "path to a YAML config file")
	fs.String("http-addr", ":8080", "HTTP listen address")
	fs.String("grpc-addr", ":9090", "gRPC health listen address (empty disables)")
	fs.String("env", "dev", "dev or prod")
	fs.String("log-level", "info", "debug, info, warn or error")
	fs.String("log-format", "", "json or console (default console in dev, json in prod)")
	fs.String("roster-backend", "json", "json or sqlite")
	fs.String("roster-path", "./data/users.json", "roster JSON file")
	fs.String("roster-db-path", "./data/parkgate.db", "roster SQLite database")
	fs.String("serial-port", "", "serial port to connect at startup")
	fs.Int("serial-baud", 9600, "serial baud rate")
	fs.Int("slots", types.DefaultSlotCount, "number of parking slots")
	fs.Int("queue-limit", 32, "tag reads kept while a prompt is open")
	return fs
}

// Load resolves the configuration from fs (already parsed, may be nil),
// PARKGATE_* environment variables and an optional config file. Only an
// unreadable config file is an error; invalid values fall back to
// defaults.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	configFile := ""
	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
		configFile, _ = fs.GetString("config")
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("parkgate")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	env := oneOf(v.GetString("env"), "dev", "dev", "prod")
	format := "json"
	if env == "dev" {
		format = "console"
	}

	cfg := Config{
		HTTPAddr: stringOr(v.GetString("http_addr"), ":8080"),
		GRPCAddr: strings.TrimSpace(v.GetString("grpc_addr")),
		Env:      env,

		LogLevel:  oneOf(v.GetString("log.level"), "info", "debug", "info", "warn", "error"),
		LogFormat: oneOf(v.GetString("log.format"), format, "json", "console"),

		Roster: RosterConfig{
			Backend: oneOf(v.GetString("roster.backend"), "json", "json", "sqlite"),
			Path:    stringOr(v.GetString("roster.path"), "./data/users.json"),
			DBPath:  stringOr(v.GetString("roster.db_path"), "./data/parkgate.db"),
		},
		Serial: SerialConfig{
			Port:         strings.TrimSpace(v.GetString("serial.port")),
			Baud:         positiveOr(v.GetInt("serial.baud"), 9600),
			ReadTimeout:  durationOr(v.GetDuration("serial.read_timeout"), time.Second),
			RetryBackoff: durationOr(v.GetDuration("serial.retry_backoff"), time.Second),
		},

		Slots:      positiveOr(v.GetInt("slots"), types.DefaultSlotCount),
		QueueLimit: positiveOr(v.GetInt("queue_limit"), 32),
	}

	if v.IsSet("trusted") {
		cfg.Trusted = parseTrusted(v.Get("trusted"))
	}
	return cfg, nil
}

// parseTrusted accepts either "tag|name|role,tag|name|role" or a list whose
// items are such strings or {tag_id, name, role} maps. Unusable items are
// skipped.
func parseTrusted(raw any) []types.Identity {
	var items []any
	switch t := raw.(type) {
	case string:
		for _, s := range strings.Split(t, ",") {
			items = append(items, s)
		}
	case []string:
		for _, s := range t {
			items = append(items, s)
		}
	case []any:
		items = t
	}

	out := make([]types.Identity, 0, len(items))
	for _, it := range items {
		var id types.Identity
		switch t := it.(type) {
		case string:
			parts := strings.SplitN(t, "|", 3)
			if len(parts) < 2 {
				continue
			}
			id.TagID = types.TagID(parts[0])
			id.DisplayName = parts[1]
			if len(parts) == 3 {
				id.Role = parts[2]
			}
		case map[string]any:
			id.TagID = types.TagID(mapString(t, "tag_id", "tag"))
			id.DisplayName = mapString(t, "name")
			id.Role = mapString(t, "role")
		default:
			continue
		}

		id.TagID = types.NormalizeTagID(string(id.TagID))
		id.DisplayName = strings.TrimSpace(id.DisplayName)
		id.Role = strings.TrimSpace(id.Role)
		if id.TagID == "" || id.DisplayName == "" {
			continue
		}
		out = append(out, id)
	}
	return out
}

func mapString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return fmt.Sprint(v)
		}
	}
	return ""
}

func stringOr(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

// oneOf lower-cases v and returns it if allowed, otherwise def.
func oneOf(v, def string, allowed ...string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return def
}

func positiveOr(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

func durationOr(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
