package configs

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port     string
		Env      string
		LogLevel string
	}
	Database struct {
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
	}
	WebSocket struct {
		PingInterval   string
		MaxMessageSize int
	}
	Auth struct {
		SecretKey string
	}
	Ledger struct {
		Storage     string // "postgres" or "memory"
		CloseBuffer time.Duration
		MaxPageSize int
	}
	Funds struct {
		OpeningBalance string
	}
	Features struct {
		EnableLogging    bool
		EnableDashboard  bool
		AllowCrossOrigin bool
	}
}

// UsesDatabase reports whether the ledger persists to PostgreSQL.
func (c *Config) UsesDatabase() bool {
	return strings.EqualFold(c.Ledger.Storage, "postgres")
}

func LoadConfig() (*Config, error) {
	return Load("./configs")
}

// Load reads config.yaml and .env from dir. Environment variables override
// file values, with dots in keys replaced by underscores (LEDGER_CLOSEBUFFER).
func Load(dir string) (*Config, error) {
	// Load .env file
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil {
		log.Info("No .env file found")
	}

	v := viper.New()
	v.SetConfigName("config") // Name of the config file (without extension)
	v.SetConfigType("yaml")   // Config file type
	v.AddConfigPath(dir)      // Path to look for the config file
	v.AutomaticEnv()          // Automatically map environment variables

	// Allow dots in environment variables to map to nested keys
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		log.Info("No config file found, using defaults", "dir", dir)
	}

	// Manually substitute environment variables in the config
	substituteEnvVarsInConfig(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "dev")
	v.SetDefault("server.loglevel", "info")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "auction_ledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("websocket.pinginterval", "30s")
	v.SetDefault("websocket.maxmessagesize", 4096)
	v.SetDefault("auth.secretkey", "")
	v.SetDefault("ledger.storage", "memory")
	v.SetDefault("ledger.closebuffer", "0s")
	v.SetDefault("ledger.maxpagesize", 100)
	v.SetDefault("funds.openingbalance", "0")
	v.SetDefault("features.enablelogging", true)
	v.SetDefault("features.enabledashboard", false)
	v.SetDefault("features.allowcrossorigin", false)
}

// Helper function to manually replace environment variables in config file values
func substituteEnvVarsInConfig(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		value := v.GetString(key)

		// Check if the value contains environment variable syntax (e.g., ${PORT})
		if strings.Contains(value, "${") {
			v.Set(key, os.ExpandEnv(value))
		}
	}
}
