package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/samber/lo"
)

const (
	EngineSimplex  = "simplex"
	EngineTelegram = "telegram"

	DefaultWelcomeMessage = "Welcome! I am the Boltz Pro Fee Alert Bot.\n\nUse /help to see available commands."

	envProduction = "production"
	envDotFile    = "SIMPLEXBRIDGE_ENV_FILE"
	defaultDotEnv = ".env"
)

// Config is the root runtime configuration, read from the process environment.
type Config struct {
	Server  ServerConfig
	Bot     BotConfig
	Engine  EngineConfig
	Logging LoggingConfig
	Client  ClientConfig
	Mode    ModeConfig
}

// ModeConfig carries the deployment mode flags.
type ModeConfig struct {
	NodeEnv string `env:"NODE_ENV"`
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
}

// ServerConfig configures the HTTP and stream listener.
type ServerConfig struct {
	Host string `env:"ADAPTER_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"ADAPTER_PORT" envDefault:"3000" validate:"min=1,max=65535"`
}

// BotConfig describes the bot profile presented to contacts.
type BotConfig struct {
	Name           string `env:"BOT_NAME" envDefault:"Boltz Pro Fee Bot" validate:"required"`
	WelcomeMessage string `env:"BOT_WELCOME_MESSAGE"`
	AvatarPath     string `env:"BOT_AVATAR_PATH" envDefault:"bot-avatar.png"`
}

// EngineConfig selects and configures the chat engine backend.
type EngineConfig struct {
	Kind          string `env:"ENGINE" envDefault:"simplex" validate:"oneof=simplex telegram"`
	DBFilePrefix  string `env:"DB_FILE_PREFIX" envDefault:"./simplex_bot" validate:"required"`
	DBKey         string `env:"DB_KEY"`
	SimplexWSURL  string `env:"SIMPLEX_WS_URL" envDefault:"ws://127.0.0.1:5225" validate:"required_if=Kind simplex"`
	SimplexCLI    string `env:"SIMPLEX_CLI_PATH"`
	TelegramToken string `env:"TELEGRAM_BOT_TOKEN" validate:"required_if=Kind telegram"`
	// TelegramAllowFrom limits which Telegram user IDs reach the bridge.
	// Empty accepts everyone.
	TelegramAllowFrom []string `env:"TELEGRAM_ALLOW_FROM" envSeparator:","`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `env:"LOG_FORMAT" envDefault:"auto" validate:"oneof=auto text json"`
	Level     string `env:"LOG_LEVEL" envDefault:"info"`
	AddSource bool   `env:"LOG_ADD_SOURCE"`
}

// ClientConfig is used by the client-side subcommands.
type ClientConfig struct {
	BridgeURL string `env:"BRIDGE_URL" envDefault:"http://127.0.0.1:3000" validate:"url"`
}

// Production reports whether the process runs in a production configuration.
// Either NODE_ENV or APP_ENV set to "production" is enough.
func (c *Config) Production() bool {
	return strings.EqualFold(strings.TrimSpace(c.Mode.NodeEnv), envProduction) ||
		strings.EqualFold(strings.TrimSpace(c.Mode.AppEnv), envProduction)
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", strings.TrimSpace(c.Server.Host), c.Server.Port)
}

// Load reads an optional dotenv file, parses the environment and validates the result.
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// LoadClient reads only the settings client commands need.
func LoadClient() (*ClientConfig, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg, err := env.ParseAs[ClientConfig]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.BridgeURL = strings.TrimSpace(cfg.BridgeURL)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv loads SIMPLEXBRIDGE_ENV_FILE, or ./.env when present.
// Variables already set in the environment are never overwritten.
func loadDotEnv() error {
	path := strings.TrimSpace(os.Getenv(envDotFile))
	explicit := path != ""
	if !explicit {
		path = defaultDotEnv
	}

	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}

	return nil
}

func (c *Config) normalize() error {
	c.Engine.Kind = strings.ToLower(strings.TrimSpace(c.Engine.Kind))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Bot.Name = strings.TrimSpace(c.Bot.Name)
	c.Engine.TelegramAllowFrom = lo.Uniq(lo.Compact(lo.Map(c.Engine.TelegramAllowFrom, func(id string, _ int) string {
		return strings.TrimSpace(id)
	})))
	if strings.TrimSpace(c.Bot.WelcomeMessage) == "" {
		c.Bot.WelcomeMessage = DefaultWelcomeMessage
	}

	prefix, err := homedir.Expand(strings.TrimSpace(c.Engine.DBFilePrefix))
	if err != nil {
		return fmt.Errorf("expand DB_FILE_PREFIX: %w", err)
	}
	c.Engine.DBFilePrefix = prefix

	avatar, err := homedir.Expand(strings.TrimSpace(c.Bot.AvatarPath))
	if err != nil {
		return fmt.Errorf("expand BOT_AVATAR_PATH: %w", err)
	}
	c.Bot.AvatarPath = avatar

	return nil
}
