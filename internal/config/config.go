package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Logger   LoggerConfig
	Model    ModelConfig
	GradCAM  GradCAMConfig
	History  HistoryConfig
	Database DatabaseConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	MaxUploadBytes int64
	MaxImagePixels int64
	CORSOrigin     string
}

type LoggerConfig struct {
	Level  string
	Format string
}

// ModelConfig locates the exported backbone, its metadata and head weights.
type ModelConfig struct {
	Dir        string
	ORTLibrary string
}

type GradCAMConfig struct {
	Alpha float64
	Score string
	TopK  int
}

type HistoryConfig struct {
	Driver     string
	Size       int
	SQLitePath string
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8050)
	v.SetDefault("SERVER_MAX_UPLOAD_BYTES", 10<<20)
	v.SetDefault("SERVER_MAX_IMAGE_PIXELS", 40_000_000)
	v.SetDefault("SERVER_CORS_ORIGIN", "*")
	v.SetDefault("LOGGER_LEVEL", "info")
	v.SetDefault("LOGGER_FORMAT", "json")
	v.SetDefault("MODEL_DIR", "models")
	v.SetDefault("MODEL_ORT_LIBRARY", "")
	v.SetDefault("GRADCAM_ALPHA", 0.4)
	v.SetDefault("GRADCAM_SCORE", "probability")
	v.SetDefault("GRADCAM_TOP_K", 5)
	v.SetDefault("HISTORY_DRIVER", "memory")
	v.SetDefault("HISTORY_SIZE", 200)
	v.SetDefault("HISTORY_SQLITE_PATH", "gradcam.db")
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "")
	v.SetDefault("DATABASE_NAME", "gradcam")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 10)
	v.SetDefault("DATABASE_MAX_IDLE_CONNS", 2)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "30m")

	// Env
	v.AutomaticEnv()

	lifetime, err := time.ParseDuration(v.GetString("DATABASE_CONN_MAX_LIFETIME"))
	if err != nil {
		lifetime = 30 * time.Minute
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           v.GetString("SERVER_HOST"),
			Port:           v.GetInt("SERVER_PORT"),
			MaxUploadBytes: v.GetInt64("SERVER_MAX_UPLOAD_BYTES"),
			MaxImagePixels: v.GetInt64("SERVER_MAX_IMAGE_PIXELS"),
			CORSOrigin:     v.GetString("SERVER_CORS_ORIGIN"),
		},
		Logger: LoggerConfig{
			Level:  v.GetString("LOGGER_LEVEL"),
			Format: v.GetString("LOGGER_FORMAT"),
		},
		Model: ModelConfig{
			Dir:        v.GetString("MODEL_DIR"),
			ORTLibrary: v.GetString("MODEL_ORT_LIBRARY"),
		},
		GradCAM: GradCAMConfig{
			Alpha: v.GetFloat64("GRADCAM_ALPHA"),
			Score: v.GetString("GRADCAM_SCORE"),
			TopK:  v.GetInt("GRADCAM_TOP_K"),
		},
		History: HistoryConfig{
			Driver:     v.GetString("HISTORY_DRIVER"),
			Size:       v.GetInt("HISTORY_SIZE"),
			SQLitePath: v.GetString("HISTORY_SQLITE_PATH"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("DATABASE_HOST"),
			Port:            v.GetInt("DATABASE_PORT"),
			User:            v.GetString("DATABASE_USER"),
			Password:        v.GetString("DATABASE_PASSWORD"),
			Name:            v.GetString("DATABASE_NAME"),
			SSLMode:         v.GetString("DATABASE_SSLMODE"),
			MaxOpenConns:    v.GetInt("DATABASE_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DATABASE_MAX_IDLE_CONNS"),
			ConnMaxLifetime: lifetime,
		},
	}

	switch cfg.History.Driver {
	case "memory", "sqlite", "postgres", "none":
	default:
		return nil, fmt.Errorf("unknown HISTORY_DRIVER %q", cfg.History.Driver)
	}
	switch cfg.GradCAM.Score {
	case "probability", "logit":
	default:
		return nil, fmt.Errorf("unknown GRADCAM_SCORE %q", cfg.GradCAM.Score)
	}

	return cfg, nil
}
