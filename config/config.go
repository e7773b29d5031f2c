package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the taxpilot service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Flywheel  FlywheelConfig  `mapstructure:"flywheel"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug     bool   `mapstructure:"debug"`
	LogLevel  string `mapstructure:"log_level"`
	Listen    string `mapstructure:"listen"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a Postgres connection string from the configured fields.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// ProvidersConfig contains external capability configurations
type ProvidersConfig struct {
	OpenAI OpenAIConfig `mapstructure:"openai"`
}

// OpenAIConfig configures the embedding and generation client
type OpenAIConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	CompletionModel string        `mapstructure:"completion_model"`
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

func (o OpenAIConfig) Validate() error {
	if strings.TrimSpace(o.APIKey) == "" {
		return fmt.Errorf("providers.openai.api_key required")
	}
	return nil
}

// FlywheelConfig tunes the persona/similarity/pattern machinery
type FlywheelConfig struct {
	EmbeddingDimensions int           `mapstructure:"embedding_dimensions"`
	SimilarityThreshold float64       `mapstructure:"similarity_threshold"`
	SimilarUsersLimit   int           `mapstructure:"similar_users_limit"`
	PatternsTopK        int           `mapstructure:"patterns_top_k"`
	BehaviorWindowDays  int           `mapstructure:"behavior_window_days"`
	BehaviorTopTopics   int           `mapstructure:"behavior_top_topics"`
	MaxNotesChars       int           `mapstructure:"max_notes_chars"`
	GenerationTimeout   time.Duration `mapstructure:"generation_timeout"`
}

func (f FlywheelConfig) Validate() error {
	if f.EmbeddingDimensions <= 0 {
		return fmt.Errorf("flywheel.embedding_dimensions must be > 0")
	}
	if f.SimilarityThreshold < -1 || f.SimilarityThreshold > 1 {
		return fmt.Errorf("flywheel.similarity_threshold must be within [-1,1]")
	}
	return nil
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.listen", ":10002")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("providers.openai.completion_model", "gpt-4o-mini")
	viper.SetDefault("providers.openai.embedding_model", "text-embedding-3-small")
	viper.SetDefault("providers.openai.temperature", 0.2)
	viper.SetDefault("providers.openai.max_tokens", 2048)
	viper.SetDefault("providers.openai.timeout", 30*time.Second)
	viper.SetDefault("flywheel.embedding_dimensions", 768)
	viper.SetDefault("flywheel.similarity_threshold", 0.7)
	viper.SetDefault("flywheel.similar_users_limit", 10)
	viper.SetDefault("flywheel.patterns_top_k", 10)
	viper.SetDefault("flywheel.behavior_window_days", 30)
	viper.SetDefault("flywheel.behavior_top_topics", 10)
	viper.SetDefault("flywheel.max_notes_chars", 20000)
	viper.SetDefault("flywheel.generation_timeout", 60*time.Second)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("TAXPILOT")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.Providers.OpenAI.Validate(); err != nil {
		panic(err)
	}
	if err := config.Flywheel.Validate(); err != nil {
		panic(err)
	}
	return &config
}
