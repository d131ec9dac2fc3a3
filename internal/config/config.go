package config

import (
	"errors"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`

	AudioDir string `env:"AUDIO_DIR" envDefault:"./audio"`
	InboxDir string `env:"INBOX_DIR"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"10m"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	// Message store
	VoiceMessageType int `env:"VOICE_MESSAGE_TYPE" envDefault:"34"`

	// Transcription engine
	Backend        string  `env:"TRANSCRIBE_BACKEND" envDefault:"remote"`
	Language       string  `env:"TRANSCRIBE_LANGUAGE" envDefault:"zh"`
	ChunkSeconds   float64 `env:"CHUNK_SECONDS" envDefault:"10"`
	WhisperModel   string  `env:"WHISPER_MODEL"`
	WhisperDir     string  `env:"WHISPER_MODEL_DIR" envDefault:"./models"`
	WhisperDevice  string  `env:"WHISPER_DEVICE" envDefault:"auto"`
	WhisperThreads int     `env:"WHISPER_THREADS" envDefault:"0"`

	WhisperAutoDownload bool   `env:"WHISPER_AUTO_DOWNLOAD" envDefault:"false"`
	WhisperModelURL     string `env:"WHISPER_MODEL_URL" envDefault:"https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"`

	OpenAIKey     string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string        `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	OpenAIModel   string        `env:"OPENAI_MODEL" envDefault:"whisper-1"`
	OpenAITimeout time.Duration `env:"OPENAI_TIMEOUT" envDefault:"60s"`

	// Bulk transcription queue
	Workers    int           `env:"TRANSCRIBE_WORKERS" envDefault:"2"`
	QueueSize  int           `env:"TRANSCRIBE_QUEUE_SIZE" envDefault:"500"`
	JobTimeout time.Duration `env:"TRANSCRIBE_JOB_TIMEOUT" envDefault:"10m"`

	MQTT MQTTConfig
	S3   S3Config `envPrefix:"S3_"`
}

// MQTTConfig is optional; leaving MQTT_BROKER_URL empty disables the bus.
type MQTTConfig struct {
	BrokerURL   string `env:"MQTT_BROKER_URL"`
	ClientID    string `env:"MQTT_CLIENT_ID" envDefault:"voxarchive"`
	Username    string `env:"MQTT_USERNAME"`
	Password    string `env:"MQTT_PASSWORD"`
	TopicPrefix string `env:"MQTT_TOPIC_PREFIX" envDefault:"voxarchive"`
}

func (m MQTTConfig) Enabled() bool { return m.BrokerURL != "" }

// S3Config points the audio store at an S3-compatible bucket holding
// materialized voice files.
type S3Config struct {
	Bucket    string `env:"BUCKET"`
	Endpoint  string `env:"ENDPOINT"`
	Region    string `env:"REGION" envDefault:"us-east-1"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Prefix    string `env:"PREFIX"`
}

func (s S3Config) Enabled() bool { return s.Bucket != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
	AudioDir    string
	Backend     string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.AudioDir != "" {
		cfg.AudioDir = overrides.AudioDir
	}
	if overrides.Backend != "" {
		cfg.Backend = overrides.Backend
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required (env, .env file or --database-url)")
	}

	return cfg, nil
}
