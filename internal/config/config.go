package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"120s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	// Local inference engines
	PythonBin string `env:"PYTHON_BIN" envDefault:"python3"`
	EngineDir string `env:"ENGINE_DIR" envDefault:"./engines"`
	TempDir   string `env:"TEMP_DIR"`

	// Provider selection
	RealtimeProvider   string `env:"REALTIME_PROVIDER" envDefault:"vosk"`
	BatchProvider      string `env:"BATCH_PROVIDER" envDefault:"whisper-local"`
	VoiceprintProvider string `env:"VOICEPRINT_PROVIDER" envDefault:"speakerlab"`
	Language           string `env:"LANGUAGE" envDefault:"en"`

	// Vosk (local streaming ASR)
	VoskModelDir string `env:"VOSK_MODEL_DIR" envDefault:"./models/vosk"`

	// Whisper local (batch-only subprocess)
	WhisperLocalModel string `env:"WHISPER_LOCAL_MODEL" envDefault:"base"`

	// Whisper API (hosted REST batch)
	WhisperURL     string        `env:"WHISPER_URL"`
	WhisperModel   string        `env:"WHISPER_MODEL" envDefault:"whisper-1"`
	WhisperAPIKey  string        `env:"WHISPER_API_KEY"`
	WhisperTimeout time.Duration `env:"WHISPER_TIMEOUT" envDefault:"120s"`

	// Cloud ASR (hosted WebSocket streaming)
	CloudASRURL   string `env:"CLOUD_ASR_URL"`
	CloudASRToken string `env:"CLOUD_ASR_TOKEN"`

	// Realtime session engine
	SessionCapacity    int           `env:"SESSION_CAPACITY" envDefault:"10"`
	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"5m"`
	SweepInterval      time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s"`

	// Subprocess lifecycle
	StreamReadyTimeout time.Duration `env:"STREAM_READY_TIMEOUT" envDefault:"30s"`
	StopGrace          time.Duration `env:"STOP_GRACE" envDefault:"5s"`

	// Voiceprint / fusion
	IdentifyThreshold float64 `env:"IDENTIFY_THRESHOLD" envDefault:"0.50"`
	MatchThreshold    float64 `env:"MATCH_THRESHOLD" envDefault:"0.40"`
	MaxSentenceChars  int     `env:"MAX_SENTENCE_CHARS" envDefault:"120"`

	EventRingSize int `env:"EVENT_RING_SIZE" envDefault:"256"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile   string
	HTTPAddr  string
	LogLevel  string
	EngineDir string
	TempDir   string
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

	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.EngineDir != "" {
		cfg.EngineDir = overrides.EngineDir
	}
	if overrides.TempDir != "" {
		cfg.TempDir = overrides.TempDir
	}

	return cfg, nil
}
