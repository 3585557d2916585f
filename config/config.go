package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yoockh/thinkprobe/internal/models"
)

// Config is the process configuration read from the environment.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string
	// DeviceID names the machine hosting the session; it scopes the event channel.
	DeviceID string

	Observer      models.ObserverConfig
	ChunkDuration time.Duration
	Horizon       time.Duration
	Window        time.Duration
	Cooldown      time.Duration
	CallTimeout   time.Duration

	EEGBridgeURL string
	EEGChannels  [2]string
	EEGDecoder   string

	LLMProvider     string // gemini|anthropic|openai
	GCPProject      string
	GCPLocation     string
	GeminiModel     string
	AnthropicAPIKey string
	AnthropicModel  string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModel     string
	SpeechLanguage  string

	MongoDB           string
	GCSBucket         string
	GCSPublic         bool
	SampleTTL         time.Duration
	TranscriptWorkers int
}

func Load() (Config, error) {
	c := Config{
		Port:      env("PORT", "8080"),
		LogLevel:  env("LOG_LEVEL", "info"),
		LogFormat: env("LOG_FORMAT", "json"),
		DeviceID:  env("DEVICE_ID", hostname()),

		EEGBridgeURL: os.Getenv("EEG_BRIDGE_URL"),
		EEGDecoder:   env("EEG_DECODER", "json"),

		LLMProvider:     strings.ToLower(env("LLM_PROVIDER", "gemini")),
		GCPProject:      os.Getenv("GCP_PROJECT"),
		GCPLocation:     env("GCP_LOCATION", "us-central1"),
		GeminiModel:     os.Getenv("GEMINI_MODEL"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  os.Getenv("ANTHROPIC_MODEL"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:   os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:     os.Getenv("OPENAI_MODEL"),
		SpeechLanguage:  env("SPEECH_LANGUAGE", "en-US"),

		MongoDB:   env("MONGO_DB", "thinkprobe"),
		GCSBucket: os.Getenv("GCS_BUCKET"),
		GCSPublic: os.Getenv("GCS_PUBLIC") == "true",
	}

	def := models.DefaultObserverConfig()
	var ok bool
	if c.Observer.Mode, ok = models.ParseMode(env("OBSERVER_MODE", string(def.Mode))); !ok {
		return c, fmt.Errorf("OBSERVER_MODE: unknown mode %q", os.Getenv("OBSERVER_MODE"))
	}
	if c.Observer.Frequency, ok = models.ParseFrequency(env("OBSERVER_FREQUENCY", string(def.Frequency))); !ok {
		return c, fmt.Errorf("OBSERVER_FREQUENCY: unknown frequency %q", os.Getenv("OBSERVER_FREQUENCY"))
	}

	var err error
	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"CHUNK_MS", 5 * time.Second, &c.ChunkDuration},
		{"HORIZON_MS", 15 * time.Second, &c.Horizon},
		{"WINDOW_MS", 15 * time.Second, &c.Window},
		{"COOLDOWN_MS", 15 * time.Second, &c.Cooldown},
		{"CALL_TIMEOUT_MS", 30 * time.Second, &c.CallTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = envMillis(d.key, d.def); err != nil {
			return c, err
		}
	}

	days, err := envInt("EEG_RETENTION_DAYS", 30)
	if err != nil {
		return c, err
	}
	c.SampleTTL = time.Duration(days) * 24 * time.Hour

	if c.TranscriptWorkers, err = envInt("TRANSCRIPT_WORKERS", 2); err != nil {
		return c, err
	}

	c.EEGChannels = [2]string{"TP9", "TP10"}
	if v := os.Getenv("EEG_CHANNELS"); v != "" {
		parts := strings.Split(v, ",")
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			return c, fmt.Errorf("EEG_CHANNELS: want two comma-separated names, got %q", v)
		}
		c.EEGChannels = [2]string{strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])}
	}

	switch c.LLMProvider {
	case "gemini", "anthropic", "openai":
	default:
		return c, fmt.Errorf("LLM_PROVIDER: unknown provider %q", c.LLMProvider)
	}
	return c, nil
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s: want a positive integer, got %q", key, v)
	}
	return n, nil
}

func envMillis(key string, def time.Duration) (time.Duration, error) {
	if os.Getenv(key) == "" {
		return def, nil
	}
	n, err := envInt(key, 0)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Millisecond, nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "local"
	}
	return h
}
