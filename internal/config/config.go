package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"babelmic/internal/logging"
)

// Config stores runtime configuration for the desk and the stub backend.
type Config struct {
	Remote   RemoteConfig
	Session  SessionConfig
	Speech   SpeechConfig
	Deepgram DeepgramConfig
	Audio    AudioConfig
	Settings SettingsConfig
	Stub     StubConfig
	Log      logging.Config
}

type RemoteConfig struct {
	// Transport is one of rpc, legacy or http.
	Transport        string
	URL              string
	LegacyURL        string
	HTTPURL          string
	DialTimeout      time.Duration
	RequestTimeout   time.Duration
	SynthesisTimeout time.Duration
}

type SessionConfig struct {
	SourceLang    string
	TargetLang    string
	CommitWindow  time.Duration
	EditDebounce  time.Duration
	AutoTranslate bool
	AutoSpeak     bool
}

type SpeechConfig struct {
	// Recognizer is webview, deepgram or none.
	Recognizer string
	// Synthesizer is webview, remote or none.
	Synthesizer   string
	Rate          float64
	Pitch         float64
	Volume        float64
	PlayerCommand string
}

type DeepgramConfig struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	SmartFormat bool
}

type AudioConfig struct {
	RecorderCommand string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
}

type SettingsConfig struct {
	ChunkSize      int
	VADSensitivity float64
}

type StubConfig struct {
	Addr string
}

var defaults = map[string]interface{}{
	"remote.transport":            "rpc",
	"remote.url":                  "ws://127.0.0.1:8000/ws",
	"remote.legacy_url":           "",
	"remote.http_url":             "",
	"remote.dial_timeout_ms":      5000,
	"remote.request_timeout_ms":   15000,
	"remote.synthesis_timeout_ms": 60000,

	"session.source_lang":      "th",
	"session.target_lang":      "en",
	"session.commit_window_ms": 1000,
	"session.edit_debounce_ms": 500,
	"session.auto_translate":   true,
	"session.auto_speak":       false,

	"speech.recognizer":     "webview",
	"speech.synthesizer":    "webview",
	"speech.rate":           0.8,
	"speech.pitch":          1.2,
	"speech.volume":         1.0,
	"speech.player_command": "ffplay",

	"deepgram.api_key":      "",
	"deepgram.api_base":     "https://api.deepgram.com/v1",
	"deepgram.model":        "nova-2",
	"deepgram.smart_format": true,

	"audio.ffmpeg_command": "ffmpeg",
	"audio.input_format":   "pulse",
	"audio.input_device":   "default",
	"audio.sample_rate":    16000,
	"audio.channels":       1,

	"settings.chunk_size":      4096,
	"settings.vad_sensitivity": 0.5,

	"stub.addr": "127.0.0.1:8000",

	"log.level":  "info",
	"log.format": "text",
}

// Load resolves configuration from BABELMIC_* environment variables, an
// optional file named by BABELMIC_CONFIG_FILE, and defaults. Values that do
// not parse fall back to their default.
func Load() (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix("BABELMIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("deepgram.api_key", "BABELMIC_DEEPGRAM_API_KEY", "DEEPGRAM_API_KEY"); err != nil {
		return Config{}, err
	}

	if path := strings.TrimSpace(os.Getenv("BABELMIC_CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := Config{
		Remote: RemoteConfig{
			Transport:        strings.ToLower(stringSetting(v, "remote.transport")),
			URL:              stringSetting(v, "remote.url"),
			LegacyURL:        stringSetting(v, "remote.legacy_url"),
			HTTPURL:          stringSetting(v, "remote.http_url"),
			DialTimeout:      msSetting(v, "remote.dial_timeout_ms"),
			RequestTimeout:   msSetting(v, "remote.request_timeout_ms"),
			SynthesisTimeout: msSetting(v, "remote.synthesis_timeout_ms"),
		},
		Session: SessionConfig{
			SourceLang:    strings.ToLower(stringSetting(v, "session.source_lang")),
			TargetLang:    strings.ToLower(stringSetting(v, "session.target_lang")),
			CommitWindow:  msSetting(v, "session.commit_window_ms"),
			EditDebounce:  msSetting(v, "session.edit_debounce_ms"),
			AutoTranslate: boolSetting(v, "session.auto_translate"),
			AutoSpeak:     boolSetting(v, "session.auto_speak"),
		},
		Speech: SpeechConfig{
			Recognizer:    strings.ToLower(stringSetting(v, "speech.recognizer")),
			Synthesizer:   strings.ToLower(stringSetting(v, "speech.synthesizer")),
			Rate:          floatSetting(v, "speech.rate"),
			Pitch:         floatSetting(v, "speech.pitch"),
			Volume:        floatSetting(v, "speech.volume"),
			PlayerCommand: stringSetting(v, "speech.player_command"),
		},
		Deepgram: DeepgramConfig{
			APIKey:      strings.TrimSpace(v.GetString("deepgram.api_key")),
			APIBaseURL:  stringSetting(v, "deepgram.api_base"),
			Model:       stringSetting(v, "deepgram.model"),
			SmartFormat: boolSetting(v, "deepgram.smart_format"),
		},
		Audio: AudioConfig{
			RecorderCommand: stringSetting(v, "audio.ffmpeg_command"),
			InputFormat:     stringSetting(v, "audio.input_format"),
			InputDevice:     stringSetting(v, "audio.input_device"),
			SampleRate:      intSetting(v, "audio.sample_rate"),
			Channels:        intSetting(v, "audio.channels"),
		},
		Settings: SettingsConfig{
			ChunkSize:      intSetting(v, "settings.chunk_size"),
			VADSensitivity: floatSetting(v, "settings.vad_sensitivity"),
		},
		Stub: StubConfig{Addr: stringSetting(v, "stub.addr")},
		Log: logging.Config{
			Level:  stringSetting(v, "log.level"),
			Format: stringSetting(v, "log.format"),
		},
	}

	switch cfg.Remote.Transport {
	case "rpc", "legacy", "http":
	default:
		cfg.Remote.Transport = defaults["remote.transport"].(string)
	}
	if cfg.Remote.LegacyURL == "" {
		cfg.Remote.LegacyURL = strings.TrimRight(cfg.Remote.URL, "/") + "/legacy"
	}
	cfg.Remote.HTTPURL = firstNonEmpty(cfg.Remote.HTTPURL, httpBaseFor(cfg.Remote.URL))
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Settings.ChunkSize < 256 {
		cfg.Settings.ChunkSize = 4096
	}
	if cfg.Settings.VADSensitivity < 0 || cfg.Settings.VADSensitivity > 1 {
		cfg.Settings.VADSensitivity = 0.5
	}

	return cfg, nil
}

// httpBaseFor derives the HTTP origin serving the websocket url.
func httpBaseFor(wsURL string) string {
	parsed, err := url.Parse(wsURL)
	if err != nil || parsed.Host == "" {
		return ""
	}
	switch parsed.Scheme {
	case "wss":
		parsed.Scheme = "https"
	default:
		parsed.Scheme = "http"
	}
	parsed.Path = ""
	parsed.RawQuery = ""
	return parsed.String()
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func stringSetting(v *viper.Viper, key string) string {
	value := strings.TrimSpace(v.GetString(key))
	if value == "" {
		fallback, _ := defaults[key].(string)
		return fallback
	}
	return value
}

func intSetting(v *viper.Viper, key string) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		return defaults[key].(int)
	}
	return parsed
}

func msSetting(v *viper.Viper, key string) time.Duration {
	ms := intSetting(v, key)
	if ms < 0 {
		ms = defaults[key].(int)
	}
	return time.Duration(ms) * time.Millisecond
}

func floatSetting(v *viper.Viper, key string) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(v.GetString(key)), 64)
	if err != nil {
		return defaults[key].(float64)
	}
	return parsed
}

func boolSetting(v *viper.Viper, key string) bool {
	switch strings.TrimSpace(strings.ToLower(v.GetString(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaults[key].(bool)
	}
}
