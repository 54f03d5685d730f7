package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"BABELMIC_CONFIG_FILE", "DEEPGRAM_API_KEY", "BABELMIC_DEEPGRAM_API_KEY", "BABELMIC_REMOTE_URL", "BABELMIC_REMOTE_HTTP_URL"} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Remote.Transport != "rpc" || cfg.Remote.URL != "ws://127.0.0.1:8000/ws" {
		t.Fatalf("unexpected remote config: %+v", cfg.Remote)
	}
	if cfg.Remote.LegacyURL != "ws://127.0.0.1:8000/ws/legacy" || cfg.Remote.HTTPURL != "http://127.0.0.1:8000" {
		t.Fatalf("unexpected derived urls: %+v", cfg.Remote)
	}
	if cfg.Remote.RequestTimeout != 15*time.Second || cfg.Remote.SynthesisTimeout != time.Minute {
		t.Fatalf("unexpected timeouts: %+v", cfg.Remote)
	}
	if cfg.Session.SourceLang != "th" || cfg.Session.TargetLang != "en" || cfg.Session.CommitWindow != time.Second {
		t.Fatalf("unexpected session config: %+v", cfg.Session)
	}
	if !cfg.Session.AutoTranslate || cfg.Session.AutoSpeak || cfg.Session.EditDebounce != 500*time.Millisecond {
		t.Fatalf("unexpected session flags: %+v", cfg.Session)
	}
	if cfg.Speech.Rate != 0.8 || cfg.Speech.Pitch != 1.2 || cfg.Speech.Volume != 1.0 {
		t.Fatalf("unexpected speech defaults: %+v", cfg.Speech)
	}
	if cfg.Deepgram.APIKey != "" || cfg.Deepgram.Model != "nova-2" || !cfg.Deepgram.SmartFormat {
		t.Fatalf("unexpected deepgram config: %+v", cfg.Deepgram)
	}
	if cfg.Settings.ChunkSize != 4096 || cfg.Settings.VADSensitivity != 0.5 {
		t.Fatalf("unexpected settings: %+v", cfg.Settings)
	}
}

func TestLoadRespectsOverridesAndFallbacks(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEEPGRAM_API_KEY", "test-key")
	t.Setenv("BABELMIC_DEEPGRAM_MODEL", "nova-3")
	t.Setenv("BABELMIC_DEEPGRAM_SMART_FORMAT", "off")
	t.Setenv("BABELMIC_REMOTE_TRANSPORT", "LEGACY")
	t.Setenv("BABELMIC_REMOTE_URL", "wss://mt.example.com/ws")
	t.Setenv("BABELMIC_REMOTE_REQUEST_TIMEOUT_MS", "250")
	t.Setenv("BABELMIC_SESSION_SOURCE_LANG", "JA")
	t.Setenv("BABELMIC_SESSION_AUTO_SPEAK", "yes")
	t.Setenv("BABELMIC_SESSION_COMMIT_WINDOW_MS", "not-a-number")
	t.Setenv("BABELMIC_SPEECH_RATE", "1.5")
	t.Setenv("BABELMIC_AUDIO_SAMPLE_RATE", "-1")
	t.Setenv("BABELMIC_SETTINGS_CHUNK_SIZE", "100")
	t.Setenv("BABELMIC_SETTINGS_VAD_SENSITIVITY", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Deepgram.APIKey != "test-key" || cfg.Deepgram.Model != "nova-3" || cfg.Deepgram.SmartFormat {
		t.Fatalf("unexpected deepgram config: %+v", cfg.Deepgram)
	}
	if cfg.Remote.Transport != "legacy" || cfg.Remote.HTTPURL != "https://mt.example.com" {
		t.Fatalf("unexpected remote config: %+v", cfg.Remote)
	}
	if cfg.Remote.LegacyURL != "wss://mt.example.com/ws/legacy" {
		t.Fatalf("unexpected legacy url: %q", cfg.Remote.LegacyURL)
	}
	if cfg.Remote.RequestTimeout != 250*time.Millisecond {
		t.Fatalf("unexpected request timeout: %v", cfg.Remote.RequestTimeout)
	}
	if cfg.Session.SourceLang != "ja" || !cfg.Session.AutoSpeak {
		t.Fatalf("unexpected session config: %+v", cfg.Session)
	}
	if cfg.Session.CommitWindow != time.Second {
		t.Fatalf("invalid commit window should fall back, got %v", cfg.Session.CommitWindow)
	}
	if cfg.Speech.Rate != 1.5 {
		t.Fatalf("unexpected speech rate: %v", cfg.Speech.Rate)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Settings.ChunkSize != 4096 || cfg.Settings.VADSensitivity != 0.5 {
		t.Fatalf("out of range values should fall back: %+v %+v", cfg.Audio, cfg.Settings)
	}
}

func TestLoadUnknownTransportFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("BABELMIC_REMOTE_TRANSPORT", "carrier-pigeon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Remote.Transport != "rpc" {
		t.Fatalf("expected rpc fallback, got %q", cfg.Remote.Transport)
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "babelmic.toml")
	content := `
[remote]
transport = "http"
http_url = "http://10.0.0.5:9000"

[session]
target_lang = "ko"
auto_translate = false

[speech]
synthesizer = "remote"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv("BABELMIC_CONFIG_FILE", path)
	t.Setenv("BABELMIC_SESSION_TARGET_LANG", "fr")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Remote.Transport != "http" || cfg.Remote.HTTPURL != "http://10.0.0.5:9000" {
		t.Fatalf("unexpected remote config: %+v", cfg.Remote)
	}
	if cfg.Session.TargetLang != "fr" {
		t.Fatalf("environment should win over the file, got %q", cfg.Session.TargetLang)
	}
	if cfg.Session.AutoTranslate || cfg.Speech.Synthesizer != "remote" {
		t.Fatalf("file values not applied: %+v %+v", cfg.Session, cfg.Speech)
	}
}

func TestLoadMissingConfigFileFails(t *testing.T) {
	clearEnv(t)
	t.Setenv("BABELMIC_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))

	if _, err := Load(); err == nil {
		t.Fatalf("expected missing file error")
	}
}
