package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader loads configuration from an optional YAML file, an optional JSON
// payload and environment variables, in that order. Tests can override
// Lookup and ReadFile to inject deterministic inputs.
type Loader struct {
	Lookup   func(string) (string, bool)
	ReadFile func(string) ([]byte, error)
}

// Load retrieves the configuration and validates it.
func (l Loader) Load() (Config, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}
	if l.ReadFile == nil {
		l.ReadFile = os.ReadFile
	}

	cfg := Config{
		ListenAddr: DefaultListenAddr,
	}

	if path, ok := l.Lookup("WHISPERCORE_CONFIG_FILE"); ok && strings.TrimSpace(path) != "" {
		if err := l.applyYAMLFile(strings.TrimSpace(path), &cfg); err != nil {
			return Config{}, err
		}
	}

	if raw, ok := l.Lookup("WHISPERCORE_CONFIG"); ok && strings.TrimSpace(raw) != "" {
		if err := applyJSON(raw, &cfg); err != nil {
			return Config{}, err
		}
	}

	overrideString(l.Lookup, "WHISPERCORE_LISTEN_ADDR", &cfg.ListenAddr)
	overrideString(l.Lookup, "WHISPERCORE_METRICS_ADDR", &cfg.MetricsAddr)
	overrideString(l.Lookup, "WHISPERCORE_MODEL_PATH", &cfg.ModelPath)
	overrideString(l.Lookup, "WHISPERCORE_AUDIO_DIR", &cfg.AudioDir)
	overrideString(l.Lookup, "WHISPERCORE_NATS_URL", &cfg.NATSURL)
	overrideString(l.Lookup, "WHISPERCORE_NATS_SUBJECT", &cfg.NATSSubject)
	overrideString(l.Lookup, "WHISPERCORE_LANGUAGE", &cfg.Language)
	overrideString(l.Lookup, "WHISPERCORE_LOG_LEVEL", &cfg.LogLevel)
	overrideString(l.Lookup, "WHISPERCPP_GPU_MODE", &cfg.GPUMode)
	if err := overrideBool(l.Lookup, "WHISPERCORE_USE_STUB_ENGINE", &cfg.UseStubEngine); err != nil {
		return Config{}, err
	}
	if err := overrideInt(l.Lookup, "WHISPERCPP_GPU_DEVICE", &cfg.GPUDevice); err != nil {
		return Config{}, err
	}
	if err := overrideBoolPtr(l.Lookup, "WHISPERCPP_FLASH_ATTENTION", &cfg.FlashAttention); err != nil {
		return Config{}, err
	}
	if err := overrideIntPtr(l.Lookup, "WHISPERCPP_THREADS", &cfg.Threads); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (l Loader) applyYAMLFile(path string, cfg *Config) error {
	data, err := l.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	return nil
}

func applyJSON(raw string, cfg *Config) error {
	var payload Config
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return fmt.Errorf("config: decode WHISPERCORE_CONFIG: %w", err)
	}
	if payload.ListenAddr != "" {
		cfg.ListenAddr = payload.ListenAddr
	}
	if payload.MetricsAddr != "" {
		cfg.MetricsAddr = payload.MetricsAddr
	}
	if payload.ModelPath != "" {
		cfg.ModelPath = payload.ModelPath
	}
	if payload.AudioDir != "" {
		cfg.AudioDir = payload.AudioDir
	}
	if payload.NATSURL != "" {
		cfg.NATSURL = payload.NATSURL
	}
	if payload.NATSSubject != "" {
		cfg.NATSSubject = payload.NATSSubject
	}
	if payload.Language != "" {
		cfg.Language = payload.Language
	}
	if payload.LogLevel != "" {
		cfg.LogLevel = payload.LogLevel
	}
	if payload.GPUMode != "" {
		cfg.GPUMode = payload.GPUMode
	}
	if payload.GPUDevice != 0 {
		cfg.GPUDevice = payload.GPUDevice
	}
	if payload.UseStubEngine {
		cfg.UseStubEngine = true
	}
	if payload.FlashAttention != nil {
		cfg.FlashAttention = payload.FlashAttention
	}
	if payload.Threads != nil {
		cfg.Threads = payload.Threads
	}
	return nil
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if lookup == nil || target == nil {
		return
	}
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideBool(lookup func(string) (string, bool), key string, target *bool) error {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*target = parsed
	return nil
}

func overrideBoolPtr(lookup func(string) (string, bool), key string, target **bool) error {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	var parsed bool
	if err := overrideBool(lookup, key, &parsed); err != nil {
		return err
	}
	*target = &parsed
	return nil
}

func overrideInt(lookup func(string) (string, bool), key string, target *int) error {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*target = parsed
	return nil
}

func overrideIntPtr(lookup func(string) (string, bool), key string, target **int) error {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	var parsed int
	if err := overrideInt(lookup, key, &parsed); err != nil {
		return err
	}
	*target = &parsed
	return nil
}
