package config

import (
	"fmt"
	"strings"

	"github.com/nupi-ai/whispercore"
)

const (
	// DefaultListenAddr is used when no explicit address is configured.
	DefaultListenAddr = "127.0.0.1:50051"
	DefaultLanguage   = "auto"
	DefaultLogLevel   = "info"
	DefaultGPUMode    = "preferred"

	// DefaultNATSSubject prefixes the bus subjects when a NATS URL is set.
	DefaultNATSSubject = "whispercore"
)

// Config captures bootstrap configuration for the CLI and gRPC server,
// assembled from a YAML file, a JSON payload and environment variables.
type Config struct {
	ListenAddr     string `yaml:"listen_addr" json:"listen_addr"`
	MetricsAddr    string `yaml:"metrics_addr" json:"metrics_addr"`
	ModelPath      string `yaml:"model_path" json:"model_path"`
	AudioDir       string `yaml:"audio_dir" json:"audio_dir"`
	NATSURL        string `yaml:"nats_url" json:"nats_url"`
	NATSSubject    string `yaml:"nats_subject" json:"nats_subject"`
	Language       string `yaml:"language" json:"language"`
	LogLevel       string `yaml:"log_level" json:"log_level"`
	UseStubEngine  bool   `yaml:"use_stub_engine" json:"use_stub_engine"`
	GPUMode        string `yaml:"gpu_mode" json:"gpu_mode"`
	GPUDevice      int    `yaml:"gpu_device" json:"gpu_device"`
	FlashAttention *bool  `yaml:"flash_attention" json:"flash_attention"`
	Threads        *int   `yaml:"threads" json:"threads"`
}

// Validate applies defaults, checks required fields, and rejects out-of-range
// values.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.GPUMode == "" {
		c.GPUMode = DefaultGPUMode
	}
	if c.NATSSubject == "" {
		c.NATSSubject = DefaultNATSSubject
	}
	if strings.ContainsAny(c.NATSSubject, " *>") {
		return fmt.Errorf("config: nats_subject must be a literal subject, got %q", c.NATSSubject)
	}
	c.Language = strings.ToLower(strings.TrimSpace(c.Language))
	if _, err := whispercore.ParseGPUMode(c.GPUMode); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.GPUDevice < 0 {
		return fmt.Errorf("config: gpu_device must be >= 0, got %d", c.GPUDevice)
	}
	if c.Threads != nil && *c.Threads < 0 {
		return fmt.Errorf("config: threads must be >= 0, got %d", *c.Threads)
	}
	if c.Threads != nil && *c.Threads == 0 {
		c.Threads = nil
	}
	return nil
}

// Core converts the validated configuration into engine settings.
func (c Config) Core() (whispercore.Configuration, error) {
	mode, err := whispercore.ParseGPUMode(c.GPUMode)
	if err != nil {
		return whispercore.Configuration{}, fmt.Errorf("config: %w", err)
	}
	cfg := whispercore.NewConfiguration(mode)
	cfg.GPUDevice = c.GPUDevice
	if c.FlashAttention != nil {
		cfg.FlashAttention = *c.FlashAttention
	}
	if c.Threads != nil {
		cfg.Threads = *c.Threads
	}
	return cfg, nil
}
