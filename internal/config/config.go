// Package config carrega a configuração da ponte a partir de YAML, variáveis
// de ambiente e flags.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Transportes e plataformas suportados
const (
	TransportStdio     = "stdio"
	TransportWebSocket = "websocket"

	PlatformBlueZ = "bluez"
	PlatformMock  = "mock"
	PlatformNone  = "none"
)

// Config é a configuração completa do processo
type Config struct {
	Ports     Ports   `yaml:"ports"`
	Transport string  `yaml:"transport"`
	Listen    string  `yaml:"listen"`
	Platform  string  `yaml:"platform"`
	BlueZ     BlueZ   `yaml:"bluez"`
	Framing   Framing `yaml:"framing"`
	Log       Log     `yaml:"log"`
	Metrics   Metrics `yaml:"metrics"`
}

// Ports nomeia as portas da aplicação
type Ports struct {
	Send    string `yaml:"send"`
	Receive string `yaml:"receive"`
}

// BlueZ configura a plataforma Linux
type BlueZ struct {
	Adapter     string        `yaml:"adapter"`
	ScanTimeout time.Duration `yaml:"scan_timeout"`
}

// Framing configura o enquadramento binário do transporte stdio.
// Desligado, o transporte usa linhas JSON.
type Framing struct {
	Enabled     bool `yaml:"enabled"`
	Compress    bool `yaml:"compress"`
	CompressMin int  `yaml:"compress_min"`
}

// Log configura o logger do processo
type Log struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Metrics configura a exposição Prometheus. Listen vazio desativa as métricas;
// igual ao endereço do transporte websocket, compartilha o mesmo servidor.
type Metrics struct {
	Listen string `yaml:"listen"`
}

// Defaults retorna a configuração padrão
func Defaults() *Config {
	return &Config{
		Ports: Ports{
			Send:    "bluetoothSend",
			Receive: "bluetoothReceive",
		},
		Transport: TransportStdio,
		Listen:    "127.0.0.1:8765",
		Platform:  PlatformBlueZ,
		BlueZ: BlueZ{
			Adapter:     "hci0",
			ScanTimeout: 10 * time.Second,
		},
		Framing: Framing{
			CompressMin: 512,
		},
		Log: Log{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load lê o arquivo YAML sobre os padrões e aplica as variáveis de ambiente.
// path vazio ou inexistente resulta nos padrões.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides mapeia variáveis BTBRIDGE_* para a configuração
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BTBRIDGE_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv("BTBRIDGE_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("BTBRIDGE_PLATFORM"); v != "" {
		cfg.Platform = v
	}
	if v := os.Getenv("BTBRIDGE_BLUEZ_ADAPTER"); v != "" {
		cfg.BlueZ.Adapter = v
	}
	if v := os.Getenv("BTBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("BTBRIDGE_METRICS_LISTEN"); v != "" {
		cfg.Metrics.Listen = v
	}
	if v := os.Getenv("BTBRIDGE_FRAMING_COMPRESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Framing.Compress = b
		}
	}
}
