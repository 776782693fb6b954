package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/sirupsen/logrus"
)

// ValidationError acumula os problemas encontrados na configuração
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors informa se algum problema foi registrado
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add registra um problema formatado
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate verifica a configuração. Retorna *ValidationError com todos os
// problemas encontrados.
func Validate(cfg *Config) error {
	ve := &ValidationError{}

	if cfg.Ports.Send == "" {
		ve.Add("ports.send must not be empty")
	}
	if cfg.Ports.Receive == "" {
		ve.Add("ports.receive must not be empty")
	}
	if cfg.Ports.Send != "" && cfg.Ports.Send == cfg.Ports.Receive {
		ve.Add("ports.send and ports.receive must differ")
	}

	switch cfg.Transport {
	case TransportStdio:
	case TransportWebSocket:
		if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
			ve.Add("listen %q is not host:port", cfg.Listen)
		}
	default:
		ve.Add("transport must be %q or %q, got %q", TransportStdio, TransportWebSocket, cfg.Transport)
	}

	switch cfg.Platform {
	case PlatformBlueZ:
		if cfg.BlueZ.Adapter == "" {
			ve.Add("bluez.adapter must not be empty")
		}
		if cfg.BlueZ.ScanTimeout <= 0 {
			ve.Add("bluez.scan_timeout must be > 0")
		}
	case PlatformMock, PlatformNone:
	default:
		ve.Add("platform must be one of bluez, mock, none, got %q", cfg.Platform)
	}

	if cfg.Framing.CompressMin < 0 {
		ve.Add("framing.compress_min must be >= 0")
	}
	if cfg.Framing.Compress && !cfg.Framing.Enabled {
		ve.Add("framing.compress requires framing.enabled")
	}

	if _, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
		ve.Add("log.level: %v", err)
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		ve.Add("log.format must be text or json, got %q", cfg.Log.Format)
	}
	if cfg.Log.Output == "" {
		ve.Add("log.output must not be empty")
	}

	if cfg.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Listen); err != nil {
			ve.Add("metrics.listen %q is not host:port", cfg.Metrics.Listen)
		}
	}

	if ve.HasErrors() {
		return ve
	}
	return nil
}
