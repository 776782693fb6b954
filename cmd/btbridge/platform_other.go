//go:build !linux

package main

import (
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/permissionlesstech/btbridge/internal/config"
	"github.com/permissionlesstech/btbridge/platform"
)

// newNativePlatform não tem implementação fora do Linux; a API é relatada
// como ausente
func newNativePlatform(cfg *config.Config, log logrus.FieldLogger) (platform.Bluetooth, error) {
	log.WithField("os", runtime.GOOS).Warn("Bluetooth nativo não suportado nesta plataforma")
	return nil, nil
}
