//go:build linux

package main

import (
	"github.com/sirupsen/logrus"

	"github.com/permissionlesstech/btbridge/internal/config"
	"github.com/permissionlesstech/btbridge/platform"
	"github.com/permissionlesstech/btbridge/platform/linux"
)

func newNativePlatform(cfg *config.Config, log logrus.FieldLogger) (platform.Bluetooth, error) {
	return linux.NewBlueZ(linux.Config{
		AdapterID:   cfg.BlueZ.Adapter,
		ScanTimeout: cfg.BlueZ.ScanTimeout,
	}, log.WithField("component", "bluez")), nil
}
