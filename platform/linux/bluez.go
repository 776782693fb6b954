//go:build linux

package linux

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/muka/go-bluetooth/api"
	"github.com/muka/go-bluetooth/bluez/profile/adapter"
	"github.com/muka/go-bluetooth/bluez/profile/device"
	"github.com/sirupsen/logrus"

	"github.com/permissionlesstech/btbridge/pkg/retry"
	"github.com/permissionlesstech/btbridge/platform"
)

const (
	bluezBusName = "org.bluez"

	DefaultAdapterID   = "hci0"
	DefaultScanTimeout = 10 * time.Second
)

// Config configura o acesso ao BlueZ
type Config struct {
	AdapterID   string
	ScanTimeout time.Duration

	// Retry repete as consultas de disponibilidade que falham no D-Bus
	Retry retry.Config
}

// BlueZ implementa platform.Bluetooth sobre o BlueZ via D-Bus
type BlueZ struct {
	config Config
	log    logrus.FieldLogger

	// O BlueZ aceita uma única sessão de descoberta por cliente D-Bus
	discoveryMutex sync.Mutex
}

// NewBlueZ cria o acesso ao BlueZ. Nenhuma conexão é aberta aqui: a ausência
// do serviço é reportada pelas chamadas como platform.ErrUnsupported.
func NewBlueZ(config Config, log logrus.FieldLogger) *BlueZ {
	if config.AdapterID == "" {
		config.AdapterID = DefaultAdapterID
	}
	if config.ScanTimeout <= 0 {
		config.ScanTimeout = DefaultScanTimeout
	}
	if config.Retry == (retry.Config{}) {
		config.Retry = retry.DefaultConfig()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &BlueZ{
		config: config,
		log:    log.WithField("adapter", config.AdapterID),
	}
}

// Availability informa se o adaptador configurado existe e está ligado.
// Falhas de comunicação com o D-Bus são repetidas conforme Config.Retry.
func (b *BlueZ) Availability(ctx context.Context) (bool, error) {
	var powered bool
	err := retry.Do(ctx, b.config.Retry, func(attempt int) error {
		if attempt > 0 {
			b.log.WithField("attempt", attempt).Debug("repetindo sonda de disponibilidade")
		}

		if err := b.checkService(ctx); err != nil {
			if errors.Is(err, platform.ErrUnsupported) {
				return retry.Permanent(err)
			}
			return err
		}

		exists, err := adapter.AdapterExists(b.config.AdapterID)
		if err != nil || !exists {
			b.log.WithError(err).Debug("adaptador Bluetooth não encontrado")
			powered = false
			return nil
		}

		a, err := adapter.NewAdapter1FromAdapterID(b.config.AdapterID)
		if err != nil {
			return fmt.Errorf("%w: erro ao obter adaptador: %v", platform.ErrNetwork, err)
		}

		powered, err = a.GetPowered()
		if err != nil {
			return fmt.Errorf("%w: erro ao verificar estado do adaptador: %v", platform.ErrNetwork, err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return powered, nil
}

// RequestDevice inicia uma descoberta sem filtro e escolhe o primeiro
// dispositivo anunciado dentro da janela de varredura
func (b *BlueZ) RequestDevice(ctx context.Context, opts platform.RequestOptions) (platform.Device, error) {
	if !opts.AcceptAllDevices || len(opts.Filters) > 0 {
		return platform.Device{}, platform.ErrNotSupported
	}
	if err := b.checkService(ctx); err != nil {
		return platform.Device{}, err
	}

	b.discoveryMutex.Lock()
	defer b.discoveryMutex.Unlock()

	exists, err := adapter.AdapterExists(b.config.AdapterID)
	if err != nil || !exists {
		return platform.Device{}, fmt.Errorf("%w: adaptador Bluetooth não disponível", platform.ErrNotFound)
	}

	a, err := adapter.NewAdapter1FromAdapterID(b.config.AdapterID)
	if err != nil {
		return platform.Device{}, fmt.Errorf("%w: erro ao obter adaptador: %v", platform.ErrNetwork, err)
	}

	discovery, cancel, err := api.Discover(a, nil)
	if err != nil {
		return platform.Device{}, fmt.Errorf("%w: erro ao iniciar descoberta: %v", platform.ErrNetwork, err)
	}
	defer cancel()

	b.log.WithField("timeout", b.config.ScanTimeout).Debug("descoberta iniciada")

	timer := time.NewTimer(b.config.ScanTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return platform.Device{}, ctx.Err()
		case <-timer.C:
			return platform.Device{}, platform.ErrNotFound
		case ev, ok := <-discovery:
			if !ok {
				return platform.Device{}, platform.ErrNotFound
			}
			if ev == nil || ev.Type != adapter.DeviceAdded {
				continue
			}

			dev, err := device.NewDevice1(ev.Path)
			if err != nil {
				b.log.WithError(err).WithField("path", ev.Path).Warn("erro ao criar objeto de dispositivo")
				continue
			}

			chosen := toDevice(dev)
			b.log.WithFields(logrus.Fields{
				"device":  chosen.ID,
				"address": chosen.Address,
			}).Info("dispositivo escolhido")
			return chosen, nil
		}
	}
}

// checkService verifica se o serviço org.bluez está presente no barramento do sistema
func (b *BlueZ) checkService(ctx context.Context) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		b.log.WithError(err).Debug("barramento D-Bus do sistema indisponível")
		return platform.ErrUnsupported
	}

	var hasOwner bool
	call := conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.NameHasOwner", 0, bluezBusName)
	if err := call.Store(&hasOwner); err != nil {
		return fmt.Errorf("%w: erro ao consultar %s: %v", platform.ErrNetwork, bluezBusName, err)
	}
	if !hasOwner {
		return platform.ErrUnsupported
	}
	return nil
}

// toDevice converte as propriedades de um Device1 do BlueZ
func toDevice(dev *device.Device1) platform.Device {
	out := platform.Device{ID: string(dev.Path())}

	props := dev.Properties
	if props == nil {
		return out
	}

	out.Name = props.Name
	if out.Name == "" {
		out.Name = props.Alias
	}
	out.Address = props.Address
	out.AddressType = props.AddressType
	out.RSSI = int(props.RSSI)
	out.UUIDs = append([]string(nil), props.UUIDs...)
	out.Paired = props.Paired
	out.Connected = props.Connected
	return out
}
