// Package capability envolve as duas operações Bluetooth da plataforma e
// normaliza sucesso e falha em envelopes de saída.
package capability

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/permissionlesstech/btbridge/internal/protocol"
	"github.com/permissionlesstech/btbridge/platform"
)

// Adapter é o adaptador de capacidade Bluetooth. Um Adapter sem plataforma
// representa um host que não expõe a API.
type Adapter struct {
	bt  platform.Bluetooth
	log logrus.FieldLogger

	mutex      sync.RWMutex
	lastStatus protocol.Status
}

// New cria um adaptador sobre a plataforma informada; bt pode ser nil
func New(bt platform.Bluetooth, log logrus.FieldLogger) *Adapter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Adapter{bt: bt, log: log}
}

// Probe classifica a plataforma em um dos três estados de disponibilidade.
// Retorna erro apenas quando a sonda falha por outro motivo.
func Probe(ctx context.Context, bt platform.Bluetooth) (protocol.Status, error) {
	if bt == nil {
		return protocol.StatusUnsupported, nil
	}

	available, err := bt.Availability(ctx)
	switch {
	case errors.Is(err, platform.ErrUnsupported):
		return protocol.StatusUnsupported, nil
	case err != nil:
		return "", err
	case available:
		return protocol.StatusAvailable, nil
	default:
		return protocol.StatusUnavailable, nil
	}
}

// CheckAvailability consulta a plataforma e produz {init, <status>}, ou um
// envelope de erro se a sonda falhar. value é ignorado.
func (a *Adapter) CheckAvailability(ctx context.Context, value any) (env protocol.Envelope) {
	defer a.recoverInto(&env, "checkAvailability")

	status, err := Probe(ctx, a.bt)
	if err != nil {
		a.log.WithError(err).Warn("falha na sonda de disponibilidade")
		return protocol.ErrorEnvelope(err)
	}

	a.mutex.Lock()
	a.lastStatus = status
	a.mutex.Unlock()

	a.log.WithField("status", status).Debug("disponibilidade verificada")
	return protocol.NewEnvelope(protocol.KindInit, status)
}

// RequestDevice executa o fluxo de escolha aceitando qualquer dispositivo e
// produz {requestDevice, <dispositivo>} ou {error, <descrição>}. Pânico e
// erro retornado pela plataforma têm o mesmo resultado. value é ignorado.
func (a *Adapter) RequestDevice(ctx context.Context, value any) (env protocol.Envelope) {
	defer a.recoverInto(&env, "requestDevice")

	if a.bt == nil {
		return protocol.ErrorEnvelope(platform.ErrUnsupported)
	}

	dev, err := a.bt.RequestDevice(ctx, platform.AcceptAll())
	if err != nil {
		a.log.WithError(err).Info("requestDevice falhou")
		return protocol.ErrorEnvelope(err)
	}

	a.log.WithFields(logrus.Fields{"device": dev.ID, "name": dev.Name}).Debug("requestDevice concluído")
	return protocol.NewEnvelope(protocol.KindRequestDevice, dev)
}

// LastStatus retorna o último estado observado por CheckAvailability
func (a *Adapter) LastStatus() (protocol.Status, bool) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.lastStatus, a.lastStatus != ""
}

// recoverInto converte um pânico da plataforma em envelope de erro
func (a *Adapter) recoverInto(env *protocol.Envelope, op string) {
	r := recover()
	if r == nil {
		return
	}
	a.log.WithFields(logrus.Fields{"op": op, "panic": r}).Warn("plataforma lançou exceção")

	if err, ok := r.(error); ok {
		*env = protocol.ErrorEnvelope(err)
		return
	}
	*env = protocol.ErrorEnvelope(fmt.Errorf("%s", protocol.Stringify(r)))
}
