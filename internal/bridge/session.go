package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/permissionlesstech/btbridge/internal/port"
	"github.com/permissionlesstech/btbridge/internal/protocol"
	"github.com/permissionlesstech/btbridge/pkg/expiring"
)

// ErrDuplicateRequest indica um ID de correlação já em andamento
var ErrDuplicateRequest = errors.New("Duplicate request id")

// Session é um vínculo entre a ponte e as portas de uma aplicação
type Session struct {
	id     string
	bridge *Bridge
	app    port.App
	log    logrus.FieldLogger

	sender    port.Sender
	sendMutex sync.Mutex

	unsubscribe func()
	abandoned   atomic.Bool
	inflight    sync.WaitGroup
	pending     *expiring.Set[string]
}

// ID retorna o identificador da sessão
func (s *Session) ID() string {
	return s.id
}

// App retorna a aplicação vinculada
func (s *Session) App() port.App {
	return s.app
}

// Active informa se a sessão ainda despacha comandos
func (s *Session) Active() bool {
	return !s.abandoned.Load()
}

// Send envia um envelope pela porta de resultados
func (s *Session) Send(env protocol.Envelope) error {
	s.sendMutex.Lock()
	err := s.sender.Send(env)
	s.sendMutex.Unlock()

	if err != nil {
		s.log.WithError(err).WithField("kind", env.Kind).Warn("falha ao enviar envelope")
		return err
	}
	s.bridge.observer.EnvelopeSent(env.Kind)
	return nil
}

// Wait bloqueia até que todas as chamadas de plataforma em andamento terminem
func (s *Session) Wait() {
	s.inflight.Wait()
}

// Close cancela a assinatura da porta de comandos. Chamadas em andamento
// ainda entregam seus resultados.
func (s *Session) Close() {
	s.abandon()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.bridge.current.CompareAndSwap(s, nil)
}

func (s *Session) abandon() {
	if s.abandoned.CompareAndSwap(false, true) {
		s.log.Debug("sessão abandonada")
	}
}

// handle é o assinante da porta de comandos
func (s *Session) handle(msg any) {
	if s.abandoned.Load() {
		return
	}
	s.Dispatch(msg)
}

// Dispatch classifica um envelope de entrada e encaminha para o adaptador de
// capacidade. Todo comando produz exatamente um envelope de saída; os de
// plataforma são concluídos de forma assíncrona e podem chegar fora de ordem.
func (s *Session) Dispatch(msg any) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("pânico no despacho")
			_ = s.Send(protocol.ErrorEnvelope(fmt.Errorf("%s", protocol.Stringify(r))))
		}
	}()

	cmd, err := protocol.ParseCommand(msg)
	if err != nil {
		s.bridge.observer.EnvelopeReceived("malformed")
		s.log.WithError(err).Debug("mensagem rejeitada")
		_ = s.Send(protocol.ErrorEnvelope(err))
		return
	}

	kind, _ := cmd.Kind()
	switch kind {
	case protocol.KindInit:
		s.bridge.observer.EnvelopeReceived(string(kind))
		s.delegate(cmd, kind, s.bridge.capability.CheckAvailability)
	case protocol.KindRequestDevice:
		s.bridge.observer.EnvelopeReceived(string(kind))
		s.delegate(cmd, kind, s.bridge.capability.RequestDevice)
	default:
		s.bridge.observer.EnvelopeReceived("unknown")
		s.log.WithField("tag", cmd.TagString()).Debug("tipo de mensagem desconhecido")
		s.reply(cmd, protocol.ErrorEnvelope(cmd.UnknownOperation()))
	}
}

func (s *Session) delegate(cmd protocol.Command, op protocol.Kind, call func(context.Context, any) protocol.Envelope) {
	var token uint64
	if cmd.ID != "" {
		var ok bool
		if token, ok = s.pending.Add(cmd.ID); !ok {
			s.reply(cmd, protocol.ErrorEnvelope(fmt.Errorf("%w: %s", ErrDuplicateRequest, cmd.ID)))
			return
		}
	}

	s.inflight.Add(1)
	s.bridge.observer.CallStarted(op)

	go func() {
		defer s.inflight.Done()

		start := time.Now()
		env := s.invoke(op, call, cmd.Value)
		s.bridge.observer.CallFinished(op, env.IsError(), time.Since(start))

		// O ID continua reservado até a resposta sair
		s.reply(cmd, env)
		if cmd.ID != "" {
			s.pending.Remove(cmd.ID, token)
		}
	}()
}

func (s *Session) invoke(op protocol.Kind, call func(context.Context, any) protocol.Envelope, value any) (env protocol.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithFields(logrus.Fields{"op": op, "panic": r}).Error("pânico no adaptador")
			env = protocol.ErrorEnvelope(fmt.Errorf("%s", protocol.Stringify(r)))
		}
	}()
	return call(s.bridge.ctx, value)
}

func (s *Session) reply(cmd protocol.Command, env protocol.Envelope) {
	if cmd.ID != "" {
		env = env.WithID(cmd.ID)
	}
	_ = s.Send(env)
}
