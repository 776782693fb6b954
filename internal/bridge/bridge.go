// Package bridge liga as portas da aplicação ao adaptador de capacidade
// Bluetooth: assina a porta de comandos, despacha cada envelope e devolve os
// resultados pela porta de respostas.
package bridge

import (
	"context"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/permissionlesstech/btbridge/internal/port"
	"github.com/permissionlesstech/btbridge/internal/protocol"
	"github.com/permissionlesstech/btbridge/pkg/expiring"
)

const (
	// DefaultSendPort é a porta pela qual a aplicação envia comandos
	DefaultSendPort = "bluetoothSend"
	// DefaultReceivePort é a porta pela qual a aplicação recebe resultados
	DefaultReceivePort = "bluetoothReceive"
	// DefaultCorrelationTTL limita por quanto tempo um ID em andamento é lembrado
	DefaultCorrelationTTL = 10 * time.Minute
)

// Capability é a parte do adaptador de capacidade usada pelo despachante.
// Cada chamada produz exatamente um envelope de saída.
type Capability interface {
	CheckAvailability(ctx context.Context, value any) protocol.Envelope
	RequestDevice(ctx context.Context, value any) protocol.Envelope
}

// Option configura uma Bridge
type Option func(*Bridge)

// WithLogger define o logger da ponte
func WithLogger(log logrus.FieldLogger) Option {
	return func(b *Bridge) { b.log = log }
}

// WithObserver registra um observador de envelopes e chamadas
func WithObserver(o Observer) Option {
	return func(b *Bridge) { b.observer = o }
}

// WithContext define o contexto repassado às chamadas de plataforma. O
// cancelamento dele é o encerramento do host, não de uma requisição.
func WithContext(ctx context.Context) Option {
	return func(b *Bridge) { b.ctx = ctx }
}

// WithCorrelationTTL define a expiração dos IDs de correlação em andamento
func WithCorrelationTTL(ttl time.Duration) Option {
	return func(b *Bridge) { b.correlationTTL = ttl }
}

// Bridge é uma instância da ponte. Atende no máximo uma aplicação por vez:
// a sessão corrente é a do último Initialize bem-sucedido.
type Bridge struct {
	capability     Capability
	log            logrus.FieldLogger
	observer       Observer
	ctx            context.Context
	correlationTTL time.Duration

	current atomic.Pointer[Session]
}

// New cria uma ponte sobre o adaptador de capacidade informado
func New(capability Capability, opts ...Option) *Bridge {
	b := &Bridge{
		capability:     capability,
		log:            logrus.StandardLogger(),
		observer:       nopObserver{},
		ctx:            context.Background(),
		correlationTTL: DefaultCorrelationTTL,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Initialize vincula a ponte às portas nomeadas de app. Só vincula se as duas
// portas existem e têm a direção correta; caso contrário retorna (nil, false)
// sem nenhum outro efeito. Nomes vazios usam os padrões. Um novo vínculo
// abandona a sessão anterior sem liberá-la e não emite envelopes.
func (b *Bridge) Initialize(app port.App, sendPortName, receivePortName string) (*Session, bool) {
	if sendPortName == "" {
		sendPortName = DefaultSendPort
	}
	if receivePortName == "" {
		receivePortName = DefaultReceivePort
	}

	log := b.log.WithFields(logrus.Fields{
		"send_port":    sendPortName,
		"receive_port": receivePortName,
	})

	if isNil(app) {
		log.Debug("inicialização ignorada: aplicação ausente")
		return nil, false
	}
	commands, ok := app.Port(sendPortName).(port.Subscriber)
	if !ok || isNil(commands) {
		log.Debug("inicialização ignorada: porta de comandos ausente")
		return nil, false
	}
	results, ok := app.Port(receivePortName).(port.Sender)
	if !ok || isNil(results) {
		log.Debug("inicialização ignorada: porta de resultados ausente")
		return nil, false
	}

	s := &Session{
		id:      uuid.NewString(),
		bridge:  b,
		app:     app,
		sender:  results,
		pending: expiring.New[string](b.correlationTTL),
	}
	s.log = log.WithField("session", s.id)

	if prev := b.current.Swap(s); prev != nil {
		prev.abandon()
		s.log.WithField("previous", prev.id).Info("ponte revinculada")
	} else {
		s.log.Info("ponte vinculada")
	}

	s.unsubscribe = commands.Subscribe(s.handle)
	return s, true
}

// isNil também reconhece ponteiros nulos guardados em interface, como
// (*port.Outgoing)(nil) registrado numa aplicação.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// Session retorna a sessão corrente, ou nil se a ponte nunca foi vinculada
func (b *Bridge) Session() *Session {
	return b.current.Load()
}
