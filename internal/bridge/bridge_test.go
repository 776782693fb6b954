package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permissionlesstech/btbridge/internal/capability"
	"github.com/permissionlesstech/btbridge/internal/port"
	"github.com/permissionlesstech/btbridge/internal/protocol"
	"github.com/permissionlesstech/btbridge/platform"
)

type harness struct {
	app      *port.Registry
	commands *port.Outgoing
	results  *port.Incoming
}

func newHarness() *harness {
	h := &harness{
		app:      port.NewRegistry(),
		commands: port.NewOutgoing(),
		results:  port.NewIncoming(16),
	}
	h.app.Register(DefaultSendPort, h.commands)
	h.app.Register(DefaultReceivePort, h.results)
	return h
}

func (h *harness) next(t *testing.T) protocol.Envelope {
	t.Helper()
	select {
	case msg := <-h.results.C():
		env, ok := msg.(protocol.Envelope)
		require.True(t, ok, "esperado protocol.Envelope, recebido %T", msg)
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("nenhum envelope recebido")
		return protocol.Envelope{}
	}
}

func (h *harness) none(t *testing.T) {
	t.Helper()
	select {
	case msg := <-h.results.C():
		t.Fatalf("envelope inesperado: %#v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func newBridge(t *testing.T, bt platform.Bluetooth, opts ...Option) *Bridge {
	t.Helper()
	log, _ := test.NewNullLogger()
	return New(capability.New(bt, log), append([]Option{WithLogger(log)}, opts...)...)
}

func TestInitialize(t *testing.T) {
	t.Run("vincula com portas padrão", func(t *testing.T) {
		h := newHarness()
		b := newBridge(t, platform.NewMock())

		s, ok := b.Initialize(h.app, "", "")
		require.True(t, ok)
		assert.Same(t, s, b.Session())
		assert.Equal(t, h.app, s.App())
		assert.NotEmpty(t, s.ID())
		assert.Equal(t, 1, h.commands.Subscribers())
		h.none(t)
	})

	t.Run("portas ausentes", func(t *testing.T) {
		b := newBridge(t, platform.NewMock())

		_, ok := b.Initialize(port.NewRegistry(), "", "")
		assert.False(t, ok)

		only := port.NewRegistry()
		only.Register(DefaultSendPort, port.NewOutgoing())
		_, ok = b.Initialize(only, "", "")
		assert.False(t, ok)

		_, ok = b.Initialize(nil, "", "")
		assert.False(t, ok)
		_, ok = b.Initialize((*port.Registry)(nil), "", "")
		assert.False(t, ok)
		assert.Nil(t, b.Session())
	})

	t.Run("portas nulas tipadas preservam a sessão anterior", func(t *testing.T) {
		h := newHarness()
		b := newBridge(t, platform.NewMock())
		current, ok := b.Initialize(h.app, "", "")
		require.True(t, ok)

		nilSend := port.NewRegistry()
		nilSend.Register(DefaultSendPort, (*port.Outgoing)(nil))
		nilSend.Register(DefaultReceivePort, port.NewIncoming(1))

		nilReceive := port.NewRegistry()
		nilReceive.Register(DefaultSendPort, port.NewOutgoing())
		nilReceive.Register(DefaultReceivePort, (*port.Incoming)(nil))

		for _, app := range []*port.Registry{nilSend, nilReceive} {
			assert.NotPanics(t, func() {
				_, ok = b.Initialize(app, "", "")
			})
			assert.False(t, ok)
		}

		assert.Same(t, current, b.Session())
		assert.True(t, current.Active())
		h.commands.Publish(map[string]any{"msg": "init"})
		assert.Equal(t, protocol.NewEnvelope(protocol.KindInit, protocol.StatusAvailable), h.next(t))
	})

	t.Run("portas com direção trocada", func(t *testing.T) {
		h := newHarness()
		b := newBridge(t, platform.NewMock())

		_, ok := b.Initialize(h.app, DefaultReceivePort, DefaultSendPort)
		assert.False(t, ok)
		assert.Equal(t, 0, h.commands.Subscribers())
	})

	t.Run("revínculo abandona a sessão anterior", func(t *testing.T) {
		first, second := newHarness(), newHarness()
		b := newBridge(t, platform.NewMock())

		old, ok := b.Initialize(first.app, "", "")
		require.True(t, ok)
		cur, ok := b.Initialize(second.app, "", "")
		require.True(t, ok)

		assert.False(t, old.Active())
		assert.True(t, cur.Active())
		assert.Same(t, cur, b.Session())

		first.commands.Publish(map[string]any{"msg": "init"})
		first.none(t)

		second.commands.Publish(map[string]any{"msg": "init"})
		assert.Equal(t, protocol.NewEnvelope(protocol.KindInit, protocol.StatusAvailable), second.next(t))
	})

	t.Run("revínculo à mesma aplicação não duplica respostas", func(t *testing.T) {
		h := newHarness()
		b := newBridge(t, platform.NewMock())

		_, ok := b.Initialize(h.app, "", "")
		require.True(t, ok)
		s, ok := b.Initialize(h.app, "", "")
		require.True(t, ok)
		h.none(t)

		h.commands.Publish(map[string]any{"msg": "init"})
		s.Wait()
		h.next(t)
		h.none(t)
	})

	t.Run("nomes de porta personalizados", func(t *testing.T) {
		app := port.NewRegistry()
		commands, results := port.NewOutgoing(), port.NewIncoming(1)
		app.Register("in", commands)
		app.Register("out", results)
		b := newBridge(t, platform.NewMock())

		_, ok := b.Initialize(app, "in", "out")
		require.True(t, ok)

		commands.Publish(map[string]any{"msg": "bogus"})
		assert.Equal(t, protocol.NewEnvelope(protocol.KindError, "Unknown message type: bogus"), <-results.C())
	})
}

func TestDispatchAvailability(t *testing.T) {
	cases := []struct {
		name  string
		setup func(m *platform.Mock)
		want  protocol.Status
	}{
		{"disponível", func(m *platform.Mock) {}, protocol.StatusAvailable},
		{"indisponível", func(m *platform.Mock) { m.SetAvailable(false) }, protocol.StatusUnavailable},
		{"não suportado", func(m *platform.Mock) { m.SetUnsupported(true) }, protocol.StatusUnsupported},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := platform.NewMock()
			tc.setup(m)
			h := newHarness()
			_, ok := newBridge(t, m).Initialize(h.app, "", "")
			require.True(t, ok)

			h.commands.Publish(map[string]any{"msg": "init"})
			assert.Equal(t, protocol.NewEnvelope(protocol.KindInit, tc.want), h.next(t))
		})
	}

	t.Run("sem API", func(t *testing.T) {
		h := newHarness()
		_, ok := newBridge(t, nil).Initialize(h.app, "", "")
		require.True(t, ok)

		h.commands.Publish(map[string]any{"msg": "init", "value": 7})
		assert.Equal(t, protocol.NewEnvelope(protocol.KindInit, protocol.StatusUnsupported), h.next(t))
	})

	t.Run("cada init gera uma resposta", func(t *testing.T) {
		h := newHarness()
		s, ok := newBridge(t, platform.NewMock()).Initialize(h.app, "", "")
		require.True(t, ok)

		for i := 0; i < 3; i++ {
			h.commands.Publish(map[string]any{"msg": "init"})
		}
		s.Wait()
		for i := 0; i < 3; i++ {
			assert.Equal(t, protocol.KindInit, h.next(t).Kind)
		}
		h.none(t)
	})
}

func TestDispatchRequestDevice(t *testing.T) {
	device := platform.Device{ID: "dev-1", Name: "Sensor1"}

	t.Run("sucesso", func(t *testing.T) {
		m := platform.NewMock()
		m.AddDevice(device)
		h := newHarness()
		_, ok := newBridge(t, m).Initialize(h.app, "", "")
		require.True(t, ok)

		h.commands.Publish(map[string]any{"msg": "requestDevice", "value": map[string]any{"ignored": true}})
		assert.Equal(t, protocol.NewEnvelope(protocol.KindRequestDevice, device), h.next(t))

		requests := m.Requests()
		require.Len(t, requests, 1)
		assert.True(t, requests[0].AcceptAllDevices)
	})

	t.Run("usuário cancela", func(t *testing.T) {
		h := newHarness()
		_, ok := newBridge(t, platform.NewMock()).Initialize(h.app, "", "")
		require.True(t, ok)

		h.commands.Publish(map[string]any{"msg": "requestDevice"})
		assert.Equal(t, protocol.NewEnvelope(protocol.KindError, "NotFoundError"), h.next(t))
	})

	t.Run("exceção síncrona", func(t *testing.T) {
		m := platform.NewMock()
		m.SetRequestPanic(errors.New("SecurityError"))
		h := newHarness()
		_, ok := newBridge(t, m).Initialize(h.app, "", "")
		require.True(t, ok)

		h.commands.Publish(map[string]any{"msg": "requestDevice"})
		assert.Equal(t, protocol.NewEnvelope(protocol.KindError, "SecurityError"), h.next(t))
	})
}

func TestDispatchRejects(t *testing.T) {
	cases := []struct {
		name string
		msg  any
		want string
	}{
		{"número", 42, "msg is not an object: 42"},
		{"texto", "hello", "msg is not an object: hello"},
		{"nulo", nil, "msg is not an object: null"},
		{"booleano", true, "msg is not an object: true"},
		{"lista", []any{1, "a"}, "Unknown message type: undefined"},
		{"lista JSON", []byte(`[1,2]`), "Unknown message type: undefined"},
		{"JSON não objeto", []byte(`"texto"`), "msg is not an object: texto"},
		{"tag desconhecido", map[string]any{"msg": "foo"}, "Unknown message type: foo"},
		{"tag ausente", map[string]any{"value": 1}, "Unknown message type: undefined"},
		{"tag numérico", map[string]any{"msg": 5}, "Unknown message type: 5"},
		{"tag de erro", map[string]any{"msg": "error"}, "Unknown message type: error"},
		{"tag com caixa diferente", map[string]any{"msg": "Init"}, "Unknown message type: Init"},
		{"JSON cru desconhecido", []byte(`{"msg":"scan"}`), "Unknown message type: scan"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := platform.NewMock()
			h := newHarness()
			_, ok := newBridge(t, m).Initialize(h.app, "", "")
			require.True(t, ok)

			h.commands.Publish(tc.msg)
			assert.Equal(t, protocol.NewEnvelope(protocol.KindError, tc.want), h.next(t))
			assert.Empty(t, m.Requests())
		})
	}
}

func TestDispatchAcceptsJSON(t *testing.T) {
	h := newHarness()
	_, ok := newBridge(t, platform.NewMock()).Initialize(h.app, "", "")
	require.True(t, ok)

	h.commands.Publish([]byte(`{"msg":"init","value":null}`))
	assert.Equal(t, protocol.NewEnvelope(protocol.KindInit, protocol.StatusAvailable), h.next(t))
}

// blockingCapability segura CheckAvailability até release
type blockingCapability struct {
	release chan struct{}
}

func (c *blockingCapability) CheckAvailability(ctx context.Context, value any) protocol.Envelope {
	select {
	case <-c.release:
	case <-ctx.Done():
		return protocol.ErrorEnvelope(ctx.Err())
	}
	return protocol.NewEnvelope(protocol.KindInit, protocol.StatusAvailable)
}

func (c *blockingCapability) RequestDevice(ctx context.Context, value any) protocol.Envelope {
	return protocol.NewEnvelope(protocol.KindRequestDevice, platform.Device{ID: "fast"})
}

func TestDispatchOutOfOrder(t *testing.T) {
	log, _ := test.NewNullLogger()
	c := &blockingCapability{release: make(chan struct{})}
	h := newHarness()
	s, ok := New(c, WithLogger(log)).Initialize(h.app, "", "")
	require.True(t, ok)

	h.commands.Publish(map[string]any{"msg": "init", "id": "a"})
	h.commands.Publish(map[string]any{"msg": "requestDevice", "id": "b"})

	first := h.next(t)
	assert.Equal(t, protocol.KindRequestDevice, first.Kind)
	assert.Equal(t, "b", first.ID)

	close(c.release)
	s.Wait()

	second := h.next(t)
	assert.Equal(t, protocol.KindInit, second.Kind)
	assert.Equal(t, "a", second.ID)
}

func TestDispatchCorrelation(t *testing.T) {
	m := platform.NewMock()
	h := newHarness()
	s, ok := newBridge(t, m).Initialize(h.app, "", "")
	require.True(t, ok)

	t.Run("ID ecoado", func(t *testing.T) {
		h.commands.Publish(map[string]any{"msg": "init", "id": "r1"})
		assert.Equal(t, protocol.NewEnvelope(protocol.KindInit, protocol.StatusAvailable).WithID("r1"), h.next(t))

		h.commands.Publish(map[string]any{"msg": "nope", "id": "r2"})
		assert.Equal(t, protocol.NewEnvelope(protocol.KindError, "Unknown message type: nope").WithID("r2"), h.next(t))
	})

	t.Run("ID duplicado em andamento", func(t *testing.T) {
		release := m.Hold()
		h.commands.Publish(map[string]any{"msg": "requestDevice", "id": "dup"})
		h.commands.Publish(map[string]any{"msg": "init", "id": "dup"})

		assert.Equal(t, protocol.NewEnvelope(protocol.KindError, "Duplicate request id: dup").WithID("dup"), h.next(t))

		release()
		s.Wait()
		assert.Equal(t, protocol.NewEnvelope(protocol.KindError, "NotFoundError").WithID("dup"), h.next(t))

		// concluído, o ID pode ser reutilizado
		h.commands.Publish(map[string]any{"msg": "init", "id": "dup"})
		assert.Equal(t, protocol.KindInit, h.next(t).Kind)
	})
}

// gatedSender retém cada envio até que o teste o libere
type gatedSender struct {
	entered chan any
	release chan struct{}
}

func (g *gatedSender) Send(msg any) error {
	g.entered <- msg
	<-g.release
	return nil
}

func TestDispatchCorrelationHeldUntilReplySent(t *testing.T) {
	commands := port.NewOutgoing()
	results := &gatedSender{entered: make(chan any, 4), release: make(chan struct{})}
	app := port.NewRegistry()
	app.Register(DefaultSendPort, commands)
	app.Register(DefaultReceivePort, results)

	s, ok := newBridge(t, platform.NewMock()).Initialize(app, "", "")
	require.True(t, ok)

	commands.Publish(map[string]any{"msg": "init", "id": "x"})
	var first any
	select {
	case first = <-results.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("primeira resposta não foi enviada")
	}

	// reenvio enquanto a primeira resposta ainda está saindo
	resent := make(chan struct{})
	go func() {
		defer close(resent)
		commands.Publish(map[string]any{"msg": "init", "id": "x"})
	}()
	time.Sleep(50 * time.Millisecond)
	close(results.release)

	var second any
	select {
	case second = <-results.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("segunda resposta não foi enviada")
	}
	<-resent
	s.Wait()

	assert.Equal(t, protocol.NewEnvelope(protocol.KindInit, protocol.StatusAvailable).WithID("x"), first)
	assert.Equal(t, protocol.NewEnvelope(protocol.KindError, "Duplicate request id: x").WithID("x"), second)
	assert.Empty(t, results.entered)
}

func TestSessionClose(t *testing.T) {
	h := newHarness()
	b := newBridge(t, platform.NewMock())
	s, ok := b.Initialize(h.app, "", "")
	require.True(t, ok)

	s.Close()
	assert.False(t, s.Active())
	assert.Nil(t, b.Session())
	assert.Equal(t, 0, h.commands.Subscribers())

	h.commands.Publish(map[string]any{"msg": "init"})
	h.none(t)
}

func TestSessionSendFailure(t *testing.T) {
	h := newHarness()
	s, ok := newBridge(t, platform.NewMock()).Initialize(h.app, "", "")
	require.True(t, ok)

	h.results.Close()
	err := s.Send(protocol.NewEnvelope(protocol.KindInit, protocol.StatusAvailable))
	assert.ErrorIs(t, err, port.ErrClosed)

	// a ponte continua despachando após falhas de envio
	h.commands.Publish(map[string]any{"msg": "init"})
	s.Wait()
}

type panickingCapability struct{}

func (panickingCapability) CheckAvailability(context.Context, any) protocol.Envelope {
	panic("sonda quebrada")
}

func (panickingCapability) RequestDevice(context.Context, any) protocol.Envelope {
	panic(errors.New("fluxo quebrado"))
}

func TestDispatchRecoversAdapterPanic(t *testing.T) {
	log, _ := test.NewNullLogger()
	h := newHarness()
	s, ok := New(panickingCapability{}, WithLogger(log)).Initialize(h.app, "", "")
	require.True(t, ok)

	h.commands.Publish(map[string]any{"msg": "init"})
	s.Wait()
	assert.Equal(t, protocol.NewEnvelope(protocol.KindError, "sonda quebrada"), h.next(t))

	h.commands.Publish(map[string]any{"msg": "requestDevice"})
	s.Wait()
	assert.Equal(t, protocol.NewEnvelope(protocol.KindError, "fluxo quebrado"), h.next(t))
}

type recordingObserver struct {
	mu       sync.Mutex
	received []string
	sent     []protocol.Kind
	started  []protocol.Kind
	failed   map[protocol.Kind]bool
}

func (o *recordingObserver) EnvelopeReceived(kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.received = append(o.received, kind)
}

func (o *recordingObserver) EnvelopeSent(kind protocol.Kind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, kind)
}

func (o *recordingObserver) CallStarted(op protocol.Kind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, op)
}

func (o *recordingObserver) CallFinished(op protocol.Kind, failed bool, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failed == nil {
		o.failed = make(map[protocol.Kind]bool)
	}
	o.failed[op] = failed
}

func TestObserver(t *testing.T) {
	obs := &recordingObserver{}
	h := newHarness()
	s, ok := newBridge(t, platform.NewMock(), WithObserver(obs)).Initialize(h.app, "", "")
	require.True(t, ok)

	h.commands.Publish(map[string]any{"msg": "init"})
	h.commands.Publish(map[string]any{"msg": "requestDevice"})
	h.commands.Publish(map[string]any{"msg": "foo"})
	h.commands.Publish(3)
	s.Wait()
	for i := 0; i < 4; i++ {
		h.next(t)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, []string{"init", "requestDevice", "unknown", "malformed"}, obs.received)
	assert.ElementsMatch(t, []protocol.Kind{protocol.KindInit, protocol.KindRequestDevice}, obs.started)
	assert.Equal(t, map[protocol.Kind]bool{protocol.KindInit: false, protocol.KindRequestDevice: true}, obs.failed)
	assert.Len(t, obs.sent, 4)
}

func TestWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := platform.NewMock()
	m.Hold()

	h := newHarness()
	s, ok := newBridge(t, m, WithContext(ctx)).Initialize(h.app, "", "")
	require.True(t, ok)

	h.commands.Publish(map[string]any{"msg": "requestDevice"})
	cancel()
	s.Wait()
	assert.Equal(t, protocol.NewEnvelope(protocol.KindError, context.Canceled.Error()), h.next(t))
}
