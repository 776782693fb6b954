package host

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/permissionlesstech/btbridge/internal/bridge"
	"github.com/permissionlesstech/btbridge/internal/config"
	"github.com/permissionlesstech/btbridge/internal/port"
)

const (
	sendQueueSize = 64
	writeTimeout  = 5 * time.Second
)

// defaultOriginPatterns aceita apenas clientes locais
var defaultOriginPatterns = []string{
	"localhost",
	"localhost:*",
	"127.0.0.1",
	"127.0.0.1:*",
	"[::1]",
	"[::1]:*",
}

// WebSocketOptions configura um WebSocketServer
type WebSocketOptions struct {
	Addr           string
	Ports          config.Ports
	Capability     bridge.Capability
	BridgeOptions  []bridge.Option
	Metrics        http.Handler // servido em /metrics quando não nil
	OriginPatterns []string
	Logger         logrus.FieldLogger
}

// WebSocketServer hospeda uma aplicação por conexão websocket. Cada conexão
// recebe sua própria ponte, vinculada às duas portas da conexão.
type WebSocketServer struct {
	opts      WebSocketOptions
	log       logrus.FieldLogger
	httpSrv   *http.Server
	boundAddr string
	ready     chan struct{}
	conns     sync.Map // connID (uint64) -> *wsConn
	nextID    atomic.Uint64
}

// wsConn é a aplicação do outro lado de uma conexão
type wsConn struct {
	ws        *websocket.Conn
	app       *port.Registry
	commands  *port.Outgoing
	sendCh    chan any
	done      chan struct{}
	closeOnce sync.Once
}

// NewWebSocketServer cria o servidor; Start abre o listener
func NewWebSocketServer(opts WebSocketOptions) *WebSocketServer {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if len(opts.OriginPatterns) == 0 {
		opts.OriginPatterns = defaultOriginPatterns
	}
	if opts.Ports.Send == "" {
		opts.Ports.Send = bridge.DefaultSendPort
	}
	if opts.Ports.Receive == "" {
		opts.Ports.Receive = bridge.DefaultReceivePort
	}
	return &WebSocketServer{
		opts:  opts,
		log:   opts.Logger.WithField("transport", "websocket"),
		ready: make(chan struct{}),
	}
}

// Start aceita conexões até ctx ser cancelado
func (s *WebSocketServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	if s.opts.Metrics != nil {
		mux.Handle("/metrics", s.opts.Metrics)
	}

	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("websocket listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()
	s.httpSrv = &http.Server{Handler: mux}
	close(s.ready)

	s.log.WithField("addr", s.boundAddr).Info("servidor websocket iniciado")

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("websocket serve: %w", err)
	}
	return nil
}

// Stop fecha as conexões e encerra o servidor HTTP
func (s *WebSocketServer) Stop(ctx context.Context) error {
	s.conns.Range(func(key, value any) bool {
		cc := value.(*wsConn)
		cc.close()
		cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
		s.conns.Delete(key)
		return true
	})

	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// Ready é fechado quando o listener está aberto
func (s *WebSocketServer) Ready() <-chan struct{} { return s.ready }

// BoundAddr retorna o endereço efetivo. Válido após Ready.
func (s *WebSocketServer) BoundAddr() string { return s.boundAddr }

func (s *WebSocketServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.opts.OriginPatterns,
	})
	if err != nil {
		s.log.WithError(err).Warn("falha ao aceitar websocket")
		return
	}

	connID := s.nextID.Add(1)
	log := s.log.WithField("conn", connID)

	cc := &wsConn{
		ws:       ws,
		app:      port.NewRegistry(),
		commands: port.NewOutgoing(),
		sendCh:   make(chan any, sendQueueSize),
		done:     make(chan struct{}),
	}
	cc.app.Register(s.opts.Ports.Send, cc.commands)
	cc.app.Register(s.opts.Ports.Receive, &wsSender{cc})
	s.conns.Store(connID, cc)

	opts := append([]bridge.Option{bridge.WithLogger(log)}, s.opts.BridgeOptions...)
	b := bridge.New(s.opts.Capability, opts...)
	session, ok := b.Initialize(cc.app, s.opts.Ports.Send, s.opts.Ports.Receive)
	if !ok {
		// As duas portas acabaram de ser registradas
		log.Error("falha ao vincular a ponte")
		s.conns.Delete(connID)
		ws.Close(websocket.StatusInternalError, "bridge unavailable")
		return
	}

	log.Info("cliente websocket conectado")

	go s.writeLoop(cc)
	s.readLoop(r.Context(), cc)

	session.Close()
	cc.close()
	s.conns.Delete(connID)
	ws.Close(websocket.StatusNormalClosure, "")
	log.Info("cliente websocket desconectado")
}

// readLoop publica as mensagens cruas; a decodificação fica com o despachante
func (s *WebSocketServer) readLoop(ctx context.Context, cc *wsConn) {
	for {
		select {
		case <-cc.done:
			return
		default:
		}

		_, data, err := cc.ws.Read(ctx)
		if err != nil {
			return
		}
		cc.commands.Publish(json.RawMessage(data))
	}
}

func (s *WebSocketServer) writeLoop(cc *wsConn) {
	for {
		select {
		case <-cc.done:
			return
		case msg := <-cc.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := wsjson.Write(ctx, cc.ws, msg)
			cancel()
			if err != nil {
				s.log.WithError(err).Debug("falha ao escrever no websocket")
				return
			}
		}
	}
}

func (cc *wsConn) close() {
	cc.closeOnce.Do(func() { close(cc.done) })
}

// wsSender é a porta de resultados de uma conexão. Bloqueia enquanto a fila
// estiver cheia; nenhum envelope é descartado.
type wsSender struct {
	cc *wsConn
}

func (p *wsSender) Send(msg any) error {
	select {
	case <-p.cc.done:
		return port.ErrClosed
	default:
	}

	select {
	case p.cc.sendCh <- msg:
		return nil
	case <-p.cc.done:
		return port.ErrClosed
	}
}
