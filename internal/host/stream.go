// Package host expõe as portas da aplicação sobre transportes reais: um fluxo
// de bytes (stdio) ou conexões websocket.
package host

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/permissionlesstech/btbridge/internal/config"
	"github.com/permissionlesstech/btbridge/internal/port"
	"github.com/permissionlesstech/btbridge/internal/protocol"
)

// maxLineSize limita uma linha JSON de entrada
const maxLineSize = 1 << 20

// StreamOptions configura um Stream
type StreamOptions struct {
	Ports   config.Ports
	Framing config.Framing
	Logger  logrus.FieldLogger
}

// Stream hospeda uma aplicação do outro lado de um par leitor/escritor. A
// entrada alimenta a porta de comandos; a porta de resultados escreve na saída.
type Stream struct {
	r      io.Reader
	w      io.Writer
	framed bool
	codec  protocol.FrameCodec
	log    logrus.FieldLogger

	app      *port.Registry
	commands *port.Outgoing

	writeMutex sync.Mutex
}

// NewStream cria um Stream. Nomes de porta vazios usam os padrões.
func NewStream(r io.Reader, w io.Writer, opts StreamOptions) *Stream {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Ports.Send == "" {
		opts.Ports.Send = config.Defaults().Ports.Send
	}
	if opts.Ports.Receive == "" {
		opts.Ports.Receive = config.Defaults().Ports.Receive
	}

	s := &Stream{
		r:      r,
		w:      w,
		framed: opts.Framing.Enabled,
		codec: protocol.FrameCodec{
			Compress:    opts.Framing.Compress,
			CompressMin: opts.Framing.CompressMin,
		},
		log:      opts.Logger.WithField("transport", "stream"),
		app:      port.NewRegistry(),
		commands: port.NewOutgoing(),
	}
	s.app.Register(opts.Ports.Send, s.commands)
	s.app.Register(opts.Ports.Receive, &streamSender{s})
	return s
}

// App retorna a aplicação com as duas portas registradas
func (s *Stream) App() port.App {
	return s.app
}

// Serve lê a entrada até EOF, erro de leitura ou cancelamento de ctx.
// EOF encerra sem erro.
func (s *Stream) Serve(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		if s.framed {
			errc <- s.readFrames()
		} else {
			errc <- s.readLines()
		}
	}()

	select {
	case err := <-errc:
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Stream) readLines() error {
	scanner := bufio.NewScanner(s.r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		// O scanner reutiliza o buffer
		msg := make([]byte, len(line))
		copy(msg, line)
		s.commands.Publish(msg)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("ler linha: %w", err)
	}
	return io.EOF
}

func (s *Stream) readFrames() error {
	for {
		frame, err := s.codec.ReadFrame(s.r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return fmt.Errorf("ler quadro: %w", err)
		}
		s.commands.Publish(frame)
	}
}

func (s *Stream) write(msg any) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	if s.framed {
		return s.codec.WriteFrame(s.w, msg)
	}

	line, err := protocol.EncodeLine(msg)
	if err != nil {
		return err
	}
	_, err = s.w.Write(line)
	return err
}

// streamSender é a porta de resultados de um Stream
type streamSender struct {
	s *Stream
}

func (p *streamSender) Send(msg any) error {
	if err := p.s.write(msg); err != nil {
		p.s.log.WithError(err).Warn("falha ao escrever envelope")
		return err
	}
	return nil
}
