package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/permissionlesstech/btbridge/internal/bridge"
	"github.com/permissionlesstech/btbridge/internal/capability"
	"github.com/permissionlesstech/btbridge/internal/config"
	"github.com/permissionlesstech/btbridge/internal/host"
	"github.com/permissionlesstech/btbridge/internal/logging"
	"github.com/permissionlesstech/btbridge/internal/metrics"
	"github.com/permissionlesstech/btbridge/platform"
)

const (
	AppVersion = "0.1.0"
)

// Opções de linha de comando; sobrepõem o arquivo de configuração
type Flags struct {
	ConfigPath  string
	Transport   string
	Listen      string
	Platform    string
	Adapter     string
	SendPort    string
	ReceivePort string
	Compress    bool
	Debug       bool
	Metrics     string
	Version     bool
}

func main() {
	flags := &Flags{}

	flag.StringVar(&flags.ConfigPath, "config", "", "Arquivo de configuração YAML")
	flag.StringVar(&flags.Transport, "transport", "", "Transporte da aplicação: stdio ou websocket")
	flag.StringVar(&flags.Listen, "listen", "", "Endereço do servidor websocket")
	flag.StringVar(&flags.Platform, "platform", "", "Plataforma Bluetooth: bluez, mock ou none")
	flag.StringVar(&flags.Adapter, "adapter", "", "Adaptador BlueZ (ex.: hci0)")
	flag.StringVar(&flags.SendPort, "send-port", "", "Nome da porta de comandos")
	flag.StringVar(&flags.ReceivePort, "receive-port", "", "Nome da porta de resultados")
	flag.BoolVar(&flags.Compress, "compress", false, "Usar quadros binários com compressão LZ4 no stdio")
	flag.BoolVar(&flags.Debug, "debug", false, "Ativar modo de depuração")
	flag.StringVar(&flags.Metrics, "metrics", "", "Endereço das métricas Prometheus")
	flag.BoolVar(&flags.Version, "version", false, "Exibir versão e sair")
	flag.Parse()

	if flags.Version {
		fmt.Println("btbridge", AppVersion)
		return
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Erro na configuração:", err)
		os.Exit(1)
	}

	log, closer, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Erro ao configurar logs:", err)
		os.Exit(1)
	}
	defer closer.Close()

	// Configurar captura de sinais para encerramento limpo
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Error("btbridge encerrado com erro")
		closer.Close()
		os.Exit(1)
	}
	log.Info("btbridge encerrado")
}

// loadConfig lê o arquivo e aplica as flags informadas
func loadConfig(flags *Flags) (*config.Config, error) {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return nil, err
	}

	if flags.Transport != "" {
		cfg.Transport = flags.Transport
	}
	if flags.Listen != "" {
		cfg.Listen = flags.Listen
	}
	if flags.Platform != "" {
		cfg.Platform = flags.Platform
	}
	if flags.Adapter != "" {
		cfg.BlueZ.Adapter = flags.Adapter
	}
	if flags.SendPort != "" {
		cfg.Ports.Send = flags.SendPort
	}
	if flags.ReceivePort != "" {
		cfg.Ports.Receive = flags.ReceivePort
	}
	if flags.Compress {
		cfg.Framing.Enabled = true
		cfg.Framing.Compress = true
	}
	if flags.Debug {
		cfg.Log.Level = "debug"
	}
	if flags.Metrics != "" {
		cfg.Metrics.Listen = flags.Metrics
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	bt, err := newPlatform(cfg, log)
	if err != nil {
		return fmt.Errorf("plataforma %s: %w", cfg.Platform, err)
	}

	adapter := capability.New(bt, log.WithField("component", "capability"))
	if status, err := capability.Probe(ctx, bt); err != nil {
		log.WithError(err).Warn("sonda de disponibilidade falhou")
	} else {
		log.WithField("status", status).Info("disponibilidade Bluetooth")
	}

	opts := []bridge.Option{bridge.WithContext(ctx)}

	var metricsHandler http.Handler
	if cfg.Metrics.Listen != "" {
		collector, err := metrics.New(nil)
		if err != nil {
			return err
		}
		opts = append(opts, bridge.WithObserver(collector))
		metricsHandler = collector.Handler()
	}

	sharedMetrics := cfg.Transport == config.TransportWebSocket && cfg.Metrics.Listen == cfg.Listen
	if metricsHandler != nil && !sharedMetrics {
		go serveMetrics(ctx, cfg.Metrics.Listen, metricsHandler, log)
	}

	log.WithFields(logrus.Fields{
		"version":   AppVersion,
		"transport": cfg.Transport,
		"platform":  cfg.Platform,
	}).Info("btbridge iniciado")

	switch cfg.Transport {
	case config.TransportWebSocket:
		wsOpts := host.WebSocketOptions{
			Addr:          cfg.Listen,
			Ports:         cfg.Ports,
			Capability:    adapter,
			BridgeOptions: opts,
			Logger:        log,
		}
		if sharedMetrics {
			wsOpts.Metrics = metricsHandler
		}
		return host.NewWebSocketServer(wsOpts).Start(ctx)

	default:
		stream := host.NewStream(os.Stdin, os.Stdout, host.StreamOptions{
			Ports:   cfg.Ports,
			Framing: cfg.Framing,
			Logger:  log,
		})

		b := bridge.New(adapter, append(opts, bridge.WithLogger(log))...)
		session, ok := b.Initialize(stream.App(), cfg.Ports.Send, cfg.Ports.Receive)
		if !ok {
			return errors.New("portas da aplicação indisponíveis")
		}
		defer session.Close()

		err := stream.Serve(ctx)
		// Aguardar respostas pendentes antes de sair
		session.Wait()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}

func serveMetrics(ctx context.Context, addr string, handler http.Handler, log logrus.FieldLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", addr).Info("métricas disponíveis")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("servidor de métricas falhou")
	}
}

// newPlatform resolve a plataforma configurada. "none" resulta em nil, e o
// adaptador passa a relatar a API como ausente.
func newPlatform(cfg *config.Config, log logrus.FieldLogger) (platform.Bluetooth, error) {
	switch cfg.Platform {
	case config.PlatformMock:
		return platform.NewMock(), nil
	case config.PlatformNone:
		return nil, nil
	default:
		return newNativePlatform(cfg, log)
	}
}
