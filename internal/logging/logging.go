// Package logging monta o logger logrus do processo
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/permissionlesstech/btbridge/internal/config"
)

// New cria um logger conforme cfg. Saídas que não sejam stdout ou stderr são
// tratadas como caminho de arquivo com rotação. O io.Closer retornado fecha o
// arquivo, quando houver.
func New(cfg config.Log) (*logrus.Logger, io.Closer, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	log := logrus.New()
	log.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	var closer io.Closer = nopCloser{}
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		log.SetOutput(os.Stderr)
	case "stdout":
		log.SetOutput(os.Stdout)
	default:
		if dir := filepath.Dir(cfg.Output); dir != "" {
			_ = os.MkdirAll(dir, 0o755)
		}
		rotating := &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    max(cfg.MaxSizeMB, 1),
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		log.SetOutput(rotating)
		closer = rotating
	}

	return log, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
