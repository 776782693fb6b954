// Package retry repete operações com backoff exponencial limitado.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config define as tentativas e o intervalo entre elas
type Config struct {
	// Número máximo de novas tentativas após a primeira
	MaxRetries int

	// Intervalo antes da primeira nova tentativa
	InitialBackoff time.Duration

	// Fator de crescimento do backoff
	BackoffFactor float64

	// Intervalo máximo entre tentativas; zero não impõe limite
	MaxBackoff time.Duration
}

// DefaultConfig retorna a configuração usada nas consultas ao D-Bus
func DefaultConfig() Config {
	return Config{
		MaxRetries:     2,
		InitialBackoff: 100 * time.Millisecond,
		BackoffFactor:  2,
		MaxBackoff:     time.Second,
	}
}

// Permanent marca um erro que não deve ser repetido
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// newBackOff traduz Config para o backoff exponencial, sem aleatoriedade e
// sem limite de tempo total
func newBackOff(cfg Config) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialBackoff
	b.RandomizationFactor = 0
	b.Multiplier = cfg.BackoffFactor
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.MaxInterval = cfg.MaxBackoff
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(math.MaxInt64)
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do executa fn até sucesso, erro permanente, fim das tentativas ou
// cancelamento de ctx. Retorna o último erro de fn, sem a marca de permanente.
func Do(ctx context.Context, cfg Config, fn func(attempt int) error) error {
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(newBackOff(cfg), uint64(retries)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		defer func() { attempt++ }()
		return fn(attempt)
	}, policy)
}
