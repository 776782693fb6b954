package platform

import (
	"context"
	"sync"
	"time"
)

// Mock é uma implementação programável de Bluetooth para testes e para rodar
// a ponte sem hardware
type Mock struct {
	mu sync.Mutex

	unsupported  bool
	available    bool
	availErr     error
	devices      []Device
	requestErr   error
	requestPanic any
	delay        time.Duration
	gate         chan struct{}

	requests []RequestOptions
}

// NewMock cria um mock com adaptador disponível e nenhum dispositivo
func NewMock() *Mock {
	return &Mock{available: true}
}

// SetUnsupported simula uma plataforma sem API Bluetooth
func (m *Mock) SetUnsupported(unsupported bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsupported = unsupported
}

// SetAvailable define o resultado da sonda de disponibilidade
func (m *Mock) SetAvailable(available bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = available
}

// SetAvailabilityError faz a sonda de disponibilidade falhar
func (m *Mock) SetAvailabilityError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.availErr = err
}

// AddDevice adiciona um dispositivo oferecido pelo fluxo de escolha
func (m *Mock) AddDevice(dev Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = append(m.devices, dev)
}

// SetRequestError faz RequestDevice retornar err
func (m *Mock) SetRequestError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestErr = err
}

// SetRequestPanic faz RequestDevice entrar em pânico com v
func (m *Mock) SetRequestPanic(v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestPanic = v
}

// SetDelay atrasa cada chamada de plataforma
func (m *Mock) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Hold bloqueia as chamadas de plataforma até que a função retornada seja chamada
func (m *Mock) Hold() (release func()) {
	gate := make(chan struct{})
	m.mu.Lock()
	m.gate = gate
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.gate == gate {
				m.gate = nil
			}
			m.mu.Unlock()
			close(gate)
		})
	}
}

// Requests retorna as opções recebidas por RequestDevice
func (m *Mock) Requests() []RequestOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RequestOptions(nil), m.requests...)
}

func (m *Mock) Availability(ctx context.Context) (bool, error) {
	if err := m.wait(ctx); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unsupported {
		return false, ErrUnsupported
	}
	if m.availErr != nil {
		return false, m.availErr
	}
	return m.available, nil
}

func (m *Mock) RequestDevice(ctx context.Context, opts RequestOptions) (Device, error) {
	m.mu.Lock()
	m.requests = append(m.requests, opts)
	p := m.requestPanic
	m.mu.Unlock()

	// O pânico simula a exceção síncrona, antes de qualquer espera
	if p != nil {
		panic(p)
	}

	if err := m.wait(ctx); err != nil {
		return Device{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unsupported {
		return Device{}, ErrUnsupported
	}
	if m.requestErr != nil {
		return Device{}, m.requestErr
	}
	if len(m.devices) == 0 {
		return Device{}, ErrNotFound
	}
	return m.devices[0], nil
}

func (m *Mock) wait(ctx context.Context) error {
	m.mu.Lock()
	delay, gate := m.delay, m.gate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
