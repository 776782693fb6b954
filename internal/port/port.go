// Package port define as portas pelas quais a aplicação troca mensagens com a
// ponte. Cada porta tem uma única direção: a aplicação envia por uma porta
// assinável e recebe por uma porta que aceita envios.
package port

import (
	"errors"
	"sync"
)

// ErrClosed indica envio por uma porta já fechada
var ErrClosed = errors.New("porta fechada")

// App é o identificador opaco da aplicação hospedada. Port retorna nil quando
// a porta não existe.
type App interface {
	Port(name string) any
}

// Subscriber é uma porta pela qual a aplicação envia; a ponte assina
type Subscriber interface {
	Subscribe(handler func(msg any)) (unsubscribe func())
}

// Sender é uma porta pela qual a aplicação recebe; a ponte envia
type Sender interface {
	Send(msg any) error
}

// Registry é um App mantido em memória
type Registry struct {
	mu    sync.RWMutex
	ports map[string]any
}

// NewRegistry cria um registro vazio
func NewRegistry() *Registry {
	return &Registry{ports: make(map[string]any)}
}

// Register associa uma porta a um nome, substituindo a anterior
func (r *Registry) Register(name string, p any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ports[name] = p
}

// Unregister remove a porta associada ao nome
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ports, name)
}

func (r *Registry) Port(name string) any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ports[name]
}
