package port

import (
	"sync"
)

// Outgoing é uma porta de saída da aplicação mantida em memória: o que a
// aplicação publica é entregue, na ordem, a cada assinante
type Outgoing struct {
	mu       sync.RWMutex
	handlers []subscription
	nextID   uint64
}

type subscription struct {
	id      uint64
	handler func(msg any)
}

// NewOutgoing cria uma porta de saída sem assinantes
func NewOutgoing() *Outgoing {
	return &Outgoing{}
}

// Subscribe registra um assinante e retorna a função que o remove
func (p *Outgoing) Subscribe(handler func(msg any)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	id := p.nextID
	p.handlers = append(p.handlers, subscription{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			for i, s := range p.handlers {
				if s.id == id {
					p.handlers = append(p.handlers[:i:i], p.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish entrega msg a todos os assinantes, de forma síncrona
func (p *Outgoing) Publish(msg any) {
	p.mu.RLock()
	handlers := make([]subscription, len(p.handlers))
	copy(handlers, p.handlers)
	p.mu.RUnlock()

	for _, s := range handlers {
		s.handler(msg)
	}
}

// Subscribers retorna o número de assinantes ativos
func (p *Outgoing) Subscribers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.handlers)
}

// Incoming é uma porta de entrada da aplicação mantida em memória: o que a
// ponte envia fica disponível em C
type Incoming struct {
	ch   chan any
	done chan struct{}
	once sync.Once
}

// NewIncoming cria uma porta de entrada com o buffer informado
func NewIncoming(buffer int) *Incoming {
	return &Incoming{
		ch:   make(chan any, buffer),
		done: make(chan struct{}),
	}
}

// Send entrega msg à aplicação. Bloqueia enquanto o buffer estiver cheio.
func (p *Incoming) Send(msg any) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}

	select {
	case p.ch <- msg:
		return nil
	case <-p.done:
		return ErrClosed
	}
}

// C retorna o canal lido pela aplicação
func (p *Incoming) C() <-chan any {
	return p.ch
}

// Close faz os envios seguintes falharem com ErrClosed
func (p *Incoming) Close() {
	p.once.Do(func() { close(p.done) })
}
