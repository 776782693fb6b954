// Package expiring fornece um conjunto cujos itens expiram após um TTL.
package expiring

import (
	"sync"
	"time"
)

// Set é um conjunto que esquece itens após um período de tempo.
// A ponte usa-o para acompanhar IDs de correlação de requisições em andamento.
//
// Cada Add bem-sucedido devolve um token. Remove só apaga o item se o token
// ainda for o da entrada atual, de modo que o dono de uma entrada expirada
// não remove a entrada que a substituiu.
type Set[K comparable] struct {
	items map[K]entry
	mutex sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	seq   uint64
}

type entry struct {
	token  uint64
	expiry time.Time
}

// New cria um novo conjunto com expiração.
// A limpeza dos itens expirados acontece em Add.
func New[K comparable](ttl time.Duration) *Set[K] {
	return &Set[K]{
		items: make(map[K]entry),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Add adiciona um item ao conjunto.
// Retorna o token da nova entrada e true, ou false se o item já existia e
// não expirou.
func (s *Set[K]) Add(item K) (uint64, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now()
	if e, exists := s.items[item]; exists && e.expiry.After(now) {
		return 0, false
	}

	s.removeExpiredLocked(now)
	s.seq++
	s.items[item] = entry{token: s.seq, expiry: now.Add(s.ttl)}
	return s.seq, true
}

// Remove apaga o item se a entrada atual ainda for a do token informado
func (s *Set[K]) Remove(item K, token uint64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if e, exists := s.items[item]; exists && e.token == token {
		delete(s.items, item)
	}
}

func (s *Set[K]) removeExpiredLocked(now time.Time) {
	for item, e := range s.items {
		if !e.expiry.After(now) {
			delete(s.items, item)
		}
	}
}
