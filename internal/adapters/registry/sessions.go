package registry

import (
	"sync"

	"tg-multipost/internal/domain"
)

// Sessions — потокобезопасный реестр сессий по телефону.
// К нему обращаются и HTTP-хендлеры, и планировщик черновиков, поэтому
// доступ сериализован мьютексом вместо неявного общего состояния.
type Sessions struct {
	mu    sync.RWMutex
	items map[string]*domain.Session
}

// NewSessions создаёт пустой реестр.
func NewSessions() *Sessions {
	return &Sessions{items: make(map[string]*domain.Session)}
}

var _ domain.SessionStore = (*Sessions)(nil)

// Get возвращает сессию телефона.
func (s *Sessions) Get(phone string) (*domain.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.items[phone]
	return sess, ok
}

// Put регистрирует сессию. Прежняя сессия телефона вытесняется:
// отключить её транспорт обязан вызывающий.
func (s *Sessions) Put(sess *domain.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[sess.Phone] = sess
}

// Remove извлекает сессию, не трогая транспорт.
func (s *Sessions) Remove(phone string) (*domain.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.items[phone]
	if ok {
		delete(s.items, phone)
	}
	return sess, ok
}

// All возвращает снимок всех сессий.
func (s *Sessions) All() []*domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Session, 0, len(s.items))
	for _, sess := range s.items {
		out = append(out, sess)
	}
	return out
}
