package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tg-multipost/internal/domain"
	"tg-multipost/internal/infra/metrics"
)

// Service — конечный автомат логина: запрос кода, подтверждение кода с
// необязательным вторым фактором, выход. Владеет реестром сессий.
type Service struct {
	sessions    domain.SessionStore
	factory     domain.TransportFactory
	throttle    domain.Cache
	throttleTTL time.Duration
	log         zerolog.Logger
}

// NewService создаёт сервис авторизации. throttle необязателен: nil
// отключает ограничение частоты запросов кода.
func NewService(sessions domain.SessionStore, factory domain.TransportFactory, throttle domain.Cache, throttleTTL time.Duration, log zerolog.Logger) *Service {
	return &Service{
		sessions:    sessions,
		factory:     factory,
		throttle:    throttle,
		throttleTTL: throttleTTL,
		log:         log,
	}
}

// RequestCode открывает транспорт и запрашивает код подтверждения.
// При миграции аккаунта в другой дата-центр переподключается к нему и
// повторяет запрос один раз. При любой ошибке сессия не регистрируется.
func (s *Service) RequestCode(ctx context.Context, phone string) error {
	if err := s.checkThrottle(phone); err != nil {
		metrics.CodeRequestsTotal.WithLabelValues("throttled").Inc()
		return err
	}

	transport, err := s.factory.Connect(ctx, 0)
	if err != nil {
		metrics.CodeRequestsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: %v", domain.ErrCodeRequestFailed, err)
	}

	challenge, err := transport.SendCode(ctx, phone)
	if err != nil {
		var migrate *domain.DCMigrationError
		if !errors.As(err, &migrate) {
			_ = transport.Close(ctx)
			metrics.CodeRequestsTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("%w: %v", domain.ErrCodeRequestFailed, err)
		}

		// Аккаунт живёт в другом ДЦ: одно переподключение, один повтор.
		s.log.Info().Str("phone", phone).Int("dc", migrate.DC).Msg("auth: миграция в другой дата-центр")
		_ = transport.Close(ctx)
		transport, err = s.factory.Connect(ctx, migrate.DC)
		if err != nil {
			metrics.CodeRequestsTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("%w: %v", domain.ErrCodeRequestFailed, err)
		}
		challenge, err = transport.SendCode(ctx, phone)
		if err != nil {
			_ = transport.Close(ctx)
			metrics.CodeRequestsTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("%w: %v", domain.ErrCodeRequestFailed, err)
		}
	}

	// Новая сессия вытесняет прежнюю; её транспорт нельзя утечь.
	if old, ok := s.sessions.Remove(phone); ok {
		s.log.Info().Str("phone", phone).Msg("auth: прежняя сессия заменена")
		_ = old.Transport.Close(ctx)
		old.State = domain.AuthStateClosed
	}

	s.sessions.Put(&domain.Session{
		Phone:       phone,
		Transport:   transport,
		ChallengeID: challenge,
		State:       domain.AuthStateChallengeSent,
		CreatedAt:   time.Now().UTC(),
	})
	s.markThrottle(phone)
	metrics.CodeRequestsTotal.WithLabelValues("ok").Inc()
	s.log.Info().Str("phone", phone).Msg("auth: код отправлен")
	return nil
}

// VerifyCode подтверждает код для открытой сессии. Если аккаунту нужен
// второй фактор, а пароль не передан, возвращает ErrPasswordRequired —
// сессия сохраняется, чтобы повторный вызов с паролем продолжил вход
// без нового кода.
func (s *Service) VerifyCode(ctx context.Context, phone, code, password string) (domain.Identity, error) {
	sess, ok := s.sessions.Get(phone)
	if !ok {
		metrics.SignInsTotal.WithLabelValues("no_session").Inc()
		return domain.Identity{}, domain.ErrSessionNotFound
	}

	identity, err := sess.Transport.SignIn(ctx, phone, code, sess.ChallengeID, password)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrPasswordRequired):
			metrics.SignInsTotal.WithLabelValues("password_required").Inc()
		case errors.Is(err, domain.ErrInvalidCredentials):
			metrics.SignInsTotal.WithLabelValues("invalid").Inc()
		default:
			metrics.SignInsTotal.WithLabelValues("error").Inc()
		}
		return domain.Identity{}, err
	}

	sess.State = domain.AuthStateAuthenticated
	metrics.SignInsTotal.WithLabelValues("ok").Inc()
	s.log.Info().Str("phone", phone).Str("username", identity.Username).Msg("auth: успешный вход")
	return identity, nil
}

// HasSession сообщает, открыта ли сессия для телефона.
func (s *Service) HasSession(phone string) bool {
	_, ok := s.sessions.Get(phone)
	return ok
}

// Authorized возвращает сессию телефона, убедившись, что авторизация
// не отозвана платформой. Отозванная сессия закрывается и удаляется.
func (s *Service) Authorized(ctx context.Context, phone string) (*domain.Session, error) {
	sess, ok := s.sessions.Get(phone)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	ok, err := sess.Transport.Authorized(ctx)
	if err != nil {
		return nil, fmt.Errorf("проверка авторизации: %w", err)
	}
	if !ok {
		s.log.Warn().Str("phone", phone).Msg("auth: авторизация отозвана, сессия закрыта")
		if removed, found := s.sessions.Remove(phone); found {
			_ = removed.Transport.Close(ctx)
			removed.State = domain.AuthStateClosed
		}
		return nil, domain.ErrNotAuthorized
	}
	return sess, nil
}

// Logout закрывает сессию телефона. Отсутствие сессии — не ошибка.
func (s *Service) Logout(ctx context.Context, phone string) {
	if sess, ok := s.sessions.Remove(phone); ok {
		_ = sess.Transport.Close(ctx)
		sess.State = domain.AuthStateClosed
		s.log.Info().Str("phone", phone).Msg("auth: выход выполнен")
	}
}

// CloseAll отключает транспорты всех открытых сессий. Вызывается при
// остановке процесса.
func (s *Service) CloseAll(ctx context.Context) {
	for _, sess := range s.sessions.All() {
		if _, ok := s.sessions.Remove(sess.Phone); ok {
			_ = sess.Transport.Close(ctx)
			sess.State = domain.AuthStateClosed
		}
	}
	s.log.Info().Msg("auth: все сессии закрыты")
}

func (s *Service) checkThrottle(phone string) error {
	if s.throttle == nil {
		return nil
	}
	if _, err := s.throttle.Get(throttleKey(phone)); err == nil {
		return fmt.Errorf("%w: код уже запрашивался недавно", domain.ErrCodeRequestFailed)
	}
	return nil
}

func (s *Service) markThrottle(phone string) {
	if s.throttle == nil {
		return
	}
	if err := s.throttle.Set(throttleKey(phone), []byte("1"), s.throttleTTL); err != nil {
		s.log.Warn().Err(err).Msg("auth: не удалось записать троттлинг")
	}
}

func throttleKey(phone string) string { return "code_request:" + phone }
