package drafts

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"tg-multipost/internal/domain"
	"tg-multipost/internal/infra/metrics"
)

// Publisher отправляет созревший черновик от имени сессии.
type Publisher interface {
	PublishDraft(ctx context.Context, sess *domain.Session, d domain.Draft) error
}

// Scheduler раз в интервал извлекает созревшие черновики и публикует
// их. Черновик покидает очередь ровно один раз: повторов после неудачи
// нет, но файлы изображений освобождаются на любом исходе.
type Scheduler struct {
	drafts   domain.DraftStore
	sessions domain.SessionStore
	pub      Publisher
	blobs    domain.BlobStore
	alerts   domain.AlertNotifier
	clock    domain.Clock
	interval time.Duration
	log      zerolog.Logger
}

// NewScheduler собирает планировщик. alerts необязателен.
func NewScheduler(
	drafts domain.DraftStore,
	sessions domain.SessionStore,
	pub Publisher,
	blobs domain.BlobStore,
	alerts domain.AlertNotifier,
	clock domain.Clock,
	interval time.Duration,
	log zerolog.Logger,
) *Scheduler {
	return &Scheduler{
		drafts:   drafts,
		sessions: sessions,
		pub:      pub,
		blobs:    blobs,
		alerts:   alerts,
		clock:    clock,
		interval: interval,
		log:      log,
	}
}

// Run крутит цикл публикации до отмены контекста.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.log.Info().Dur("interval", s.interval).Msg("drafts: планировщик запущен")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("drafts: планировщик остановлен")
			return
		case <-ticker.C:
			s.Tick(ctx, s.clock.Now())
		}
	}
}

// Tick публикует все черновики, чьё время наступило. Каждый черновик
// обрабатывается изолированно.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	for _, d := range s.drafts.PopDue(now) {
		s.publish(ctx, d)
	}
}

func (s *Scheduler) publish(ctx context.Context, d domain.Draft) {
	// Файлы освобождаются на любом исходе, каждый независимо: ошибка
	// удаления одного не оставляет на диске остальные.
	defer func() {
		for _, handle := range d.ImageHandles {
			if err := s.blobs.Release(handle); err != nil {
				s.log.Warn().Err(err).Str("handle", handle).Msg("drafts: файл не освобождён")
			}
		}
	}()

	sess, ok := s.sessions.Get(d.Phone)
	if !ok {
		s.drop(d, domain.ErrSessionNotFound)
		return
	}

	for _, handle := range d.ImageHandles {
		if !s.blobs.Exists(handle) {
			s.drop(d, domain.ErrBlobMissing)
			return
		}
	}

	if err := s.pub.PublishDraft(ctx, sess, d); err != nil {
		s.drop(d, err)
		return
	}
	metrics.DraftsPublishedTotal.WithLabelValues("ok").Inc()
	s.log.Info().Int64("draft", d.ID).Str("phone", d.Phone).Msg("drafts: черновик опубликован")
}

// drop фиксирует потерю черновика: публикация одноразовая, в очередь
// он не возвращается.
func (s *Scheduler) drop(d domain.Draft, reason error) {
	metrics.DraftsPublishedTotal.WithLabelValues("dropped").Inc()
	s.log.Error().Err(reason).Int64("draft", d.ID).Str("phone", d.Phone).Msg("drafts: черновик сброшен")
	if s.alerts != nil {
		s.alerts.DraftDropped(d, reason)
	}
}

// SystemClock — часы реального времени для боевой сборки.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
