package posting

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tg-multipost/internal/domain"
	"tg-multipost/internal/infra/metrics"
)

// Authorizer выдаёт живую сессию телефона, убедившись, что авторизация
// не отозвана.
type Authorizer interface {
	Authorized(ctx context.Context, phone string) (*domain.Session, error)
}

// PostInput — общий вход для немедленной публикации и черновика.
type PostInput struct {
	Phone        string
	AccountID    string
	Token        string
	Targets      []string
	Title        string
	Description  string
	ImageHandles []string
	ScheduleAt   time.Time
}

// Service публикует посты в несколько каналов и откладывает черновики.
type Service struct {
	sessions   domain.SessionStore
	auth       Authorizer
	moderation domain.Moderation
	drafts     domain.DraftStore
	blobs      domain.BlobStore
	publog     domain.PublishLog
	clock      domain.Clock
	log        zerolog.Logger
}

// NewService собирает сервис публикации. publog необязателен.
func NewService(
	sessions domain.SessionStore,
	auth Authorizer,
	moderation domain.Moderation,
	drafts domain.DraftStore,
	blobs domain.BlobStore,
	publog domain.PublishLog,
	clock domain.Clock,
	log zerolog.Logger,
) *Service {
	return &Service{
		sessions:   sessions,
		auth:       auth,
		moderation: moderation,
		drafts:     drafts,
		blobs:      blobs,
		publog:     publog,
		clock:      clock,
		log:        log,
	}
}

// CreatePost публикует пост сразу либо, при будущей дате, откладывает
// его в черновики. Возвращает признак отложенной публикации. Модерация
// выполняется до любых обращений к транспорту, в том числе для
// черновиков.
func (s *Service) CreatePost(ctx context.Context, in PostInput) (bool, error) {
	if _, ok := s.sessions.Get(in.Phone); !ok {
		return false, domain.ErrSessionNotFound
	}

	message := ComposeMessage(in.Title, in.Description)
	if err := s.moderate(ctx, in, message); err != nil {
		return false, err
	}

	if in.ScheduleAt.After(s.clock.Now()) {
		id, err := s.drafts.Put(domain.Draft{
			Phone:        in.Phone,
			Targets:      in.Targets,
			Title:        in.Title,
			Description:  in.Description,
			ImageHandles: in.ImageHandles,
			ScheduledAt:  in.ScheduleAt,
			CreatedAt:    s.clock.Now(),
		})
		if err != nil {
			return false, err
		}
		metrics.DraftsStoredTotal.Inc()
		s.log.Info().Int64("draft", id).Time("at", in.ScheduleAt).Msg("posting: пост отложен")
		return true, nil
	}

	sess, err := s.auth.Authorized(ctx, in.Phone)
	if err != nil {
		return false, err
	}
	return false, s.Dispatch(ctx, sess, domain.PostRequest{
		Targets:      in.Targets,
		Message:      message,
		ImageHandles: in.ImageHandles,
		Title:        in.Title,
	})
}

// SaveDraft откладывает пост без немедленной публикации. Дата обязана
// быть в будущем; сессия не требуется — она понадобится планировщику.
func (s *Service) SaveDraft(ctx context.Context, in PostInput) (int64, error) {
	message := ComposeMessage(in.Title, in.Description)
	if err := s.moderate(ctx, in, message); err != nil {
		return 0, err
	}
	if !in.ScheduleAt.After(s.clock.Now()) {
		return 0, &domain.MalformedInputError{Field: "schedule_date", Reason: "дата публикации должна быть в будущем"}
	}

	id, err := s.drafts.Put(domain.Draft{
		Phone:        in.Phone,
		Targets:      in.Targets,
		Title:        in.Title,
		Description:  in.Description,
		ImageHandles: in.ImageHandles,
		ScheduledAt:  in.ScheduleAt,
		CreatedAt:    s.clock.Now(),
	})
	if err != nil {
		return 0, err
	}
	metrics.DraftsStoredTotal.Inc()
	s.log.Info().Int64("draft", id).Time("at", in.ScheduleAt).Msg("posting: черновик сохранён")
	return id, nil
}

// PublishDraft отправляет созревший черновик. Вызывается планировщиком.
func (s *Service) PublishDraft(ctx context.Context, sess *domain.Session, d domain.Draft) error {
	return s.Dispatch(ctx, sess, domain.PostRequest{
		Targets:      d.Targets,
		Message:      ComposeMessage(d.Title, d.Description),
		ImageHandles: d.ImageHandles,
		Title:        d.Title,
		Scheduled:    true,
	})
}

// Dispatch доставляет пост во все цели. Ошибка одной цели не прерывает
// остальные: неудачи агрегируются в PartialDeliveryError. Доставка не
// транзакционна — успевшие цели пост уже получили.
func (s *Service) Dispatch(ctx context.Context, sess *domain.Session, req domain.PostRequest) error {
	start := time.Now()
	results := make([]domain.TargetResult, 0, len(req.Targets))
	for _, target := range req.Targets {
		res := s.deliver(ctx, sess, target, req)
		if res.Failed() {
			metrics.PostTargetsTotal.WithLabelValues("error").Inc()
			s.log.Error().Err(res.Err).Str("target", target).Msg("posting: доставка в цель не удалась")
		} else {
			metrics.PostTargetsTotal.WithLabelValues("ok").Inc()
		}
		results = append(results, res)
	}
	metrics.DispatchSeconds.Observe(time.Since(start).Seconds())

	failed := make([]string, 0)
	for _, res := range results {
		if res.Failed() {
			failed = append(failed, res.Target)
		}
	}
	s.record(ctx, sess.Phone, req, failed)

	if len(failed) > 0 {
		return &domain.PartialDeliveryError{Failed: failed}
	}
	return nil
}

// deliver отправляет пост в одну цель.
func (s *Service) deliver(ctx context.Context, sess *domain.Session, target string, req domain.PostRequest) domain.TargetResult {
	ch, err := sess.Transport.Resolve(ctx, target)
	if err != nil {
		return domain.TargetResult{Target: target, Err: &domain.ResolutionError{Target: target, Err: err}}
	}

	if len(req.ImageHandles) == 0 {
		receipt, err := sess.Transport.SendText(ctx, ch, req.Message, domain.SendOptions{})
		return domain.TargetResult{Target: target, Receipt: receipt, Err: err}
	}

	paths := make([]string, 0, len(req.ImageHandles))
	for _, handle := range req.ImageHandles {
		path, err := s.blobs.Path(handle)
		if err != nil {
			return domain.TargetResult{Target: target, Err: err}
		}
		paths = append(paths, path)
	}

	receipt, err := sess.Transport.SendMedia(ctx, ch, paths, req.Message, domain.SendOptions{})
	if err != nil {
		return domain.TargetResult{Target: target, Err: err}
	}

	// Платформа могла молча обрезать или потерять подпись. Тогда текст
	// досылается отдельным сообщением следом за альбомом.
	if receipt.EchoText != req.Message {
		metrics.CaptionFallbacksTotal.Inc()
		s.log.Warn().Str("target", target).Msg("posting: подпись не дошла, досылаем текстом")
		if _, err := sess.Transport.SendText(ctx, ch, req.Message, domain.SendOptions{}); err != nil {
			return domain.TargetResult{Target: target, Err: fmt.Errorf("досылка текста: %w", err)}
		}
	}
	return domain.TargetResult{Target: target, Receipt: receipt}
}

// moderate запрещает публикацию забаненным аккаунтам и постам с
// запрещёнными словами.
func (s *Service) moderate(ctx context.Context, in PostInput, message string) error {
	verdict, err := s.moderation.Check(ctx, in.AccountID, message, in.Token)
	if err != nil {
		return fmt.Errorf("модерация: %w", err)
	}
	if verdict.Banned {
		return domain.ErrAccountBanned
	}
	if len(verdict.ForbiddenWords) > 0 {
		return &domain.ForbiddenContentError{Words: verdict.ForbiddenWords}
	}
	return nil
}

// record пишет попытку публикации в журнал. Журнал необязателен и не
// влияет на исход доставки.
func (s *Service) record(ctx context.Context, phone string, req domain.PostRequest, failed []string) {
	if s.publog == nil {
		return
	}
	rec := domain.PublishRecord{
		Phone:       phone,
		Targets:     req.Targets,
		Title:       req.Title,
		Scheduled:   req.Scheduled,
		Succeeded:   len(failed) == 0,
		FailedChats: failed,
		OccurredAt:  s.clock.Now(),
	}
	if err := s.publog.Record(ctx, rec); err != nil {
		s.log.Warn().Err(err).Msg("posting: запись в журнал публикаций не удалась")
	}
}
