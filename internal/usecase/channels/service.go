package channels

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"tg-multipost/internal/domain"
	"tg-multipost/internal/infra/metrics"
)

// probeText — текст контрольного сообщения. Отправляется беззвучно и
// сразу удаляется; по успешной отправке судим о праве публиковать.
const probeText = "Проверка доступа"

// Service находит каналы, в которые аккаунт может публиковать, и
// привязывает их к аккаунту в бэкенде.
type Service struct {
	links domain.LinkStore
	log   zerolog.Logger
}

func NewService(links domain.LinkStore, log zerolog.Logger) *Service {
	return &Service{links: links, log: log}
}

// Discover возвращает каналы сессии, доступные для публикации, и
// сохраняет новые привязки за accountID. Проверка каждого канала
// изолирована: ошибка одного не прерывает остальные.
func (s *Service) Discover(ctx context.Context, sess *domain.Session, accountID, token string) ([]domain.ChannelDescriptor, error) {
	channels, err := sess.Transport.ListChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("список каналов: %w", err)
	}

	writable := make([]domain.ChannelInfo, 0, len(channels))
	for _, ch := range channels {
		ok, err := s.canPost(ctx, sess.Transport, ch)
		if err != nil {
			s.log.Warn().Err(err).Str("channel", ch.Title).Msg("channels: проверка канала не удалась")
			continue
		}
		if ok {
			writable = append(writable, ch)
		}
	}

	descriptors := make([]domain.ChannelDescriptor, 0, len(writable))
	for _, ch := range writable {
		descriptors = append(descriptors, describe(ch))
	}

	if err := s.persist(ctx, accountID, token, descriptors); err != nil {
		return nil, err
	}
	return descriptors, nil
}

// canPost проверяет право публикации: создатель и админ с правом
// постинга проходят по метаданным, остальные — контрольной отправкой.
func (s *Service) canPost(ctx context.Context, transport domain.Transport, ch domain.ChannelInfo) (bool, error) {
	rights, err := transport.Rights(ctx, ch)
	if err != nil {
		metrics.ChannelProbesTotal.WithLabelValues("rights_error").Inc()
		return false, err
	}
	if rights.Creator {
		metrics.ChannelProbesTotal.WithLabelValues("creator").Inc()
		return true, nil
	}
	if rights.Known && rights.CanPost {
		metrics.ChannelProbesTotal.WithLabelValues("admin").Inc()
		return true, nil
	}

	receipt, err := transport.SendText(ctx, ch, probeText, domain.SendOptions{Silent: true})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrChannelPrivate), errors.Is(err, domain.ErrNotParticipant):
			metrics.ChannelProbesTotal.WithLabelValues("denied").Inc()
		default:
			metrics.ChannelProbesTotal.WithLabelValues("probe_error").Inc()
			s.log.Debug().Err(err).Str("channel", ch.Title).Msg("channels: контрольная отправка не прошла")
		}
		return false, nil
	}

	// Контрольное сообщение подчищаем по возможности: право публиковать
	// уже доказано самой отправкой.
	if err := transport.DeleteMessage(ctx, ch, receipt.MessageID); err != nil {
		s.log.Warn().Err(err).Str("channel", ch.Title).Msg("channels: контрольное сообщение не удалено")
	}
	metrics.ChannelProbesTotal.WithLabelValues("probed").Inc()
	return true, nil
}

// persist сохраняет новые привязки. Список уже известных каналов —
// best-effort: его недоступность не должна прятать каналы от клиента.
func (s *Service) persist(ctx context.Context, accountID, token string, descriptors []domain.ChannelDescriptor) error {
	if len(descriptors) == 0 {
		return nil
	}
	existing, err := s.links.ExistingIDs(ctx, accountID, token)
	if err != nil {
		s.log.Warn().Err(err).Msg("channels: не удалось получить существующие привязки")
		existing = map[string]struct{}{}
	}

	fresh := make([]domain.ChannelDescriptor, 0, len(descriptors))
	for _, d := range descriptors {
		if _, ok := existing[d.MainUsername]; ok {
			continue
		}
		fresh = append(fresh, d)
	}
	if len(fresh) == 0 {
		return nil
	}
	if err := s.links.Save(ctx, accountID, token, fresh); err != nil {
		return fmt.Errorf("сохранение привязок: %w", err)
	}
	s.log.Info().Int("count", len(fresh)).Str("account", accountID).Msg("channels: привязки сохранены")
	return nil
}

// describe выбирает каноничный идентификатор канала: основной username,
// любой из дополнительных, иначе синтетический channel_<id>.
func describe(ch domain.ChannelInfo) domain.ChannelDescriptor {
	username := ch.Username
	if username == "" && len(ch.AltUsernames) > 0 {
		username = ch.AltUsernames[0]
	}
	if username == "" {
		username = fmt.Sprintf("channel_%d", ch.ID)
	}
	return domain.ChannelDescriptor{Title: ch.Title, MainUsername: username}
}
