package botnotify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-multipost/internal/domain"
)

// Notifier шлёт операторам сообщения о потерянных черновиках через
// бот-аккаунт. Публикация черновика одноразовая, так что потеря без
// уведомления — тихая потеря контента.
type Notifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    zerolog.Logger
}

var _ domain.AlertNotifier = (*Notifier)(nil)

// New создаёт уведомитель по токену бота.
func New(token string, chatID int64, log zerolog.Logger) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("инициализация бота уведомлений: %w", err)
	}
	return &Notifier{bot: bot, chatID: chatID, log: log}, nil
}

// DraftDropped сообщает о сброшенном черновике. Ошибка отправки только
// логируется: уведомления не должны влиять на планировщик.
func (n *Notifier) DraftDropped(d domain.Draft, reason error) {
	text := fmt.Sprintf(
		"Черновик #%d не опубликован\nТелефон: %s\nЦели: %v\nЗаголовок: %s\nПричина: %v",
		d.ID, d.Phone, d.Targets, d.Title, reason,
	)
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		n.log.Warn().Err(err).Int64("draft", d.ID).Msg("botnotify: уведомление не отправлено")
	}
}
