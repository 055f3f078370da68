package domain

import "time"

// AuthState описывает стадию авторизации сессии.
type AuthState int

const (
	// AuthStateChallengeSent — код отправлен, ждём подтверждения.
	AuthStateChallengeSent AuthState = iota
	// AuthStateAuthenticated — вход выполнен, транспорт готов к работе.
	AuthStateAuthenticated
	// AuthStateClosed — сессия закрыта, транспорт отключён.
	AuthStateClosed
)

// Session связывает телефон с открытым транспортом мессенджера.
// Транспорт принадлежит сессии: закрытие сессии обязано отключить его.
type Session struct {
	Phone       string
	Transport   Transport
	ChallengeID string
	State       AuthState
	CreatedAt   time.Time
}

// Identity — отображаемые данные аккаунта после успешного входа.
type Identity struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// ChannelInfo идентифицирует канал на стороне транспорта.
type ChannelInfo struct {
	ID           int64
	AccessHash   int64
	Title        string
	Username     string
	AltUsernames []string
}

// ChannelRights — явные права аккаунта в канале вместо duck-typing
// по наличию полей creator/admin_rights.
type ChannelRights struct {
	Creator bool
	CanPost bool
	Known   bool
}

// ChannelDescriptor — производные данные для выдачи клиенту: заголовок
// и каноничный идентификатор для публикации (username либо channel_<id>).
type ChannelDescriptor struct {
	Title        string `json:"title"`
	MainUsername string `json:"main_username"`
}

// Draft — отложенный пост, ожидающий публикации планировщиком.
// ScheduledAt всегда в будущем на момент сохранения: черновик с пустой
// датой — противоречие, его следовало отправить сразу.
type Draft struct {
	ID           int64
	Phone        string
	Targets      []string
	Title        string
	Description  string
	ImageHandles []string
	ScheduledAt  time.Time
	CreatedAt    time.Time
}

// PostRequest — эфемерное значение для диспетчера: цели, уже
// скомпонованное сообщение и картинки. Title и Scheduled нужны только
// журналу публикаций.
type PostRequest struct {
	Targets      []string
	Message      string
	ImageHandles []string
	Title        string
	Scheduled    bool
}

// SendReceipt — подтверждение отправки от транспорта.
type SendReceipt struct {
	MessageID int
	EchoText  string
}

// TargetResult — исход доставки в один канал. Ошибки не прерывают
// обработку остальных целей, а агрегируются диспетчером.
type TargetResult struct {
	Target  string
	Receipt SendReceipt
	Err     error
}

// Failed сообщает, что доставка в цель не удалась.
func (r TargetResult) Failed() bool { return r.Err != nil }

// ModerationVerdict — решение модерации до любой отправки.
type ModerationVerdict struct {
	Banned         bool
	ForbiddenWords []string
}

// PublishRecord — запись журнала публикаций.
type PublishRecord struct {
	Phone       string
	Targets     []string
	Title       string
	Scheduled   bool
	Succeeded   bool
	FailedChats []string
	OccurredAt  time.Time
}
