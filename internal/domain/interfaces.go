package domain

import (
	"context"
	"io"
	"time"
)

// Transport — узкий интерфейс клиента мессенджера. Протокольные детали
// (MTProto, дата-центры, загрузка файлов) скрыты за ним.
type Transport interface {
	// SendCode запрашивает код подтверждения и возвращает challenge id.
	// При переезде аккаунта в другой ДЦ возвращает DCMigrationError.
	SendCode(ctx context.Context, phone string) (string, error)
	// SignIn подтверждает код. Если аккаунту нужен второй фактор и
	// пароль пуст, возвращает ErrPasswordRequired.
	SignIn(ctx context.Context, phone, code, challengeID, password string) (Identity, error)
	// Authorized проверяет, что авторизация не отозвана.
	Authorized(ctx context.Context) (bool, error)
	// ListChannels возвращает каналы из списка диалогов аккаунта.
	ListChannels(ctx context.Context) ([]ChannelInfo, error)
	// Rights возвращает права аккаунта в канале.
	Rights(ctx context.Context, ch ChannelInfo) (ChannelRights, error)
	// Resolve находит канал по цели: username либо channel_<id>.
	Resolve(ctx context.Context, target string) (ChannelInfo, error)
	// SendText отправляет текстовое сообщение.
	SendText(ctx context.Context, ch ChannelInfo, text string, opts SendOptions) (SendReceipt, error)
	// SendMedia отправляет одну или несколько фотографий; подпись
	// прикрепляется к первому элементу. Возвращает квитанцию первого
	// элемента — по ней проверяется эхо подписи.
	SendMedia(ctx context.Context, ch ChannelInfo, paths []string, caption string, opts SendOptions) (SendReceipt, error)
	// DeleteMessage удаляет сообщение в канале.
	DeleteMessage(ctx context.Context, ch ChannelInfo, msgID int) error
	// Close отключает транспорт. Повторные вызовы безопасны.
	Close(ctx context.Context) error
}

// SendOptions — необязательные параметры отправки.
type SendOptions struct {
	Silent     bool
	ScheduleAt time.Time
}

// TransportFactory открывает новое подключение транспорта.
// dc > 0 привязывает подключение к конкретному дата-центру; 0 — выбор
// по умолчанию.
type TransportFactory interface {
	Connect(ctx context.Context, dc int) (Transport, error)
}

// SessionStore хранит сессии по телефону. Реализация обязана быть
// потокобезопасной: к реестру обращаются и хендлеры, и планировщик.
type SessionStore interface {
	Get(phone string) (*Session, bool)
	Put(sess *Session)
	// Remove извлекает сессию, не закрывая транспорт.
	Remove(phone string) (*Session, bool)
	All() []*Session
}

// DraftStore хранит отложенные посты в порядке времени публикации.
type DraftStore interface {
	// Put сохраняет черновик. Черновик без даты публикации — ошибка.
	Put(d Draft) (int64, error)
	// PopDue атомарно извлекает все черновики, чьё время наступило.
	PopDue(now time.Time) []Draft
	Snapshot() []Draft
	Len() int
}

// Moderation выполняет проверку бана и запрещённых слов до отправки.
type Moderation interface {
	Check(ctx context.Context, accountID, text, token string) (ModerationVerdict, error)
}

// LinkStore сохраняет найденные каналы за аккаунтом с дедупликацией.
type LinkStore interface {
	ExistingIDs(ctx context.Context, accountID, token string) (map[string]struct{}, error)
	Save(ctx context.Context, accountID, token string, channels []ChannelDescriptor) error
}

// BlobStore принимает загруженные изображения и выдаёт хэндлы.
// Release обязан вызываться на каждом пути выхода.
type BlobStore interface {
	Save(r io.Reader, name string) (string, error)
	Path(handle string) (string, error)
	Exists(handle string) bool
	Release(handle string) error
}

// PublishLog ведёт журнал попыток публикации. Необязательная
// зависимость: nil-реализация допустима.
type PublishLog interface {
	Record(ctx context.Context, rec PublishRecord) error
}

// AlertNotifier уведомляет операторов о сброшенных черновиках.
type AlertNotifier interface {
	DraftDropped(d Draft, reason error)
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}

// Clock отделяет время для тестов планировщика.
type Clock interface {
	Now() time.Time
}
