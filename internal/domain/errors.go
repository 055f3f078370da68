package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCodeRequestFailed — платформа не приняла запрос кода.
	ErrCodeRequestFailed = errors.New("не удалось отправить код")
	// ErrSessionNotFound — для телефона нет открытой сессии.
	ErrSessionNotFound = errors.New("сессия не найдена")
	// ErrPasswordRequired — аккаунту нужен второй фактор. Сессия при
	// этом сохраняется: повторный вызов с паролем продолжит вход.
	ErrPasswordRequired = errors.New("требуется пароль для двухфакторной аутентификации")
	// ErrInvalidCredentials — неверный код либо пароль.
	ErrInvalidCredentials = errors.New("неверный код или пароль")
	// ErrNotAuthorized — авторизация сессии отозвана или не завершена.
	ErrNotAuthorized = errors.New("пользователь не авторизован")
	// ErrAccountBanned — аккаунт заблокирован модерацией.
	ErrAccountBanned = errors.New("пользователь заблокирован")
	// ErrChannelPrivate — канал приватный, публикация невозможна.
	ErrChannelPrivate = errors.New("канал приватный или недоступен")
	// ErrNotParticipant — аккаунт не состоит в канале.
	ErrNotParticipant = errors.New("пользователь не является участником канала")
	// ErrUpstreamUnavailable — внешний сервис недоступен.
	ErrUpstreamUnavailable = errors.New("внешний сервис недоступен")
	// ErrBlobMissing — хэндл изображения больше не указывает на файл.
	ErrBlobMissing = errors.New("файл изображения не найден")
	// ErrDraftNotScheduled — попытка сохранить черновик без даты.
	ErrDraftNotScheduled = errors.New("черновик без даты публикации")
)

// DCMigrationError — платформа требует переподключиться к другому
// дата-центру и повторить запрос кода.
type DCMigrationError struct {
	DC int
}

func (e *DCMigrationError) Error() string {
	return fmt.Sprintf("аккаунт живёт в другом дата-центре: %d", e.DC)
}

// ForbiddenContentError — текст содержит запрещённые слова.
type ForbiddenContentError struct {
	Words []string
}

func (e *ForbiddenContentError) Error() string {
	return "пост содержит запрещенные слова: " + strings.Join(e.Words, ", ")
}

// ResolutionError — цель не удалось сопоставить каналу.
type ResolutionError struct {
	Target string
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("канал %s не найден: %v", e.Target, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// PartialDeliveryError агрегирует цели, в которые доставить не удалось.
// Успешные цели уже получили пост: отправка не транзакционна.
type PartialDeliveryError struct {
	Failed []string
}

func (e *PartialDeliveryError) Error() string {
	return "не удалось отправить пост в следующие чаты: " + strings.Join(e.Failed, ", ")
}

// MalformedInputError — некорректное поле запроса.
type MalformedInputError struct {
	Field  string
	Reason string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("неверный формат %s: %s", e.Field, e.Reason)
}
