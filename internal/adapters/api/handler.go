package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"tg-multipost/internal/domain"
	infrahttp "tg-multipost/internal/infra/http"
	"tg-multipost/internal/usecase/auth"
	"tg-multipost/internal/usecase/channels"
	"tg-multipost/internal/usecase/posting"
)

// максимальный размер multipart-запроса с изображениями.
const maxUploadBytes = 32 << 20

// Handler связывает HTTP-поверхность с юзкейсами.
type Handler struct {
	auth     *auth.Service
	channels *channels.Service
	posting  *posting.Service
	blobs    domain.BlobStore
	log      zerolog.Logger
}

func NewHandler(authSvc *auth.Service, channelsSvc *channels.Service, postingSvc *posting.Service, blobs domain.BlobStore, log zerolog.Logger) *Handler {
	return &Handler{
		auth:     authSvc,
		channels: channelsSvc,
		posting:  postingSvc,
		blobs:    blobs,
		log:      log,
	}
}

// Routes регистрирует маршруты сервиса. Запрос кода не требует токена;
// verify_code проверяет заголовок сам, потому что отсутствие сессии
// важнее отсутствия токена.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/telegram/request_code", h.handleRequestCode)
	r.Post("/api/telegram/verify_code", h.handleVerifyCode)
	r.Group(func(r chi.Router) {
		r.Use(infrahttp.BearerAuthMiddleware)
		r.Post("/api/telegram/channels", h.handleChannels)
		r.Post("/api/telegram/create_post", h.handleCreatePost)
		r.Post("/api/telegram/save_draft", h.handleSaveDraft)
		r.Post("/api/telegram/logout_telegram", h.handleLogout)
	})
}

type phoneRequest struct {
	Phone     string `json:"phone"`
	Login     string `json:"login"`
	AccountID string `json:"account_id"`
}

type verifyCodeRequest struct {
	Phone    string `json:"phone"`
	Code     string `json:"code"`
	Password string `json:"password"`
	Login    string `json:"login"`
}

func (h *Handler) handleRequestCode(w http.ResponseWriter, r *http.Request) {
	var req phoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Phone == "" {
		infrahttp.WriteError(w, http.StatusBadRequest, "неверное тело запроса")
		return
	}

	if err := h.auth.RequestCode(r.Context(), req.Phone); err != nil {
		h.log.Error().Err(err).Str("phone", req.Phone).Msg("api: запрос кода не удался")
		infrahttp.WriteError(w, http.StatusBadRequest, "Не удалось отправить код")
		return
	}
	infrahttp.WriteStatus(w, "Код отправлен", "Код успешно отправлен")
}

func (h *Handler) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Phone == "" {
		infrahttp.WriteError(w, http.StatusBadRequest, "неверное тело запроса")
		return
	}

	// Порядок проверок как у поверхности: сначала сессия, потом токен.
	if !h.auth.HasSession(req.Phone) {
		infrahttp.WriteError(w, http.StatusNotFound, "Сессия не найдена. Сначала запросите код.")
		return
	}
	if infrahttp.BearerToken(r) == "" {
		infrahttp.WriteError(w, http.StatusUnauthorized, "отсутствует или неверный токен")
		return
	}

	identity, err := h.auth.VerifyCode(r.Context(), req.Phone, req.Code, req.Password)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			infrahttp.WriteError(w, http.StatusNotFound, "Сессия не найдена. Сначала запросите код.")
			return
		}
		h.writeVerifyError(w, err)
		return
	}

	infrahttp.WriteJSON(w, map[string]string{
		"status":   "Успех",
		"message":  "Авторизация прошла успешно",
		"username": identity.Username,
	})
}

func (h *Handler) handleChannels(w http.ResponseWriter, r *http.Request) {
	var req phoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Phone == "" {
		infrahttp.WriteError(w, http.StatusBadRequest, "неверное тело запроса")
		return
	}

	sess, err := h.auth.Authorized(r.Context(), req.Phone)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if req.AccountID == "" {
		infrahttp.WriteError(w, http.StatusBadRequest, "account_id обязателен для получения каналов")
		return
	}

	token := infrahttp.TokenFromContext(r.Context())
	descriptors, err := h.channels.Discover(r.Context(), sess, req.AccountID, token)
	if err != nil {
		h.log.Error().Err(err).Str("phone", req.Phone).Msg("api: список каналов не получен")
		h.writeError(w, err)
		return
	}
	infrahttp.WriteJSON(w, map[string]any{
		"status":   "успех",
		"channels": descriptors,
	})
}

func (h *Handler) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	in, handles, err := h.parsePostForm(r)
	if err != nil {
		h.writeError(w, err)
		h.releaseBlobs(handles)
		return
	}

	deferred, err := h.posting.CreatePost(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		h.releaseBlobs(handles)
		return
	}
	if deferred {
		// Файлы остаются до публикации: их освободит планировщик.
		infrahttp.WriteStatus(w, "успех", "Пост успешно отложен")
		return
	}
	h.releaseBlobs(handles)
	infrahttp.WriteStatus(w, "успех", "Пост успешно опубликован")
}

func (h *Handler) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	in, handles, err := h.parsePostForm(r)
	if err != nil {
		h.writeError(w, err)
		h.releaseBlobs(handles)
		return
	}

	if _, err := h.posting.SaveDraft(r.Context(), in); err != nil {
		h.writeError(w, err)
		h.releaseBlobs(handles)
		return
	}
	infrahttp.WriteStatus(w, "успех", "Черновик успешно сохранен")
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req phoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Phone == "" {
		infrahttp.WriteError(w, http.StatusBadRequest, "неверное тело запроса")
		return
	}
	h.auth.Logout(r.Context(), req.Phone)
	infrahttp.WriteStatus(w, "Успех", "Вы успешно вышли из Telegram")
}

// parsePostForm разбирает multipart-форму поста: поля, цели, дату и
// изображения. Изображения сразу складываются в BlobStore; вызывающий
// отвечает за их освобождение на всех путях, кроме отложенного поста.
func (h *Handler) parsePostForm(r *http.Request) (posting.PostInput, []string, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return posting.PostInput{}, nil, &domain.MalformedInputError{Field: "form", Reason: err.Error()}
	}

	in := posting.PostInput{
		Phone:       r.FormValue("phone"),
		AccountID:   r.FormValue("account_id"),
		Token:       infrahttp.TokenFromContext(r.Context()),
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
	}

	if err := json.Unmarshal([]byte(r.FormValue("chat_usernames")), &in.Targets); err != nil {
		return posting.PostInput{}, nil, &domain.MalformedInputError{Field: "chat_usernames", Reason: "ожидается JSON-список"}
	}

	if raw := r.FormValue("schedule_date"); raw != "" {
		at, err := parseScheduleDate(raw)
		if err != nil {
			return posting.PostInput{}, nil, err
		}
		in.ScheduleAt = at
	}

	var handles []string
	if r.MultipartForm != nil {
		for _, header := range r.MultipartForm.File["images"] {
			file, err := header.Open()
			if err != nil {
				return posting.PostInput{}, handles, &domain.MalformedInputError{Field: "images", Reason: err.Error()}
			}
			handle, err := h.blobs.Save(file, header.Filename)
			_ = file.Close()
			if err != nil {
				return posting.PostInput{}, handles, fmt.Errorf("сохранение изображения: %w", err)
			}
			handles = append(handles, handle)
		}
	}
	in.ImageHandles = handles
	return in, handles, nil
}

// parseScheduleDate нормализует ISO-8601 к UTC. Принимаются наивные
// значения, хвостовой Z и явный нулевой офсет; всё трактуется как UTC.
func parseScheduleDate(raw string) (time.Time, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimSuffix(cleaned, "Z")
	cleaned = strings.TrimSuffix(cleaned, "+00:00")

	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04:05.999999999"} {
		if at, err := time.Parse(layout, cleaned); err == nil {
			return at.UTC(), nil
		}
	}
	return time.Time{}, &domain.MalformedInputError{Field: "schedule_date", Reason: fmt.Sprintf("неверный формат даты и времени: %q", raw)}
}

func (h *Handler) releaseBlobs(handles []string) {
	for _, handle := range handles {
		if err := h.blobs.Release(handle); err != nil {
			h.log.Warn().Err(err).Str("handle", handle).Msg("api: файл не освобождён")
		}
	}
}

// writeVerifyError — статусы подтверждения кода: проблемы с кодом или
// паролем дают 401, всё остальное — 400.
func (h *Handler) writeVerifyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrPasswordRequired):
		infrahttp.WriteError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrInvalidCredentials):
		infrahttp.WriteError(w, http.StatusUnauthorized, "Неверный код или пароль")
	default:
		infrahttp.WriteError(w, http.StatusBadRequest, fmt.Sprintf("Не удалось проверить код: %v", err))
	}
}

// writeError переводит доменные ошибки в HTTP-статусы поверхности.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var forbidden *domain.ForbiddenContentError
	var malformed *domain.MalformedInputError
	var partial *domain.PartialDeliveryError

	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		infrahttp.WriteError(w, http.StatusNotFound, "Сессия не найдена. Сначала выполните авторизацию.")
	case errors.Is(err, domain.ErrNotAuthorized):
		infrahttp.WriteError(w, http.StatusForbidden, "Пользователь не авторизован. Сначала запросите код.")
	case errors.Is(err, domain.ErrAccountBanned):
		infrahttp.WriteError(w, http.StatusForbidden, "Пользователь заблокирован")
	case errors.Is(err, domain.ErrPasswordRequired):
		infrahttp.WriteError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrInvalidCredentials):
		infrahttp.WriteError(w, http.StatusUnauthorized, "Неверный код или пароль")
	case errors.Is(err, domain.ErrCodeRequestFailed):
		infrahttp.WriteError(w, http.StatusBadRequest, "Не удалось отправить код")
	case errors.As(err, &forbidden), errors.As(err, &malformed):
		infrahttp.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &partial):
		infrahttp.WriteError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		infrahttp.WriteError(w, http.StatusInternalServerError, err.Error())
	default:
		infrahttp.WriteError(w, http.StatusInternalServerError, fmt.Sprintf("Внутренняя ошибка сервера: %v", err))
	}
}
