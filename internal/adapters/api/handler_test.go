package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"tg-multipost/internal/adapters/blob"
	"tg-multipost/internal/adapters/registry"
	"tg-multipost/internal/domain"
	"tg-multipost/internal/usecase/auth"
	"tg-multipost/internal/usecase/channels"
	"tg-multipost/internal/usecase/posting"
)

type stubTransport struct {
	challenge  string
	signInErr  error
	identity   domain.Identity
	authorized bool
	textSent   []string
	mediaSent  [][]string
}

func (s *stubTransport) SendCode(ctx context.Context, phone string) (string, error) {
	if s.challenge == "" {
		return "", fmt.Errorf("код недоступен")
	}
	return s.challenge, nil
}

func (s *stubTransport) SignIn(ctx context.Context, phone, code, challengeID, password string) (domain.Identity, error) {
	if s.signInErr != nil {
		return domain.Identity{}, s.signInErr
	}
	return s.identity, nil
}

func (s *stubTransport) Authorized(ctx context.Context) (bool, error) { return s.authorized, nil }
func (s *stubTransport) ListChannels(ctx context.Context) ([]domain.ChannelInfo, error) {
	return []domain.ChannelInfo{{ID: 1, Title: "Новости", Username: "news"}}, nil
}
func (s *stubTransport) Rights(ctx context.Context, ch domain.ChannelInfo) (domain.ChannelRights, error) {
	return domain.ChannelRights{Creator: true, Known: true}, nil
}
func (s *stubTransport) Resolve(ctx context.Context, target string) (domain.ChannelInfo, error) {
	return domain.ChannelInfo{ID: 1, Title: target, Username: target}, nil
}
func (s *stubTransport) SendText(ctx context.Context, ch domain.ChannelInfo, text string, opts domain.SendOptions) (domain.SendReceipt, error) {
	s.textSent = append(s.textSent, text)
	return domain.SendReceipt{MessageID: 1, EchoText: text}, nil
}
func (s *stubTransport) SendMedia(ctx context.Context, ch domain.ChannelInfo, paths []string, caption string, opts domain.SendOptions) (domain.SendReceipt, error) {
	s.mediaSent = append(s.mediaSent, paths)
	return domain.SendReceipt{MessageID: 2, EchoText: caption}, nil
}
func (s *stubTransport) DeleteMessage(ctx context.Context, ch domain.ChannelInfo, msgID int) error {
	return nil
}
func (s *stubTransport) Close(ctx context.Context) error { return nil }

type stubFactory struct{ transport *stubTransport }

func (s *stubFactory) Connect(ctx context.Context, dc int) (domain.Transport, error) {
	return s.transport, nil
}

type stubLinks struct{ saved []domain.ChannelDescriptor }

func (s *stubLinks) ExistingIDs(ctx context.Context, accountID, token string) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}
func (s *stubLinks) Save(ctx context.Context, accountID, token string, list []domain.ChannelDescriptor) error {
	s.saved = append(s.saved, list...)
	return nil
}

type stubModeration struct{ verdict domain.ModerationVerdict }

func (s *stubModeration) Check(ctx context.Context, accountID, text, token string) (domain.ModerationVerdict, error) {
	return s.verdict, nil
}

type movableClock struct{ now time.Time }

func (c *movableClock) Now() time.Time { return c.now }

type env struct {
	srv        *httptest.Server
	transport  *stubTransport
	moderation *stubModeration
	drafts     *registry.Drafts
	blobs      *blob.Store
	clock      *movableClock
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := zerolog.Nop()
	transport := &stubTransport{challenge: "hash1", identity: domain.Identity{Username: "poster"}, authorized: true}
	sessions := registry.NewSessions()
	draftsStore := registry.NewDrafts()
	blobs, err := blob.NewStore(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("не удалось создать хранилище: %v", err)
	}
	clock := &movableClock{now: time.Now().UTC()}
	moderation := &stubModeration{}

	authSvc := auth.NewService(sessions, &stubFactory{transport: transport}, nil, time.Minute, logger)
	channelsSvc := channels.NewService(&stubLinks{}, logger)
	postingSvc := posting.NewService(sessions, authSvc, moderation, draftsStore, blobs, nil, clock, logger)

	handler := NewHandler(authSvc, channelsSvc, postingSvc, blobs, logger)
	router := chi.NewRouter()
	handler.Routes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &env{srv: srv, transport: transport, moderation: moderation, drafts: draftsStore, blobs: blobs, clock: clock}
}

func (e *env) postJSON(t *testing.T, path string, body map[string]any, token string) *http.Response {
	t.Helper()
	raw, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, e.srv.URL+path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("запрос не выполнен: %v", err)
	}
	return resp
}

func (e *env) login(t *testing.T) {
	t.Helper()
	resp := e.postJSON(t, "/api/telegram/request_code", map[string]any{"phone": "+7900", "login": "user"}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("request_code: статус %d", resp.StatusCode)
	}
	resp.Body.Close()
	resp = e.postJSON(t, "/api/telegram/verify_code", map[string]any{"phone": "+7900", "code": "12345", "login": "user"}, "tok")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify_code: статус %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func (e *env) postForm(t *testing.T, path string, fields map[string]string, images map[string][]byte, token string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	for name, data := range images {
		part, _ := mw.CreateFormFile("images", name)
		_, _ = part.Write(data)
	}
	_ = mw.Close()

	req, _ := http.NewRequest(http.MethodPost, e.srv.URL+path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("запрос не выполнен: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("не удалось разобрать ответ %q: %v", raw, err)
	}
	return body
}

func postFields(schedule string) map[string]string {
	fields := map[string]string{
		"phone":          "+7900",
		"chat_usernames": `["news"]`,
		"title":          "Заголовок",
		"description":    "Описание",
		"account_id":     "acc1",
	}
	if schedule != "" {
		fields["schedule_date"] = schedule
	}
	return fields
}

func TestRequestCodeOK(t *testing.T) {
	e := newEnv(t)
	resp := e.postJSON(t, "/api/telegram/request_code", map[string]any{"phone": "+7900", "login": "user"}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("статус %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["status"] != "Код отправлен" {
		t.Fatalf("неожиданный ответ: %v", body)
	}
}

func TestRequestCodeFailure(t *testing.T) {
	e := newEnv(t)
	e.transport.challenge = ""
	resp := e.postJSON(t, "/api/telegram/request_code", map[string]any{"phone": "+7900", "login": "user"}, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("ожидали 400, получили %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestVerifyCodeNoSessionBeforeToken(t *testing.T) {
	e := newEnv(t)
	// Без сессии и без токена приоритет у 404.
	resp := e.postJSON(t, "/api/telegram/verify_code", map[string]any{"phone": "+7900", "code": "1", "login": "user"}, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("ожидали 404, получили %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestVerifyCodeMissingToken(t *testing.T) {
	e := newEnv(t)
	e.postJSON(t, "/api/telegram/request_code", map[string]any{"phone": "+7900", "login": "user"}, "").Body.Close()
	resp := e.postJSON(t, "/api/telegram/verify_code", map[string]any{"phone": "+7900", "code": "1", "login": "user"}, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("ожидали 401, получили %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestVerifyCodePasswordRequired(t *testing.T) {
	e := newEnv(t)
	e.transport.signInErr = domain.ErrPasswordRequired
	e.postJSON(t, "/api/telegram/request_code", map[string]any{"phone": "+7900", "login": "user"}, "").Body.Close()

	resp := e.postJSON(t, "/api/telegram/verify_code", map[string]any{"phone": "+7900", "code": "1", "login": "user"}, "tok")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("ожидали 401, получили %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Сессия пережила запрос пароля: повтор с паролем завершает вход.
	e.transport.signInErr = nil
	resp = e.postJSON(t, "/api/telegram/verify_code", map[string]any{"phone": "+7900", "code": "1", "password": "pw", "login": "user"}, "tok")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["username"] != "poster" {
		t.Fatalf("неожиданный ответ: %v", body)
	}
}

func TestChannelsFlow(t *testing.T) {
	e := newEnv(t)
	e.login(t)

	resp := e.postJSON(t, "/api/telegram/channels", map[string]any{"phone": "+7900", "login": "user", "account_id": "acc1"}, "tok")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("статус %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	channels, ok := body["channels"].([]any)
	if !ok || len(channels) != 1 {
		t.Fatalf("ожидали один канал: %v", body)
	}
	first := channels[0].(map[string]any)
	if first["main_username"] != "news" || first["title"] != "Новости" {
		t.Fatalf("неожиданный канал: %v", first)
	}
}

func TestChannelsRequiresAccountID(t *testing.T) {
	e := newEnv(t)
	e.login(t)
	resp := e.postJSON(t, "/api/telegram/channels", map[string]any{"phone": "+7900", "login": "user"}, "tok")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("ожидали 400, получили %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestChannelsRevokedSession(t *testing.T) {
	e := newEnv(t)
	e.login(t)
	e.transport.authorized = false

	resp := e.postJSON(t, "/api/telegram/channels", map[string]any{"phone": "+7900", "login": "user", "account_id": "acc1"}, "tok")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("ожидали 403, получили %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Отозванная сессия удалена: повтор даёт 404.
	resp = e.postJSON(t, "/api/telegram/channels", map[string]any{"phone": "+7900", "login": "user", "account_id": "acc1"}, "tok")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("ожидали 404, получили %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCreatePostImmediate(t *testing.T) {
	e := newEnv(t)
	e.login(t)

	resp := e.postForm(t, "/api/telegram/create_post", postFields(""), nil, "tok")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("статус %d: %v", resp.StatusCode, decodeBody(t, resp))
	}
	body := decodeBody(t, resp)
	if body["message"] != "Пост успешно опубликован" {
		t.Fatalf("неожиданный ответ: %v", body)
	}
	if len(e.transport.textSent) != 1 || e.transport.textSent[0] != "Заголовок\n\nОписание" {
		t.Fatalf("неожиданная отправка: %v", e.transport.textSent)
	}
}

func TestCreatePostPastScheduleSendsNow(t *testing.T) {
	e := newEnv(t)
	e.login(t)

	past := e.clock.now.Add(-time.Hour).Format("2006-01-02T15:04:05") + "Z"
	resp := e.postForm(t, "/api/telegram/create_post", postFields(past), nil, "tok")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("статус %d", resp.StatusCode)
	}
	resp.Body.Close()
	if e.drafts.Len() != 0 {
		t.Fatalf("прошедшая дата не должна создавать черновик")
	}
	if len(e.transport.textSent) != 1 {
		t.Fatalf("пост должен уйти сразу")
	}
}

func TestCreatePostFutureDefersAndKeepsImages(t *testing.T) {
	e := newEnv(t)
	e.login(t)

	future := e.clock.now.Add(2 * time.Hour).Format("2006-01-02T15:04:05") + "+00:00"
	resp := e.postForm(t, "/api/telegram/create_post", postFields(future), map[string][]byte{"pic.jpg": []byte("данные")}, "tok")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("статус %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["message"] != "Пост успешно отложен" {
		t.Fatalf("неожиданный ответ: %v", body)
	}
	if e.drafts.Len() != 1 {
		t.Fatalf("черновик должен попасть в очередь")
	}
	// Файл не освобождён: он нужен планировщику.
	d := e.drafts.Snapshot()[0]
	if len(d.ImageHandles) != 1 || !e.blobs.Exists(d.ImageHandles[0]) {
		t.Fatalf("файл отложенного поста должен жить до публикации")
	}
}

func TestCreatePostReleasesImagesAfterImmediateSend(t *testing.T) {
	e := newEnv(t)
	e.login(t)

	resp := e.postForm(t, "/api/telegram/create_post", postFields(""), map[string][]byte{"pic.jpg": []byte("данные")}, "tok")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("статус %d", resp.StatusCode)
	}
	resp.Body.Close()
	if len(e.transport.mediaSent) != 1 {
		t.Fatalf("ожидали отправку медиа: %v", e.transport.mediaSent)
	}
	// После немедленной отправки временные файлы удалены.
	if got := e.transport.mediaSent[0]; len(got) == 1 && e.blobs.Exists(got[0]) {
		t.Fatalf("файл должен быть освобождён после отправки")
	}
}

func TestCreatePostForbiddenWords(t *testing.T) {
	e := newEnv(t)
	e.login(t)
	e.moderation.verdict = domain.ModerationVerdict{ForbiddenWords: []string{"казино"}}

	resp := e.postForm(t, "/api/telegram/create_post", postFields(""), nil, "tok")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("ожидали 400, получили %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if msg, _ := body["error"].(string); !strings.Contains(msg, "казино") {
		t.Fatalf("ошибка должна называть слова: %v", body)
	}
}

func TestCreatePostBadUsernames(t *testing.T) {
	e := newEnv(t)
	e.login(t)
	fields := postFields("")
	fields["chat_usernames"] = "не json"

	resp := e.postForm(t, "/api/telegram/create_post", fields, nil, "tok")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("ожидали 400, получили %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCreatePostBadDate(t *testing.T) {
	e := newEnv(t)
	e.login(t)
	fields := postFields("завтра")

	resp := e.postForm(t, "/api/telegram/create_post", fields, nil, "tok")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("ожидали 400, получили %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCreatePostNoSession(t *testing.T) {
	e := newEnv(t)
	resp := e.postForm(t, "/api/telegram/create_post", postFields(""), nil, "tok")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("ожидали 404, получили %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSaveDraftRequiresFutureDate(t *testing.T) {
	e := newEnv(t)
	past := e.clock.now.Add(-time.Hour).Format("2006-01-02T15:04:05") + "Z"
	resp := e.postForm(t, "/api/telegram/save_draft", postFields(past), nil, "tok")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("ожидали 400, получили %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSaveDraftOK(t *testing.T) {
	e := newEnv(t)
	future := e.clock.now.Add(time.Hour).Format("2006-01-02T15:04:05") + "Z"
	resp := e.postForm(t, "/api/telegram/save_draft", postFields(future), nil, "tok")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("статус %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["message"] != "Черновик успешно сохранен" {
		t.Fatalf("неожиданный ответ: %v", body)
	}
	if e.drafts.Len() != 1 {
		t.Fatalf("черновик должен быть сохранён")
	}
}

func TestLogoutIdempotent(t *testing.T) {
	e := newEnv(t)
	e.login(t)

	for i := 0; i < 2; i++ {
		resp := e.postJSON(t, "/api/telegram/logout_telegram", map[string]any{"phone": "+7900", "login": "user"}, "tok")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("статус %d", resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestProtectedEndpointsRequireToken(t *testing.T) {
	e := newEnv(t)
	resp := e.postJSON(t, "/api/telegram/channels", map[string]any{"phone": "+7900", "login": "user", "account_id": "acc1"}, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("ожидали 401, получили %d", resp.StatusCode)
	}
	resp.Body.Close()
}
