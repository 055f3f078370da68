package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tg-multipost/internal/domain"
	"tg-multipost/internal/infra/metrics"
)

// Client обращается к Go-бэкенду за проверкой бана и запрещённых слов.
// Решение принимается до любого вызова транспорта.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient создаёт клиент модерации с ограниченным таймаутом.
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

var _ domain.Moderation = (*Client)(nil)

type userResponse struct {
	IsBanned bool `json:"is_banned"`
}

type checkResponse struct {
	ForbiddenWords []string `json:"forbidden_words"`
}

// Check возвращает вердикт модерации для текста аккаунта.
// При непустом списке запрещённых слов попытка дополнительно
// репортится бэкенду (best-effort).
func (c *Client) Check(ctx context.Context, accountID, text, token string) (domain.ModerationVerdict, error) {
	var verdict domain.ModerationVerdict

	var user userResponse
	if err := c.getJSON(ctx, "/api/user/"+url.PathEscape(accountID), token, "user", &user); err != nil {
		return verdict, fmt.Errorf("получение данных пользователя: %w", err)
	}
	if user.IsBanned {
		verdict.Banned = true
		return verdict, nil
	}

	var check checkResponse
	payload := map[string]string{"text": text}
	if err := c.postJSON(ctx, "/api/check_forbidden_words", token, "check_forbidden_words", payload, &check); err != nil {
		return verdict, fmt.Errorf("проверка запрещённых слов: %w", err)
	}
	verdict.ForbiddenWords = check.ForbiddenWords

	if len(verdict.ForbiddenWords) > 0 {
		report := map[string]any{"account_id": accountID, "forbidden_words": verdict.ForbiddenWords}
		if err := c.postJSON(ctx, "/api/report_forbidden_words_attempt", token, "report_attempt", report, nil); err != nil {
			c.log.Warn().Err(err).Str("account", accountID).Msg("moderation: не удалось отправить репорт")
		}
	}
	return verdict, nil
}

func (c *Client) getJSON(ctx context.Context, path, token, op string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, token, op, out)
}

func (c *Client) postJSON(ctx context.Context, path, token, op string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, token, op, out)
}

func (c *Client) do(req *http.Request, token, op string, out any) error {
	req.Header.Set("Authorization", "Bearer "+token)
	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.ObserveNetworkRequest("moderation", op, req.URL.Path, start, err)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: статус %d: %s", domain.ErrUpstreamUnavailable, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
