package links

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

const platform = "telegram"

// Client сохраняет найденные каналы за аккаунтом через Go-бэкенд,
// отбрасывая уже привязанные.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient создаёт клиент сервиса привязок.
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

var _ domain.LinkStore = (*Client)(nil)

type linksResponse struct {
	Links []struct {
		SocialID string `json:"social_id"`
	} `json:"links"`
}

type channelPayload struct {
	Title        string `json:"title"`
	MainUsername string `json:"main_username"`
	SocialID     string `json:"social_id"`
}

// ExistingIDs возвращает множество уже привязанных social_id.
// Недоступность бэкенда здесь не фатальна для сканирования каналов:
// вызывающий решает, продолжать ли без дедупликации.
func (c *Client) ExistingIDs(ctx context.Context, accountID, token string) (map[string]struct{}, error) {
	endpoint := fmt.Sprintf("%s/api/links?user_id=%s&platform=%s", c.baseURL, url.QueryEscape(accountID), platform)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.ObserveNetworkRequest("links", "list", "links", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: статус %d: %s", domain.ErrUpstreamUnavailable, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed linksResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode links: %w", err)
	}
	existing := make(map[string]struct{}, len(parsed.Links))
	for _, link := range parsed.Links {
		existing[link.SocialID] = struct{}{}
	}
	return existing, nil
}

// Save привязывает новые каналы к аккаунту.
func (c *Client) Save(ctx context.Context, accountID, token string, channels []domain.ChannelDescriptor) error {
	if len(channels) == 0 {
		return nil
	}
	payload := make([]channelPayload, 0, len(channels))
	for _, ch := range channels {
		payload = append(payload, channelPayload{
			Title:        ch.Title,
			MainUsername: ch.MainUsername,
			SocialID:     ch.MainUsername,
		})
	}
	body, err := json.Marshal(map[string]any{
		"user_id":  accountID,
		"platform": platform,
		"channels": payload,
	})
	if err != nil {
		return fmt.Errorf("marshal links: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/links", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.ObserveNetworkRequest("links", "save", "links", start, err)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("сохранение каналов: статус %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	c.log.Info().Int("channels", len(channels)).Str("account", accountID).Msg("links: каналы сохранены")
	return nil
}
