package links

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-multipost/internal/domain"
)

func TestExistingIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("user_id") != "acc1" || r.URL.Query().Get("platform") != "telegram" {
			t.Fatalf("неожиданные параметры: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"links": []map[string]string{{"social_id": "news"}, {"social_id": "channel_42"}},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, zerolog.Nop())
	existing, err := client.ExistingIDs(context.Background(), "acc1", "tok")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, ok := existing["news"]; !ok {
		t.Fatalf("ожидали social_id news")
	}
	if len(existing) != 2 {
		t.Fatalf("ожидали 2 привязки, получили %d", len(existing))
	}
}

func TestSaveSendsChannels(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/links" {
			t.Fatalf("неожиданный запрос: %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, zerolog.Nop())
	err := client.Save(context.Background(), "acc1", "tok", []domain.ChannelDescriptor{
		{Title: "Новости", MainUsername: "news"},
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	channels, ok := got["channels"].([]any)
	if !ok || len(channels) != 1 {
		t.Fatalf("ожидали 1 канал в теле запроса: %+v", got)
	}
	first := channels[0].(map[string]any)
	if first["social_id"] != "news" {
		t.Fatalf("social_id должен совпадать с username: %+v", first)
	}
}

func TestSaveNothingToDo(t *testing.T) {
	client := NewClient("http://127.0.0.1:0", time.Second, zerolog.Nop())
	if err := client.Save(context.Background(), "acc1", "tok", nil); err != nil {
		t.Fatalf("пустой список не должен ходить в сеть: %v", err)
	}
}
