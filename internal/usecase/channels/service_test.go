package channels

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"tg-multipost/internal/domain"
)

type fakeTransport struct {
	channels []domain.ChannelInfo
	rights   map[int64]domain.ChannelRights
	probeErr map[int64]error
	deleted  []int
	probes   []int64
}

func (f *fakeTransport) SendCode(ctx context.Context, phone string) (string, error) { return "", nil }
func (f *fakeTransport) SignIn(ctx context.Context, phone, code, challengeID, password string) (domain.Identity, error) {
	return domain.Identity{}, nil
}
func (f *fakeTransport) Authorized(ctx context.Context) (bool, error) { return true, nil }
func (f *fakeTransport) ListChannels(ctx context.Context) ([]domain.ChannelInfo, error) {
	return f.channels, nil
}
func (f *fakeTransport) Rights(ctx context.Context, ch domain.ChannelInfo) (domain.ChannelRights, error) {
	return f.rights[ch.ID], nil
}
func (f *fakeTransport) Resolve(ctx context.Context, target string) (domain.ChannelInfo, error) {
	return domain.ChannelInfo{}, nil
}
func (f *fakeTransport) SendText(ctx context.Context, ch domain.ChannelInfo, text string, opts domain.SendOptions) (domain.SendReceipt, error) {
	f.probes = append(f.probes, ch.ID)
	if !opts.Silent {
		return domain.SendReceipt{}, errors.New("контрольная отправка обязана быть беззвучной")
	}
	if err := f.probeErr[ch.ID]; err != nil {
		return domain.SendReceipt{}, err
	}
	return domain.SendReceipt{MessageID: int(ch.ID) * 10, EchoText: text}, nil
}
func (f *fakeTransport) SendMedia(ctx context.Context, ch domain.ChannelInfo, paths []string, caption string, opts domain.SendOptions) (domain.SendReceipt, error) {
	return domain.SendReceipt{}, nil
}
func (f *fakeTransport) DeleteMessage(ctx context.Context, ch domain.ChannelInfo, msgID int) error {
	f.deleted = append(f.deleted, msgID)
	return nil
}
func (f *fakeTransport) Close(ctx context.Context) error { return nil }

type fakeLinks struct {
	existing    map[string]struct{}
	existingErr error
	saved       []domain.ChannelDescriptor
	saveErr     error
}

func (f *fakeLinks) ExistingIDs(ctx context.Context, accountID, token string) (map[string]struct{}, error) {
	if f.existingErr != nil {
		return nil, f.existingErr
	}
	return f.existing, nil
}

func (f *fakeLinks) Save(ctx context.Context, accountID, token string, channels []domain.ChannelDescriptor) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, channels...)
	return nil
}

func session(t *fakeTransport) *domain.Session {
	return &domain.Session{Phone: "+7900", Transport: t, State: domain.AuthStateAuthenticated}
}

func TestDiscoverFiltersByRightsAndProbe(t *testing.T) {
	transport := &fakeTransport{
		channels: []domain.ChannelInfo{
			{ID: 1, Title: "Создатель", Username: "owner_channel"},
			{ID: 2, Title: "Админ", Username: "admin_channel"},
			{ID: 3, Title: "Читатель", Username: "readonly"},
			{ID: 4, Title: "Писатель без прав в мета", Username: "probe_ok"},
		},
		rights: map[int64]domain.ChannelRights{
			1: {Creator: true},
			2: {Known: true, CanPost: true},
			3: {},
			4: {},
		},
		probeErr: map[int64]error{3: domain.ErrNotParticipant},
	}
	links := &fakeLinks{existing: map[string]struct{}{}}
	svc := NewService(links, zerolog.Nop())

	got, err := svc.Discover(context.Background(), session(transport), "acc1", "tok")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ожидали 3 канала, получили %d: %+v", len(got), got)
	}
	for _, d := range got {
		if d.MainUsername == "readonly" {
			t.Fatalf("канал без права публикации не должен попасть в выдачу")
		}
	}
	// Контрольные отправки только там, где метаданные молчат.
	if len(transport.probes) != 2 {
		t.Fatalf("ожидали 2 контрольные отправки, было %d", len(transport.probes))
	}
	// Успешная контрольная отправка подчищается.
	if len(transport.deleted) != 1 || transport.deleted[0] != 40 {
		t.Fatalf("контрольное сообщение должно быть удалено: %v", transport.deleted)
	}
}

func TestDiscoverSyntheticUsername(t *testing.T) {
	transport := &fakeTransport{
		channels: []domain.ChannelInfo{{ID: 77, Title: "Без имени"}},
		rights:   map[int64]domain.ChannelRights{77: {Creator: true}},
	}
	links := &fakeLinks{existing: map[string]struct{}{}}
	svc := NewService(links, zerolog.Nop())

	got, err := svc.Discover(context.Background(), session(transport), "acc1", "tok")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got[0].MainUsername != "channel_77" {
		t.Fatalf("ожидали синтетический идентификатор, получили %q", got[0].MainUsername)
	}
}

func TestDiscoverAltUsernameFallback(t *testing.T) {
	transport := &fakeTransport{
		channels: []domain.ChannelInfo{{ID: 5, Title: "Алиас", AltUsernames: []string{"alias_one", "alias_two"}}},
		rights:   map[int64]domain.ChannelRights{5: {Creator: true}},
	}
	svc := NewService(&fakeLinks{}, zerolog.Nop())

	got, err := svc.Discover(context.Background(), session(transport), "acc1", "tok")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got[0].MainUsername != "alias_one" {
		t.Fatalf("ожидали первый алиас, получили %q", got[0].MainUsername)
	}
}

func TestDiscoverDeduplicatesLinks(t *testing.T) {
	transport := &fakeTransport{
		channels: []domain.ChannelInfo{
			{ID: 1, Title: "Старый", Username: "old_channel"},
			{ID: 2, Title: "Новый", Username: "new_channel"},
		},
		rights: map[int64]domain.ChannelRights{1: {Creator: true}, 2: {Creator: true}},
	}
	links := &fakeLinks{existing: map[string]struct{}{"old_channel": {}}}
	svc := NewService(links, zerolog.Nop())

	got, err := svc.Discover(context.Background(), session(transport), "acc1", "tok")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	// Клиент видит оба канала, но сохраняется только новый.
	if len(got) != 2 {
		t.Fatalf("ожидали полный список в выдаче, получили %d", len(got))
	}
	if len(links.saved) != 1 || links.saved[0].MainUsername != "new_channel" {
		t.Fatalf("сохраняться должен только новый канал: %+v", links.saved)
	}
}

func TestDiscoverExistingLookupFailureIsSoft(t *testing.T) {
	transport := &fakeTransport{
		channels: []domain.ChannelInfo{{ID: 1, Title: "Канал", Username: "ch"}},
		rights:   map[int64]domain.ChannelRights{1: {Creator: true}},
	}
	links := &fakeLinks{existingErr: errors.New("бэкенд недоступен")}
	svc := NewService(links, zerolog.Nop())

	got, err := svc.Discover(context.Background(), session(transport), "acc1", "tok")
	if err != nil {
		t.Fatalf("недоступность списка привязок не должна ронять выдачу: %v", err)
	}
	if len(got) != 1 || len(links.saved) != 1 {
		t.Fatalf("канал должен быть выдан и сохранён: %+v %+v", got, links.saved)
	}
}

func TestDiscoverSaveFailureIsFatal(t *testing.T) {
	transport := &fakeTransport{
		channels: []domain.ChannelInfo{{ID: 1, Title: "Канал", Username: "ch"}},
		rights:   map[int64]domain.ChannelRights{1: {Creator: true}},
	}
	links := &fakeLinks{saveErr: errors.New("запись не удалась")}
	svc := NewService(links, zerolog.Nop())

	if _, err := svc.Discover(context.Background(), session(transport), "acc1", "tok"); err == nil {
		t.Fatalf("ошибка сохранения привязок должна возвращаться наверх")
	}
}
