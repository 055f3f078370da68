package mtproto

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"tg-multipost/internal/domain"
	"tg-multipost/internal/infra/metrics"
)

const dialogsPageLimit = 100

var errDialogsNotModified = errors.New("диалоги не изменились")

// syntheticPrefix — идентификатор канала без username: channel_<id>.
const syntheticPrefix = "channel_"

// ListChannels выгружает все диалоги аккаунта и возвращает каналы.
func (c *Client) ListChannels(ctx context.Context) ([]domain.ChannelInfo, error) {
	start := time.Now()
	chats, err := c.fetchDialogChats(ctx)
	metrics.ObserveNetworkRequest("mtproto", "list_channels", "dialogs", start, err)
	if err != nil {
		return nil, err
	}

	channels := make([]domain.ChannelInfo, 0, len(chats))
	seen := make(map[int64]struct{}, len(chats))
	for _, chat := range chats {
		ch, ok := chat.(*tg.Channel)
		if !ok || ch.Left {
			continue
		}
		if _, dup := seen[ch.ID]; dup {
			continue
		}
		seen[ch.ID] = struct{}{}
		channels = append(channels, channelInfo(ch))
	}
	return channels, nil
}

// fetchDialogChats ходит по страницам списка диалогов, пока они не
// закончатся. Пагинация по (offset_date, offset_id, offset_peer).
func (c *Client) fetchDialogChats(ctx context.Context) ([]tg.ChatClass, error) {
	var chats []tg.ChatClass

	offsetDate := 0
	offsetID := 0
	var offsetPeer tg.InputPeerClass = &tg.InputPeerEmpty{}
	channelHashes := make(map[int64]int64)

	for {
		callCtx, cancel := c.callCtx(ctx)
		resp, err := c.api.MessagesGetDialogs(callCtx, &tg.MessagesGetDialogsRequest{
			OffsetDate: offsetDate,
			OffsetID:   offsetID,
			OffsetPeer: offsetPeer,
			Limit:      dialogsPageLimit,
		})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("список диалогов: %w", err)
		}

		batch, err := normalizeDialogs(resp)
		if err != nil {
			if errors.Is(err, errDialogsNotModified) {
				return chats, nil
			}
			return nil, err
		}
		if len(batch.Dialogs) == 0 {
			return chats, nil
		}

		chats = append(chats, batch.Chats...)
		for _, chat := range batch.Chats {
			if ch, ok := chat.(*tg.Channel); ok {
				channelHashes[ch.ID] = ch.AccessHash
			}
		}

		if last, ok := batch.Dialogs[len(batch.Dialogs)-1].(*tg.Dialog); ok {
			offsetID = last.TopMessage
			offsetDate = messageDate(batch.Messages, last.TopMessage)
			offsetPeer = dialogPeerToInput(last.Peer, channelHashes)
		}

		if len(batch.Dialogs) < dialogsPageLimit {
			return chats, nil
		}
	}
}

// Rights снимает права аккаунта в канале по его полной карточке.
func (c *Client) Rights(ctx context.Context, ch domain.ChannelInfo) (domain.ChannelRights, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	start := time.Now()
	full, err := c.api.ChannelsGetFullChannel(ctx, inputChannel(ch))
	metrics.ObserveNetworkRequest("mtproto", "channel_rights", ch.Title, start, err)
	if err != nil {
		return domain.ChannelRights{}, mapRPCError(fmt.Errorf("карточка канала: %w", err))
	}

	for _, chat := range full.Chats {
		channel, ok := chat.(*tg.Channel)
		if !ok || channel.ID != ch.ID {
			continue
		}
		rights := domain.ChannelRights{Creator: channel.Creator, Known: true}
		if admin, has := channel.GetAdminRights(); has {
			rights.CanPost = admin.PostMessages
		}
		return rights, nil
	}
	return domain.ChannelRights{}, nil
}

// Resolve находит канал по цели публикации: @username, username либо
// синтетический channel_<id> для каналов без публичного имени.
func (c *Client) Resolve(ctx context.Context, target string) (domain.ChannelInfo, error) {
	if id, ok := strings.CutPrefix(target, syntheticPrefix); ok {
		return c.resolveByID(ctx, id)
	}

	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	start := time.Now()
	resolved, err := c.api.ContactsResolveUsername(ctx, strings.TrimPrefix(target, "@"))
	metrics.ObserveNetworkRequest("mtproto", "resolve", target, start, err)
	if err != nil {
		return domain.ChannelInfo{}, mapRPCError(err)
	}
	for _, chat := range resolved.Chats {
		if ch, ok := chat.(*tg.Channel); ok {
			return channelInfo(ch), nil
		}
	}
	return domain.ChannelInfo{}, fmt.Errorf("по имени %s канал не найден", target)
}

// resolveByID ищет канал без username в диалогах аккаунта: другого
// способа узнать access_hash у приватного канала нет.
func (c *Client) resolveByID(ctx context.Context, raw string) (domain.ChannelInfo, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return domain.ChannelInfo{}, fmt.Errorf("неверный идентификатор канала %q", raw)
	}
	channels, err := c.ListChannels(ctx)
	if err != nil {
		return domain.ChannelInfo{}, err
	}
	for _, ch := range channels {
		if ch.ID == id {
			return ch, nil
		}
	}
	return domain.ChannelInfo{}, fmt.Errorf("канал %d не найден в диалогах", id)
}

func channelInfo(ch *tg.Channel) domain.ChannelInfo {
	info := domain.ChannelInfo{
		ID:         ch.ID,
		AccessHash: ch.AccessHash,
		Title:      ch.Title,
		Username:   ch.Username,
	}
	for _, alias := range ch.Usernames {
		if alias.Active {
			info.AltUsernames = append(info.AltUsernames, alias.Username)
		}
	}
	return info
}

func normalizeDialogs(resp tg.MessagesDialogsClass) (*tg.MessagesDialogs, error) {
	switch d := resp.(type) {
	case *tg.MessagesDialogs:
		return d, nil
	case *tg.MessagesDialogsSlice:
		return &tg.MessagesDialogs{
			Dialogs:  d.Dialogs,
			Messages: d.Messages,
			Chats:    d.Chats,
			Users:    d.Users,
		}, nil
	case *tg.MessagesDialogsNotModified:
		return nil, errDialogsNotModified
	default:
		return nil, fmt.Errorf("неожиданный ответ на список диалогов: %T", resp)
	}
}

func messageDate(messages []tg.MessageClass, id int) int {
	for _, msg := range messages {
		if m, ok := msg.(*tg.Message); ok && m.ID == id {
			return m.Date
		}
	}
	return 0
}

func dialogPeerToInput(peer tg.PeerClass, channelHashes map[int64]int64) tg.InputPeerClass {
	switch p := peer.(type) {
	case *tg.PeerChannel:
		return &tg.InputPeerChannel{ChannelID: p.ChannelID, AccessHash: channelHashes[p.ChannelID]}
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: p.ChatID}
	default:
		return &tg.InputPeerEmpty{}
	}
}

// mapRPCError переводит коды платформы в доменные ошибки доступности
// канала.
func mapRPCError(err error) error {
	switch {
	case tgerr.Is(err, "CHANNEL_PRIVATE", "CHAT_WRITE_FORBIDDEN", "CHANNEL_INVALID"):
		return domain.ErrChannelPrivate
	case tgerr.Is(err, "USER_NOT_PARTICIPANT"):
		return domain.ErrNotParticipant
	}
	return err
}
