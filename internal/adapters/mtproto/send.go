package mtproto

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"

	"tg-multipost/internal/domain"
	"tg-multipost/internal/infra/metrics"
)

// SendText отправляет текстовое сообщение в канал.
func (c *Client) SendText(ctx context.Context, ch domain.ChannelInfo, text string, opts domain.SendOptions) (domain.SendReceipt, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	req := &tg.MessagesSendMessageRequest{
		Peer:     inputPeer(ch),
		Message:  text,
		RandomID: rand.Int63(), // #nosec G404 -- random_id нужен для идемпотентности, не для криптографии
		Silent:   opts.Silent,
	}
	if !opts.ScheduleAt.IsZero() {
		req.SetScheduleDate(int(opts.ScheduleAt.Unix()))
	}

	start := time.Now()
	updates, err := c.api.MessagesSendMessage(ctx, req)
	metrics.ObserveNetworkRequest("mtproto", "send_text", ch.Title, start, err)
	if err != nil {
		return domain.SendReceipt{}, mapRPCError(err)
	}
	return receiptFromUpdates(updates, text), nil
}

// SendMedia отправляет фотографии с подписью. Одна фотография уходит
// обычной отправкой, несколько — альбомом; подпись в обоих случаях
// прикрепляется к первому элементу. Возвращаемая квитанция описывает
// элемент с подписью: по её эху вызывающий судит, дошёл ли текст.
func (c *Client) SendMedia(ctx context.Context, ch domain.ChannelInfo, paths []string, caption string, opts domain.SendOptions) (domain.SendReceipt, error) {
	if len(paths) == 0 {
		return c.SendText(ctx, ch, caption, opts)
	}

	peer := inputPeer(ch)
	up := uploader.NewUploader(c.api)

	files := make([]tg.InputFileClass, 0, len(paths))
	for _, path := range paths {
		start := time.Now()
		file, err := up.FromPath(ctx, path)
		metrics.ObserveNetworkRequest("mtproto", "upload", ch.Title, start, err)
		if err != nil {
			return domain.SendReceipt{}, fmt.Errorf("загрузка %s: %w", path, err)
		}
		files = append(files, file)
	}

	if len(files) == 1 {
		return c.sendSinglePhoto(ctx, ch, peer, files[0], caption, opts)
	}
	return c.sendAlbum(ctx, ch, peer, files, caption, opts)
}

func (c *Client) sendSinglePhoto(ctx context.Context, ch domain.ChannelInfo, peer tg.InputPeerClass, file tg.InputFileClass, caption string, opts domain.SendOptions) (domain.SendReceipt, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	req := &tg.MessagesSendMediaRequest{
		Peer:     peer,
		Media:    &tg.InputMediaUploadedPhoto{File: file},
		Message:  caption,
		RandomID: rand.Int63(), // #nosec G404
		Silent:   opts.Silent,
	}
	if !opts.ScheduleAt.IsZero() {
		req.SetScheduleDate(int(opts.ScheduleAt.Unix()))
	}

	start := time.Now()
	updates, err := c.api.MessagesSendMedia(ctx, req)
	metrics.ObserveNetworkRequest("mtproto", "send_media", ch.Title, start, err)
	if err != nil {
		return domain.SendReceipt{}, mapRPCError(err)
	}
	return receiptFromUpdates(updates, caption), nil
}

// sendAlbum материализует загруженные файлы в фотографии и шлёт их
// одной группой. Прямо передать InputMediaUploadedPhoto в альбом
// нельзя: платформа требует уже сохранённые медиа.
func (c *Client) sendAlbum(ctx context.Context, ch domain.ChannelInfo, peer tg.InputPeerClass, files []tg.InputFileClass, caption string, opts domain.SendOptions) (domain.SendReceipt, error) {
	multi := make([]tg.InputSingleMedia, 0, len(files))
	for i, file := range files {
		callCtx, cancel := c.callCtx(ctx)
		start := time.Now()
		media, err := c.api.MessagesUploadMedia(callCtx, &tg.MessagesUploadMediaRequest{
			Peer:  peer,
			Media: &tg.InputMediaUploadedPhoto{File: file},
		})
		cancel()
		metrics.ObserveNetworkRequest("mtproto", "materialize_media", ch.Title, start, err)
		if err != nil {
			return domain.SendReceipt{}, fmt.Errorf("сохранение фото: %w", mapRPCError(err))
		}

		input, err := photoReference(media)
		if err != nil {
			return domain.SendReceipt{}, err
		}
		single := tg.InputSingleMedia{
			Media:    input,
			RandomID: rand.Int63(), // #nosec G404
		}
		if i == 0 {
			single.Message = caption
		}
		multi = append(multi, single)
	}

	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	req := &tg.MessagesSendMultiMediaRequest{
		Peer:       peer,
		MultiMedia: multi,
		Silent:     opts.Silent,
	}
	if !opts.ScheduleAt.IsZero() {
		req.SetScheduleDate(int(opts.ScheduleAt.Unix()))
	}

	start := time.Now()
	updates, err := c.api.MessagesSendMultiMedia(ctx, req)
	metrics.ObserveNetworkRequest("mtproto", "send_album", ch.Title, start, err)
	if err != nil {
		return domain.SendReceipt{}, mapRPCError(err)
	}
	return receiptFromUpdates(updates, caption), nil
}

// DeleteMessage удаляет сообщение в канале.
func (c *Client) DeleteMessage(ctx context.Context, ch domain.ChannelInfo, msgID int) error {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := c.api.ChannelsDeleteMessages(ctx, &tg.ChannelsDeleteMessagesRequest{
		Channel: inputChannel(ch),
		ID:      []int{msgID},
	})
	metrics.ObserveNetworkRequest("mtproto", "delete_message", ch.Title, start, err)
	if err != nil {
		return mapRPCError(err)
	}
	return nil
}

// photoReference превращает только что сохранённое медиа в ссылку,
// пригодную для элемента альбома.
func photoReference(media tg.MessageMediaClass) (tg.InputMediaClass, error) {
	mediaPhoto, ok := media.(*tg.MessageMediaPhoto)
	if !ok {
		return nil, fmt.Errorf("неожиданный тип сохранённого медиа: %T", media)
	}
	photoClass, ok := mediaPhoto.GetPhoto()
	if !ok {
		return nil, fmt.Errorf("сохранённое медиа без фотографии")
	}
	photo, ok := photoClass.(*tg.Photo)
	if !ok {
		return nil, fmt.Errorf("неожиданный тип фотографии: %T", photoClass)
	}
	return &tg.InputMediaPhoto{
		ID: &tg.InputPhoto{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
		},
	}, nil
}
