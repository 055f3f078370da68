package mtproto

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"tg-multipost/internal/domain"
)

// Factory открывает MTProto-подключения. Каждое подключение живёт в
// собственной горутине с фоновым контекстом: жизнь транспорта не
// ограничена запросом, который его открыл.
type Factory struct {
	apiID       int
	apiHash     string
	callTimeout time.Duration
	log         zerolog.Logger
}

func NewFactory(apiID int, apiHash string, callTimeout time.Duration, log zerolog.Logger) *Factory {
	return &Factory{apiID: apiID, apiHash: apiHash, callTimeout: callTimeout, log: log}
}

// Connect поднимает клиент и ждёт готовности соединения. dc > 0
// привязывает подключение к конкретному дата-центру — нужно для
// повтора запроса кода после PHONE_MIGRATE.
func (f *Factory) Connect(ctx context.Context, dc int) (domain.Transport, error) {
	waiter := floodwait.NewWaiter()
	opts := telegram.Options{
		SessionStorage: &session.StorageMemory{},
		Middlewares:    []telegram.Middleware{waiter},
	}
	if dc > 0 {
		opts.DC = dc
	}
	tgc := telegram.NewClient(f.apiID, f.apiHash, opts)

	runCtx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- waiter.Run(runCtx, func(ctx context.Context) error {
			return tgc.Run(ctx, func(ctx context.Context) error {
				close(ready)
				<-ctx.Done()
				return ctx.Err()
			})
		})
	}()

	select {
	case <-ready:
	case err := <-done:
		cancel()
		if err == nil {
			err = fmt.Errorf("клиент завершился до готовности")
		}
		return nil, fmt.Errorf("подключение mtproto: %w", err)
	case <-ctx.Done():
		cancel()
		<-done
		return nil, ctx.Err()
	}

	f.log.Debug().Int("dc", dc).Msg("mtproto: подключение установлено")
	return &Client{
		client:      tgc,
		api:         tgc.API(),
		cancel:      cancel,
		done:        done,
		callTimeout: f.callTimeout,
		log:         f.log,
	}, nil
}

// Client — domain.Transport поверх gotd. Методы потокобезопасны в той
// же мере, что и сам gotd-клиент.
type Client struct {
	client      *telegram.Client
	api         *tg.Client
	cancel      context.CancelFunc
	done        chan error
	closeOnce   sync.Once
	callTimeout time.Duration
	log         zerolog.Logger
}

// Close гасит соединение и ждёт завершения фоновой горутины. Повторные
// вызовы безопасны.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.cancel()
		select {
		case <-c.done:
		case <-ctx.Done():
			c.log.Warn().Msg("mtproto: не дождались остановки клиента")
		}
	})
	return nil
}

// callCtx ограничивает длительность одного вызова API.
func (c *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.callTimeout)
}

func inputChannel(ch domain.ChannelInfo) *tg.InputChannel {
	return &tg.InputChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
}

func inputPeer(ch domain.ChannelInfo) tg.InputPeerClass {
	return &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
}
