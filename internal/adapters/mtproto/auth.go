package mtproto

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"tg-multipost/internal/domain"
	"tg-multipost/internal/infra/metrics"
)

// SendCode запрашивает код подтверждения. PHONE_MIGRATE не ошибка
// платформы, а указание: аккаунт живёт в другом дата-центре, запрос
// нужно повторить оттуда.
func (c *Client) SendCode(ctx context.Context, phone string) (string, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	start := time.Now()
	sent, err := c.client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	metrics.ObserveNetworkRequest("mtproto", "send_code", phone, start, err)
	if err != nil {
		if rpcErr, ok := tgerr.As(err); ok && rpcErr.Type == "PHONE_MIGRATE" {
			return "", &domain.DCMigrationError{DC: rpcErr.Argument}
		}
		return "", fmt.Errorf("запрос кода: %w", err)
	}

	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		return "", fmt.Errorf("неожиданный ответ на запрос кода: %T", sent)
	}
	return code.PhoneCodeHash, nil
}

// SignIn подтверждает код. При включённой двухфакторной аутентификации
// без пароля возвращает ErrPasswordRequired: вызывающий повторит вызов
// с паролем, новый код не нужен.
func (c *Client) SignIn(ctx context.Context, phone, code, challengeID, password string) (domain.Identity, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	start := time.Now()
	authorization, err := c.client.Auth().SignIn(ctx, phone, code, challengeID)
	metrics.ObserveNetworkRequest("mtproto", "sign_in", phone, start, err)
	if err != nil {
		if !errors.Is(err, auth.ErrPasswordAuthNeeded) {
			if invalidCredentials(err) {
				return domain.Identity{}, domain.ErrInvalidCredentials
			}
			return domain.Identity{}, fmt.Errorf("вход по коду: %w", err)
		}
		if password == "" {
			return domain.Identity{}, domain.ErrPasswordRequired
		}
		authorization, err = c.client.Auth().Password(ctx, password)
		if err != nil {
			if invalidCredentials(err) {
				return domain.Identity{}, domain.ErrInvalidCredentials
			}
			return domain.Identity{}, fmt.Errorf("вход по паролю: %w", err)
		}
	}

	return identityFrom(authorization), nil
}

// Authorized проверяет, что авторизация всё ещё действует.
func (c *Client) Authorized(ctx context.Context) (bool, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	status, err := c.client.Auth().Status(ctx)
	if err != nil {
		return false, fmt.Errorf("статус авторизации: %w", err)
	}
	return status.Authorized, nil
}

func invalidCredentials(err error) bool {
	return tgerr.Is(err, "PHONE_CODE_INVALID", "PHONE_CODE_EXPIRED", "PASSWORD_HASH_INVALID")
}

func identityFrom(authorization *tg.AuthAuthorization) domain.Identity {
	user, ok := authorization.User.(*tg.User)
	if !ok {
		return domain.Identity{}
	}
	return domain.Identity{
		ID:        user.ID,
		Username:  user.Username,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	}
}
