package http

import (
	"context"
	"net/http"
	"strings"
)

type tokenKey struct{}

// BearerToken извлекает токен из заголовка Authorization.
// Возвращает пустую строку, если заголовок отсутствует или без Bearer.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// BearerAuthMiddleware отклоняет запросы без bearer-токена и кладёт
// токен в контекст. Сам токен проверяет Go-бэкенд при обращениях к
// данным аккаунта; здесь только требование его наличия.
func BearerAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			WriteError(w, http.StatusUnauthorized, "отсутствует или неверный токен")
			return
		}
		ctx := context.WithValue(r.Context(), tokenKey{}, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TokenFromContext возвращает токен, сохранённый middleware.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}
