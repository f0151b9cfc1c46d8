package middleware

import (
	"net/http"
	"strings"

	"xbot/pkg/crypto"
)

// BearerAuth проверяет операторский токен из заголовка
// Authorization: Bearer <token> против bcrypt-хеша.
//
// tokenHash - bcrypt-хеш токена (API_TOKEN_HASH). Пустой хеш
// отключает аутентификацию: локальное развертывание на одного
// оператора работает без токена.
func BearerAuth(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash == "" {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if !crypto.CheckTokenMatch(token, tokenHash) {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
