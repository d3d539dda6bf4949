package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Middleware authenticates bearer tokens and enforces a Policy.
type Middleware struct {
	secret []byte
	policy Policy
	logger *zap.Logger
}

// NewMiddleware returns nil when secret is empty; a nil Middleware lets
// every request through.
func NewMiddleware(secret string, policy Policy, logger *zap.Logger) *Middleware {
	if secret == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{secret: []byte(secret), policy: policy, logger: logger}
}

// Wrap guards next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		required, guarded := m.policy.Required(r)
		if !guarded {
			next.ServeHTTP(w, r)
			return
		}
		id, err := Verify(tokenFrom(r), m.secret)
		if err != nil {
			m.logger.Debug("request rejected", zap.String("path", r.URL.Path), zap.Error(err))
			deny(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !id.Role.Allows(required) {
			m.logger.Info("request forbidden",
				zap.String("path", r.URL.Path),
				zap.String("subject", id.Subject),
				zap.String("role", string(id.Role)),
				zap.String("required", string(required)))
			deny(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// tokenFrom reads the bearer header. Event streams may pass access_token
// in the query since browsers cannot set headers on EventSource.
func tokenFrom(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	if r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/stream") {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

func deny(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
