package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/platinummonkey/dirsync/pkg/httputil"
	"github.com/platinummonkey/dirsync/pkg/observability"
)

// callerKey is the context key the gate stores the verified caller under.
type callerKey struct{}

// CallerID returns the account verified by the gate for this request, or ""
// when the request never passed through it.
func CallerID(ctx context.Context) string {
	if id, ok := ctx.Value(callerKey{}).(string); ok {
		return id
	}
	return ""
}

func withCallerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callerKey{}, id)
}

// DenialRecorder receives every request the gate turns away.
type DenialRecorder interface {
	RecordDenial(r *http.Request, reason, caller string) error
}

// Gate admits only requests bearing a valid HS256 token whose subject is the
// single allow-listed technical account. A missing or unverifiable token is
// 401; a verified token for any other account is 403.
type Gate struct {
	secret         []byte
	allowedAccount string
	denials        DenialRecorder
	logger         *observability.Logger
	metrics        *observability.Metrics
}

// NewGate creates the access gate for one shared secret and one allowed
// account. denials is optional; recording failures are logged, never fatal.
func NewGate(secret []byte, allowedAccount string, denials DenialRecorder, logger *observability.Logger, metrics *observability.Metrics) *Gate {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	return &Gate{
		secret:         secret,
		allowedAccount: allowedAccount,
		denials:        denials,
		logger:         logger,
		metrics:        metrics,
	}
}

// Handler wraps an HTTP handler with the gate check.
func (g *Gate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			g.reject(w, r, http.StatusUnauthorized, "missing", "missing authorization header", "")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			g.reject(w, r, http.StatusUnauthorized, "malformed", "invalid authorization header format", "")
			return
		}

		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(parts[1], claims, func(*jwt.Token) (interface{}, error) {
			return g.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			g.reject(w, r, http.StatusUnauthorized, "invalid_token", "invalid or expired token", "")
			return
		}

		subject, err := claims.GetSubject()
		if err != nil || subject == "" {
			g.reject(w, r, http.StatusUnauthorized, "invalid_token", "token carries no subject", "")
			return
		}
		if subject != g.allowedAccount {
			g.reject(w, r, http.StatusForbidden, "not_allowed", "account is not allowed to call this service", subject)
			return
		}

		next.ServeHTTP(w, r.WithContext(withCallerID(r.Context(), subject)))
	})
}

func (g *Gate) reject(w http.ResponseWriter, r *http.Request, status int, reason, message, caller string) {
	g.metrics.GateRejectionsTotal.WithLabelValues(reason).Inc()
	fields := map[string]interface{}{
		"path":   r.URL.Path,
		"reason": reason,
	}
	if caller != "" {
		fields["caller"] = caller
	}
	g.logger.WithFields(fields).Warn("access gate rejected request")

	if g.denials != nil {
		if err := g.denials.RecordDenial(r, reason, caller); err != nil {
			g.logger.WithError(err).Error("failed to record gate denial")
		}
	}

	if status == http.StatusForbidden {
		httputil.WriteForbidden(w, message)
		return
	}
	httputil.WriteUnauthorized(w, message)
}
