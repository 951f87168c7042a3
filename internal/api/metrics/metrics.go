// Package metrics defines and registers all custom Prometheus metrics of the
// access service. It is the single source of truth for metric names, labels,
// and help strings. Collectors register with the default registry on import.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/propeval/access-core/internal/core/domain"
)

const namespace = "access"

// ── Authentication ────────────────────────────────────────────────────────────

// LoginAttemptsTotal counts login attempts.
// Label:
//   - outcome: "success", "invalid_credentials" or "error"
var LoginAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "login_attempts_total",
		Help:      "Total number of login attempts, by outcome.",
	},
	[]string{"outcome"},
)

// TokenValidationsTotal counts bearer token checks done by the auth middleware.
// Label:
//   - outcome: "ok", "missing", "inactive", "unavailable" or a token error kind
//     ("expired", "malformed", "revoked", "signature_invalid")
var TokenValidationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_validations_total",
		Help:      "Total number of bearer token validations, by outcome.",
	},
	[]string{"outcome"},
)

// RefreshTotal counts refresh-token exchanges.
// Label:
//   - outcome: "ok" or a token error kind; "revoked" includes replays
var RefreshTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_refresh_total",
		Help:      "Total number of refresh token exchanges, by outcome.",
	},
	[]string{"outcome"},
)

// ── Authorization ─────────────────────────────────────────────────────────────

// AuthorizationDecisionsTotal counts permission checks made at route level.
// Labels:
//   - permission: "action:resource" key, or a "|"-joined list for any-of checks
//   - decision: "allow" or "deny"
var AuthorizationDecisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "authorization_decisions_total",
		Help:      "Total number of authorization decisions, by permission and decision.",
	},
	[]string{"permission", "decision"},
)

// ── Cache & audit ─────────────────────────────────────────────────────────────

// SessionCacheLookupsTotal counts session cache reads.
// Labels:
//   - kind: "user_state" or "permissions"
//   - result: "hit" or "miss"
var SessionCacheLookupsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_cache_lookups_total",
		Help:      "Total number of session cache lookups, by kind and result.",
	},
	[]string{"kind", "result"},
)

// AuditEventsDroppedTotal counts audit events discarded because the
// dispatcher queue was full or closed.
var AuditEventsDroppedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_events_dropped_total",
		Help:      "Total number of audit events dropped before reaching storage.",
	},
	[]string{"type"},
)

// ObserveCacheLookup records one session cache read.
func ObserveCacheLookup(kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	SessionCacheLookupsTotal.WithLabelValues(kind, result).Inc()
}

// ObserveAuditDrop records one dropped audit event.
func ObserveAuditDrop(event domain.AuditEvent) {
	AuditEventsDroppedTotal.WithLabelValues(string(event.Type)).Inc()
}

// AuthOutcome maps an authentication error onto the outcome label used by
// TokenValidationsTotal and RefreshTotal.
func AuthOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	if kind, ok := domain.TokenErrorKindOf(err); ok {
		return string(kind)
	}
	switch {
	case errors.Is(err, domain.ErrMissingToken):
		return "missing"
	case errors.Is(err, domain.ErrInactiveUser):
		return "inactive"
	case errors.Is(err, domain.ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
