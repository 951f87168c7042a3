package metrics

import (
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/propeval/access-core/internal/core/domain"
)

func TestAuthOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{domain.ErrTokenExpired, "expired"},
		{fmt.Errorf("wrapped: %w", domain.ErrTokenRevoked), "revoked"},
		{domain.ErrMissingToken, "missing"},
		{domain.ErrInactiveUser, "inactive"},
		{fmt.Errorf("lookup: %w: %w", domain.ErrUnavailable, errors.New("io")), "unavailable"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		if got := AuthOutcome(tt.err); got != tt.want {
			t.Errorf("AuthOutcome(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestObserveCacheLookup(t *testing.T) {
	before := counterValue(t, SessionCacheLookupsTotal.WithLabelValues("permissions", "hit"))
	ObserveCacheLookup("permissions", true)
	after := counterValue(t, SessionCacheLookupsTotal.WithLabelValues("permissions", "hit"))
	if after != before+1 {
		t.Fatalf("expected hit counter to grow by 1, got %v -> %v", before, after)
	}
}

func TestObserveAuditDrop(t *testing.T) {
	c := AuditEventsDroppedTotal.WithLabelValues(string(domain.AuditLogin))
	before := counterValue(t, c)
	ObserveAuditDrop(domain.AuditEvent{Type: domain.AuditLogin})
	if got := counterValue(t, c); got != before+1 {
		t.Fatalf("expected drop counter %v, got %v", before+1, got)
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}
