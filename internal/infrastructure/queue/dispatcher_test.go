package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propeval/access-core/internal/core/domain"
)

type recordingRepo struct {
	mu        sync.Mutex
	events    []domain.AuditEvent
	failFirst int
}

func (r *recordingRepo) Insert(_ context.Context, e *domain.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failFirst > 0 {
		r.failFirst--
		return errors.New("mongo down")
	}
	r.events = append(r.events, *e)
	return nil
}

func (r *recordingRepo) snapshot() []domain.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.AuditEvent(nil), r.events...)
}

func TestDispatcher_DeliversInPerUserOrder(t *testing.T) {
	repo := &recordingRepo{}
	d := NewDispatcher(4, repo, zerolog.Nop())
	d.Start(context.Background())

	users := []string{"u1", "u2", "u3"}
	for i := 0; i < 30; i++ {
		for _, u := range users {
			d.Emit(domain.AuditEvent{
				Type:     domain.AuditLogin,
				UserID:   u,
				Metadata: map[string]string{"seq": fmt.Sprint(i)},
			})
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))

	got := repo.snapshot()
	require.Len(t, got, 90)

	next := map[string]int{}
	for _, e := range got {
		assert.Equal(t, fmt.Sprint(next[e.UserID]), e.Metadata["seq"], "out of order for %s", e.UserID)
		next[e.UserID]++
	}
}

func TestDispatcher_DropsWhenQueueFull(t *testing.T) {
	var dropped atomic.Int32
	d := NewDispatcher(1, &recordingRepo{}, zerolog.Nop(),
		WithBuffer(2),
		WithDropHandler(func(domain.AuditEvent) { dropped.Add(1) }),
	)

	// Not started: nothing drains the queue.
	for i := 0; i < 5; i++ {
		d.Emit(domain.AuditEvent{Type: domain.AuditLogin, UserID: "u1"})
	}
	assert.Equal(t, int32(3), dropped.Load())
}

func TestDispatcher_EmitAfterShutdownIsDropped(t *testing.T) {
	var dropped atomic.Int32
	repo := &recordingRepo{}
	d := NewDispatcher(2, repo, zerolog.Nop(), WithDropHandler(func(domain.AuditEvent) { dropped.Add(1) }))
	d.Start(context.Background())
	require.NoError(t, d.Shutdown(context.Background()))
	require.NoError(t, d.Shutdown(context.Background()))

	assert.NotPanics(t, func() { d.Emit(domain.AuditEvent{Type: domain.AuditLogin, UserID: "u1"}) })
	assert.Equal(t, int32(1), dropped.Load())
	assert.Empty(t, repo.snapshot())
}

func TestDispatcher_WriteFailureDoesNotStopWorker(t *testing.T) {
	repo := &recordingRepo{failFirst: 1}
	d := NewDispatcher(1, repo, zerolog.Nop())
	d.Start(context.Background())

	d.Emit(domain.AuditEvent{Type: domain.AuditLogin, UserID: "u1"})
	d.Emit(domain.AuditEvent{Type: domain.AuditLogoutAll, UserID: "u1"})

	require.NoError(t, d.Shutdown(context.Background()))
	got := repo.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, domain.AuditLogoutAll, got[0].Type)
}

func TestShardIndex_Deterministic(t *testing.T) {
	d := NewDispatcher(8, &recordingRepo{}, zerolog.Nop())
	for _, u := range []string{"", "u1", "65f0c0ffee"} {
		first := d.shardIndex(u)
		assert.Equal(t, first, d.shardIndex(u))
		assert.True(t, first >= 0 && first < 8)
	}
}
