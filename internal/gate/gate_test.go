package gate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(t *testing.T) (*Gate, *time.Time) {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	g := New(NewMemoryStore(), time.Minute)
	g.now = func() time.Time { return now }
	return g, &now
}

func TestCooldownRejectsSecondAttempt(t *testing.T) {
	g, now := newTestGate(t)
	ctx := context.Background()

	out, err := g.Check(ctx, "10.0.0.1", "kit")
	require.NoError(t, err)
	assert.Equal(t, Pass, out)

	require.NoError(t, g.Admit(ctx, "10.0.0.1"))

	out, err = g.Check(ctx, "10.0.0.1", "other")
	require.NoError(t, err)
	assert.Equal(t, Cooldown, out)

	// Another caller is unaffected.
	out, err = g.Check(ctx, "10.0.0.2", "other")
	require.NoError(t, err)
	assert.Equal(t, Pass, out)

	// Waiting past the window frees the slot.
	*now = now.Add(61 * time.Second)
	out, err = g.Check(ctx, "10.0.0.1", "other")
	require.NoError(t, err)
	assert.Equal(t, Pass, out)
}

func TestRejectedRequestsDoNotConsumeSlot(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	// Check alone must not record an attempt.
	out, err := g.Check(ctx, "10.0.0.1", "kit")
	require.NoError(t, err)
	assert.Equal(t, Pass, out)

	out, err = g.Check(ctx, "10.0.0.1", "kit")
	require.NoError(t, err)
	assert.Equal(t, Pass, out)
}

func TestIdempotencyIsCaseInsensitive(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	require.NoError(t, g.MarkProcessed(ctx, "KitViolin"))

	out, err := g.Check(ctx, "10.0.0.1", "kitviolin")
	require.NoError(t, err)
	assert.Equal(t, Duplicate, out)

	out, err = g.Check(ctx, "10.0.0.1", "KITVIOLIN")
	require.NoError(t, err)
	assert.Equal(t, Duplicate, out)
}

func TestCooldownCheckedBeforeDuplicate(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	require.NoError(t, g.MarkProcessed(ctx, "kit"))
	require.NoError(t, g.Admit(ctx, "10.0.0.1"))

	out, err := g.Check(ctx, "10.0.0.1", "kit")
	require.NoError(t, err)
	assert.Equal(t, Cooldown, out)
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.MarkProcessed(ctx, "name")
			_ = s.RecordAttempt(ctx, "caller", time.Now())
		}()
		go func() {
			defer wg.Done()
			_, _ = s.IsProcessed(ctx, "name")
			_, _, _ = s.LastAttempt(ctx, "caller")
		}()
	}
	wg.Wait()

	seen, err := s.IsProcessed(ctx, "name")
	require.NoError(t, err)
	assert.True(t, seen)
}
