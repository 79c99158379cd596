package follow

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-follower/internal/errors"
)

func TestGuard_RejectsOverlappingPass(t *testing.T) {
	g := NewGuard()
	entered := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = g.Do("agent", func() error {
			close(entered)
			<-release
			return nil
		})
	}()

	<-entered
	assert.True(t, g.Running("agent"))

	called := false
	err := g.Do("agent", func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, errors.ErrPassInFlight)
	assert.False(t, called)

	require.NoError(t, g.Do("other-agent", func() error { return nil }), "agents are independent")

	close(release)
	wg.Wait()
	assert.False(t, g.Running("agent"))
	assert.NoError(t, g.Do("agent", func() error { return nil }))
}

func TestGuard_PropagatesError(t *testing.T) {
	g := NewGuard()
	want := errors.New("boom")
	assert.Equal(t, want, g.Do("agent", func() error { return want }))
	assert.False(t, g.Running("agent"))
}
