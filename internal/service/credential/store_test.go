package credential

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitable-report/internal/domain"
)

func TestMemoryStore(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		s := NewMemoryStore()
		_, ok := s.Get()
		assert.False(t, ok)
	})

	t.Run("replace_then_clear", func(t *testing.T) {
		s := NewMemoryStore()
		c := &domain.Credential{AccessToken: "a"}
		s.Replace(c)
		got, ok := s.Get()
		require.True(t, ok)
		assert.Same(t, c, got)

		s.Clear()
		_, ok = s.Get()
		assert.False(t, ok)
	})

	t.Run("concurrent_readers_see_whole_values", func(t *testing.T) {
		s := NewMemoryStore()
		s.Replace(&domain.Credential{AccessToken: "tok-0", RefreshToken: "ref-0"})

		var wg sync.WaitGroup
		for i := 1; i <= 20; i++ {
			wg.Add(2)
			go func(i int) {
				defer wg.Done()
				s.Replace(&domain.Credential{AccessToken: fmt.Sprintf("tok-%d", i), RefreshToken: fmt.Sprintf("ref-%d", i)})
			}(i)
			go func() {
				defer wg.Done()
				c, ok := s.Get()
				if assert.True(t, ok) {
					assert.Equal(t, c.AccessToken[4:], c.RefreshToken[4:])
				}
			}()
		}
		wg.Wait()
	})
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	a := r.Open("b-session")
	a.Credentials.Replace(&domain.Credential{AccessToken: "x"})
	again := r.Open("b-session")
	got, ok := again.Credentials.Get()
	require.True(t, ok)
	assert.Equal(t, "x", got.AccessToken)

	r.Open("a-session")
	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a-session", snap[0].ID)

	_, ok = r.Lookup("missing")
	assert.False(t, ok)

	r.Close("b-session")
	assert.Equal(t, 1, r.Len())
	_, ok = a.Credentials.Get()
	assert.False(t, ok, "closing a session destroys its credential")
}

func TestRotator_RotateAll(t *testing.T) {
	auth := &fakeAuth{grant: &domain.TokenGrant{AccessToken: "new", RefreshToken: "r2", ExpiresIn: 2 * time.Hour}}
	m, _ := newTestManager(auth)
	reg := NewRegistry()

	withCred := reg.Open("with")
	withCred.Credentials.Replace(&domain.Credential{AccessToken: "old", RefreshToken: "r1"})
	reg.Open("without")
	broken := reg.Open("broken")
	broken.Credentials.Replace(&domain.Credential{AccessToken: "old"})

	rot := NewRotator(m, reg, "@every 1h", discardLogger())
	rotated, failed := rot.RotateAll(context.Background())

	assert.Equal(t, 1, rotated)
	assert.Equal(t, 1, failed)
	c, _ := withCred.Credentials.Get()
	assert.Equal(t, "new", c.AccessToken)
}

func TestRotator_InvalidSchedule(t *testing.T) {
	rot := NewRotator(nil, NewRegistry(), "every now and then", discardLogger())
	require.Error(t, rot.Start(context.Background()))
}
