package remote

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingClient counts account RPCs and can fail the next call with
// ErrAuth.
type countingClient struct {
	Client
	accountCalls atomic.Int32
}

func (c *countingClient) RPC(ctx context.Context, name string, args map[string]interface{}) (json.RawMessage, error) {
	if name == RPCCreateAccountInSpace {
		c.accountCalls.Add(1)
	}
	return c.Client.RPC(ctx, name, args)
}

func TestSessionProvider_CreatesOnce(t *testing.T) {
	client := &countingClient{Client: openTestSQLite(t)}
	p, err := NewSessionProvider(client, SessionConfig{
		SpaceURL:       "file:///vault/",
		SpaceName:      "vault",
		AccountLocalID: "alice",
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	sessions := make([]Session, 10)
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := p.Get(context.Background())
			assert.NoError(t, err)
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	for _, s := range sessions {
		assert.Equal(t, sessions[0], s)
	}
	assert.NotZero(t, sessions[0].SpaceID)
	assert.NotZero(t, sessions[0].CreatorID)
	assert.Equal(t, "file:///vault", sessions[0].SpaceURL, "trailing slash is trimmed")
	assert.Equal(t, "vault", sessions[0].SpaceName)
	assert.LessOrEqual(t, client.accountCalls.Load(), int32(10))

	before := client.accountCalls.Load()
	_, err = p.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, client.accountCalls.Load(), "cached session is reused")
}

func TestSessionProvider_RetriesOnAuthFailure(t *testing.T) {
	client := &countingClient{Client: openTestSQLite(t)}
	p, err := NewSessionProvider(client, SessionConfig{SpaceURL: "file:///v", AccountLocalID: "alice"})
	require.NoError(t, err)

	first, err := p.Get(context.Background())
	require.NoError(t, err)

	calls := 0
	err = p.Do(context.Background(), func(s Session) error {
		calls++
		if calls == 1 {
			return ErrAuth
		}
		assert.Equal(t, first.SpaceID, s.SpaceID, "the same space is rebound")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, int32(2), client.accountCalls.Load())

	boom := errors.New("boom")
	err = p.Do(context.Background(), func(Session) error { return boom })
	assert.True(t, errors.Is(err, boom))
}

func TestNewSessionProvider_Validation(t *testing.T) {
	_, err := NewSessionProvider(nil, SessionConfig{SpaceURL: "x", AccountLocalID: "a"})
	assert.Error(t, err)
	_, err = NewSessionProvider(openTestSQLite(t), SessionConfig{AccountLocalID: "a"})
	assert.Error(t, err)
	_, err = NewSessionProvider(openTestSQLite(t), SessionConfig{SpaceURL: "x"})
	assert.Error(t, err)
}
