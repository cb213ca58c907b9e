package authstate

import (
	"bytes"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usage-telemetry/internal/domain"
)

func TestRedisSubscribeFailureIsLogged(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	var buf bytes.Buffer
	provider := NewRedis(client, "auth:user", "auth:changes", zerolog.New(&buf))

	unsubscribe := provider.OnAuthStateChange(func(*domain.User) {})
	require.Contains(t, buf.String(), "authstate: подписка не удалась")
	assert.Contains(t, buf.String(), `"channel":"auth:changes"`)

	done := make(chan struct{})
	go func() {
		unsubscribe()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("отписка не завершилась")
	}
}
