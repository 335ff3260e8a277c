package schemaregistry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const testChannel = "graph:schema:invalidate"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newRedisBus(t *testing.T, mr *miniredis.Miniredis) *RedisBus {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisBus(client, testChannel, testLogger())
}

func waitSubscribed(t *testing.T, mr *miniredis.Miniredis, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(testChannel)[testChannel] >= n
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedisBusDeliversKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	bus := newRedisBus(t, mr)

	ctx, cancel := context.WithCancel(context.Background())
	var (
		mu   sync.Mutex
		got  []Key
		done = make(chan struct{})
	)
	go func() {
		defer close(done)
		_ = bus.Subscribe(ctx, func(k Key) {
			mu.Lock()
			got = append(got, k)
			mu.Unlock()
		})
	}()
	waitSubscribed(t, mr, 1)

	key := Key{ProjectID: uuid.New(), Kind: KindObject, TypeName: "Person"}
	require.NoError(t, bus.Publish(context.Background(), key))
	mr.Publish(testChannel, "garbage")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Key{key}, got)
}

func TestSchemaWriteInvalidatesOtherInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	store := newFakeStore()
	writer := NewService(store, newRedisBus(t, mr), testLogger())
	reader := NewService(store, newRedisBus(t, mr), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = reader.Listen(ctx)
	}()
	waitSubscribed(t, mr, 1)

	project := uuid.New()
	_, err := writer.Register(context.Background(), project, RegisterInput{Kind: KindObject, TypeName: "Person", JSONSchema: json.RawMessage(personSchema)})
	require.NoError(t, err)

	v1, err := reader.GetValidator(context.Background(), project, KindObject, "Person")
	require.NoError(t, err)
	require.Equal(t, 1, v1.Version)

	_, err = writer.Register(context.Background(), project, RegisterInput{Kind: KindObject, TypeName: "Person", JSONSchema: json.RawMessage(`{}`)})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		v, err := reader.GetValidator(context.Background(), project, KindObject, "Person")
		return err == nil && v.Version == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestLocalBusReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- LocalBus{}.Subscribe(ctx, func(Key) {}) }()
	cancel()
	assert.NoError(t, <-done)
	assert.NoError(t, LocalBus{}.Publish(context.Background(), Key{}))
}
