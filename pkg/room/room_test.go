package room

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"doc-sync/pkg/db"
	"doc-sync/pkg/oplog"
)

func drain(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case msg, ok := <-c.Outbound():
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestBroadcastReachesAllMembers(t *testing.T) {
	rm := NewRoomManager(zaptest.NewLogger(t).Sugar())
	a, b := NewClient("a", "alice", "writer", 4), NewClient("b", "bob", "reader", 4)
	other := NewClient("c", "carol", "writer", 4)
	rm.Join("doc", a)
	rm.Join("doc", b)
	rm.Join("other", other)

	delivered := rm.Broadcast(context.Background(), "doc", 1, []byte("v1"))

	assert.Equal(t, 2, delivered)
	assert.Equal(t, [][]byte{[]byte("v1")}, drain(a))
	assert.Equal(t, [][]byte{[]byte("v1")}, drain(b))
	assert.Empty(t, drain(other))
}

func TestSlowClientIsDroppedWithoutBlockingOthers(t *testing.T) {
	rm := NewRoomManager(zaptest.NewLogger(t).Sugar())
	slow, fast := NewClient("slow", "s", "reader", 1), NewClient("fast", "f", "reader", 8)
	rm.Join("doc", slow)
	rm.Join("doc", fast)

	rm.Broadcast(context.Background(), "doc", 1, []byte("v1"))
	delivered := rm.Broadcast(context.Background(), "doc", 2, []byte("v2"))

	assert.Equal(t, 1, delivered)
	assert.True(t, slow.Closed())
	assert.Len(t, drain(fast), 2)

	members := rm.Members("doc")
	require.Len(t, members, 1)
	assert.Equal(t, "fast", members[0].ID)
}

func TestVersionGuardSkipsStaleMessages(t *testing.T) {
	c := NewClient("a", "alice", "writer", 8)

	assert.True(t, c.Deliver(3, []byte("v3")))
	assert.True(t, c.Deliver(2, []byte("v2")), "stale message is skipped, not a failure")
	assert.True(t, c.Deliver(3, []byte("v3-again")))
	assert.True(t, c.Enqueue([]byte("undo view")))

	assert.Equal(t, []string{"v3", "v3-again", "undo view"}, toStrings(drain(c)))
}

func TestLeaveIsIdempotent(t *testing.T) {
	rm := NewRoomManager(zaptest.NewLogger(t).Sugar())
	c := NewClient("a", "alice", "writer", 1)
	rm.Join("doc", c)

	assert.True(t, rm.Leave("doc", c))
	assert.False(t, rm.Leave("doc", c))
	assert.True(t, c.Closed())
	assert.Equal(t, 0, rm.RoomCount())
	assert.False(t, c.Enqueue([]byte("late")))
}

func TestConcurrentJoinLeaveBroadcast(t *testing.T) {
	rm := NewRoomManager(zaptest.NewLogger(t).Sugar())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := NewClient(fmt.Sprintf("c%d", i), "u", "reader", 16)
			rm.Join("doc", c)
			rm.Broadcast(context.Background(), "doc", i, []byte("x"))
			rm.Leave("doc", c)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, rm.RoomCount())
}

func TestCloseRoomDisconnectsEveryMember(t *testing.T) {
	rm := NewRoomManager(zaptest.NewLogger(t).Sugar())
	a, b := NewClient("a", "alice", "writer", 4), NewClient("b", "bob", "reader", 4)
	other := NewClient("c", "carol", "writer", 4)
	rm.Join("doc", a)
	rm.Join("doc", b)
	rm.Join("other", other)

	assert.Equal(t, 2, rm.CloseRoom("doc"))

	assert.True(t, a.Closed())
	assert.True(t, b.Closed())
	assert.False(t, other.Closed())
	assert.Empty(t, rm.Members("doc"))
	assert.Equal(t, 1, rm.RoomCount())
	assert.Equal(t, 0, rm.CloseRoom("doc"))
	assert.False(t, rm.Leave("doc", a))
}

type recordingRelay struct {
	mu       sync.Mutex
	versions []int
}

func (r *recordingRelay) Publish(_ context.Context, _ string, version int, _ []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions = append(r.versions, version)
	return nil
}

func TestBroadcastForwardsToRelay(t *testing.T) {
	rm := NewRoomManager(zaptest.NewLogger(t).Sugar())
	relay := &recordingRelay{}
	rm.SetRelay(relay)

	rm.Broadcast(context.Background(), "doc", 7, []byte("v7"))

	assert.Equal(t, []int{7}, relay.versions)
}

func TestRedisRelayDeliversRemoteMessagesOnly(t *testing.T) {
	rm := NewRoomManager(zaptest.NewLogger(t).Sugar())
	c := NewClient("a", "alice", "reader", 8)
	rm.Join("doc", c)

	relay := NewRedisRelay(nil, "test", rm, zaptest.NewLogger(t).Sugar())

	remote, err := json.Marshal(envelope{Origin: "elsewhere", DocumentID: "doc", Version: 2, Payload: json.RawMessage(`{"type":"UPDATE"}`)})
	require.NoError(t, err)
	own, err := json.Marshal(envelope{Origin: relay.origin, DocumentID: "doc", Version: 3, Payload: json.RawMessage(`{"type":"UPDATE"}`)})
	require.NoError(t, err)

	relay.handle(&redis.Message{Channel: "test:document:doc", Payload: string(remote)})
	relay.handle(&redis.Message{Channel: "test:document:doc", Payload: string(own)})
	relay.handle(&redis.Message{Channel: "test:document:doc", Payload: "not json"})

	assert.Equal(t, []string{`{"type":"UPDATE"}`}, toStrings(drain(c)))
}

func TestRedisRelayRemoteVersionRefreshesLocalView(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t).Sugar()
	store := db.NewMemoryDocumentStore()
	doc, err := store.CreateDocument(ctx, "alice", "Doc", db.Content{})
	require.NoError(t, err)

	local := oplog.New(store, oplog.NewMaterializer(store, time.Minute, logger), oplog.Config{}, logger)
	remote := oplog.New(store, oplog.NewMaterializer(store, time.Minute, logger), oplog.Config{}, logger)

	_, _, err = local.Submit(ctx, doc.ID, db.NewContent(db.TextBlock("a", "one")), oplog.SubmitOptions{})
	require.NoError(t, err)
	state, err := local.Materializer().Current(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, 1, state.Version)

	entry, _, err := remote.Submit(ctx, doc.ID, db.NewContent(db.TextBlock("a", "two")), oplog.SubmitOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, entry.Version)

	var seen []int
	relay := NewRedisRelay(nil, "test", NewRoomManager(logger), logger)
	relay.OnRemote(func(documentID string, version int) {
		assert.Equal(t, doc.ID, documentID)
		seen = append(seen, version)
		local.Materializer().Evict(documentID)
	})

	body, err := json.Marshal(envelope{Origin: "elsewhere", DocumentID: doc.ID, Version: 2, Payload: json.RawMessage(`{"type":"UPDATE"}`)})
	require.NoError(t, err)
	relay.handle(&redis.Message{Channel: "test:document:" + doc.ID, Payload: string(body)})

	own, err := json.Marshal(envelope{Origin: relay.origin, DocumentID: doc.ID, Version: 3})
	require.NoError(t, err)
	relay.handle(&redis.Message{Channel: "test:document:" + doc.ID, Payload: string(own)})

	assert.Equal(t, []int{2}, seen)
	state, err = local.Materializer().Current(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, state.Version)
	assert.Equal(t, "two", state.Content.Blocks[0].Text())
}

func TestRedisRelayPublishQueues(t *testing.T) {
	relay := NewRedisRelay(nil, "test", NewRoomManager(zaptest.NewLogger(t).Sugar()), zaptest.NewLogger(t).Sugar())

	require.NoError(t, relay.Publish(context.Background(), "doc", 1, []byte(`{}`)))

	out := <-relay.outbox
	assert.Equal(t, "test:document:doc", out.channel)
	var env envelope
	require.NoError(t, json.Unmarshal(out.body, &env))
	assert.Equal(t, relay.origin, env.Origin)
	assert.Equal(t, 1, env.Version)
}

func toStrings(msgs [][]byte) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, string(m))
	}
	return out
}
