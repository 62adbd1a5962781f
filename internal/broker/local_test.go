package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, sub Subscription) []byte {
	t.Helper()
	select {
	case frame := <-sub.C():
		return frame
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func TestLocalBroker(t *testing.T) {
	ctx := context.Background()

	t.Run("reuses topics by id", func(t *testing.T) {
		b := Local()
		assert.Same(t, b.Topic(ctx, "conv-1"), b.Topic(ctx, "conv-1"))
		assert.NotSame(t, b.Topic(ctx, "conv-1"), b.Topic(ctx, "conv-2"))
	})

	t.Run("fans out to every subscriber", func(t *testing.T) {
		b := Local()
		topic := b.Topic(ctx, "conv-1")

		sub1, err := topic.Subscribe(ctx)
		require.NoError(t, err)
		defer sub1.Unsubscribe()
		sub2, err := topic.Subscribe(ctx)
		require.NoError(t, err)
		defer sub2.Unsubscribe()

		require.NoError(t, topic.Publish(ctx, []byte(`{"ping":1}`)))
		assert.Equal(t, []byte(`{"ping":1}`), recv(t, sub1))
		assert.Equal(t, []byte(`{"ping":1}`), recv(t, sub2))
	})

	t.Run("topics are isolated", func(t *testing.T) {
		b := Local()
		sub, err := b.Topic(ctx, "conv-a").Subscribe(ctx)
		require.NoError(t, err)
		defer sub.Unsubscribe()

		require.NoError(t, b.Topic(ctx, "conv-b").Publish(ctx, []byte("other")))
		select {
		case frame := <-sub.C():
			t.Fatalf("unexpected frame %q", frame)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("preserves publish order per subscriber", func(t *testing.T) {
		b := Local()
		topic := b.Topic(ctx, "conv-1")
		sub, err := topic.Subscribe(ctx)
		require.NoError(t, err)
		defer sub.Unsubscribe()

		for _, frame := range []string{"a", "b", "c"} {
			require.NoError(t, topic.Publish(ctx, []byte(frame)))
		}
		assert.Equal(t, []byte("a"), recv(t, sub))
		assert.Equal(t, []byte("b"), recv(t, sub))
		assert.Equal(t, []byte("c"), recv(t, sub))
	})

	t.Run("unsubscribe closes the channel and leaves the group", func(t *testing.T) {
		b := Local()
		topic := b.Topic(ctx, "conv-1")
		sub, err := topic.Subscribe(ctx)
		require.NoError(t, err)

		sub.Unsubscribe()
		_, open := <-sub.C()
		assert.False(t, open)

		// Publishing afterwards must not panic on the closed channel.
		require.NoError(t, topic.Publish(ctx, []byte("after")))
	})

	t.Run("publish racing unsubscribe never panics", func(t *testing.T) {
		b := Local()
		topic := b.Topic(ctx, "conv-1")

		for i := 0; i < 50; i++ {
			sub, err := topic.Subscribe(ctx)
			require.NoError(t, err)

			done := make(chan struct{})
			go func() {
				defer close(done)
				for j := 0; j < 20; j++ {
					assert.NoError(t, topic.Publish(ctx, []byte("frame")))
				}
			}()
			sub.Unsubscribe()
			<-done
		}
	})

	t.Run("unsubscribe is idempotent", func(t *testing.T) {
		b := Local()
		sub, err := b.Topic(ctx, "conv-1").Subscribe(ctx)
		require.NoError(t, err)
		sub.Unsubscribe()
		sub.Unsubscribe()
	})

	t.Run("slow subscriber is evicted instead of blocking the group", func(t *testing.T) {
		b := Local()
		topic := b.Topic(ctx, "conv-1")

		slow, err := topic.Subscribe(ctx)
		require.NoError(t, err)
		healthy, err := topic.Subscribe(ctx)
		require.NoError(t, err)
		defer healthy.Unsubscribe()

		// Fill the slow subscriber's buffer without draining it.
		for i := 0; i < 60; i++ {
			require.NoError(t, topic.Publish(ctx, []byte("frame")))
			// Keep the healthy subscriber drained.
			select {
			case <-healthy.C():
			default:
			}
		}

		// The slow subscriber's channel ends up closed.
		drained := false
		for !drained {
			select {
			case _, open := <-slow.C():
				if !open {
					drained = true
				}
			case <-time.After(2 * time.Second):
				t.Fatal("slow subscriber was never evicted")
			}
		}
	})
}
