package broker

import (
	"context"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/learnloop/converse/pkg/uuidx"
)

const defaultSlowSubscriberTimeout = 100 * time.Millisecond

type localBroker struct {
	topics                *haxmap.Map[string, *localTopic]
	slowSubscriberTimeout time.Duration
}

// Local returns the in-process broker.
func Local() Broker {
	return &localBroker{
		topics:                haxmap.New[string, *localTopic](),
		slowSubscriberTimeout: defaultSlowSubscriberTimeout,
	}
}

func (b *localBroker) Topic(_ context.Context, id string) Topic {
	topic, _ := b.topics.GetOrCompute(id, func() *localTopic {
		return &localTopic{
			id:                    id,
			subscriptions:         haxmap.New[string, *localSubscription](),
			slowSubscriberTimeout: b.slowSubscriberTimeout,
		}
	})
	return topic
}

type localTopic struct {
	id                    string
	subscriptions         *haxmap.Map[string, *localSubscription]
	slowSubscriberTimeout time.Duration
}

func (t *localTopic) Publish(ctx context.Context, frame []byte) error {
	t.subscriptions.ForEach(func(_ string, sub *localSubscription) bool {
		if sub == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		if !sub.send(frame, t.slowSubscriberTimeout) {
			// Gone or channel stayed full; drop the subscriber instead
			// of stalling the whole group.
			sub.Unsubscribe()
		}
		return true
	})
	return nil
}

func (t *localTopic) Subscribe(ctx context.Context) (Subscription, error) {
	id := uuidx.NewString()
	sub := &localSubscription{
		id:      id,
		ctx:     ctx,
		channel: make(chan []byte, 50),
		onClose: func() { t.subscriptions.Del(id) },
	}
	t.subscriptions.Set(id, sub)
	return sub, nil
}

type localSubscription struct {
	id      string
	ctx     context.Context
	channel chan []byte
	onClose func()

	// mu orders sends against Unsubscribe; the channel never closes
	// while a send is in flight.
	mu     sync.Mutex
	closed bool
}

func (s *localSubscription) ID() string { return s.id }

func (s *localSubscription) C() <-chan []byte { return s.channel }

// send reports false when the subscriber is gone or stalled and should
// be dropped from the group.
func (s *localSubscription) send(frame []byte, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.channel <- frame:
		return true
	case <-s.ctx.Done():
		return false
	case <-time.After(timeout):
		return false
	}
}

func (s *localSubscription) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.onClose != nil {
		s.onClose()
	}
	close(s.channel)
}
