package broker

import (
	"context"
	"log/slog"

	"github.com/alphadose/haxmap"
	"github.com/learnloop/converse/pkg/slogx"
	"github.com/learnloop/converse/pkg/uuidx"
	"github.com/nats-io/nats.go"
)

// subjectPrefix namespaces conversation topics on a shared NATS
// deployment.
const subjectPrefix = "converse.chat."

type natsBroker struct {
	client *nats.Conn
	topics *haxmap.Map[string, *natsTopic]
}

// NATS returns a broker that relays frames through the given connection,
// so sessions on different nodes share one broadcast group per
// conversation.
func NATS(client *nats.Conn) Broker {
	return &natsBroker{
		client: client,
		topics: haxmap.New[string, *natsTopic](),
	}
}

func (b *natsBroker) Topic(_ context.Context, id string) Topic {
	top, _ := b.topics.GetOrCompute(id, func() *natsTopic {
		return &natsTopic{
			subject: subjectPrefix + id,
			client:  b.client,
		}
	})
	return top
}

type natsTopic struct {
	client  *nats.Conn
	subject string
}

func (t *natsTopic) Publish(_ context.Context, frame []byte) error {
	return t.client.Publish(t.subject, frame)
}

func (t *natsTopic) Subscribe(_ context.Context) (Subscription, error) {
	channel := make(chan []byte, 50)
	nsub, err := t.client.Subscribe(t.subject, func(msg *nats.Msg) {
		select {
		case channel <- msg.Data:
		default:
			slog.Warn("dropping frame for slow subscriber", slog.String("subject", t.subject))
		}
	})
	if err != nil {
		return nil, err
	}
	nsub.SetClosedHandler(func(_ string) { close(channel) })

	return &natsSubscription{
		id:      uuidx.NewString(),
		sub:     nsub,
		channel: channel,
	}, nil
}

type natsSubscription struct {
	id      string
	sub     *nats.Subscription
	channel chan []byte
}

func (n *natsSubscription) ID() string { return n.id }

func (n *natsSubscription) C() <-chan []byte { return n.channel }

func (n *natsSubscription) Unsubscribe() {
	if err := n.sub.Unsubscribe(); err != nil {
		slog.Error("failed to unsubscribe", slogx.Error(err), slog.String("subscription", n.id))
	}
}
