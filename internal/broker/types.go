package broker

import "context"

// Broker hands out topics keyed by conversation id.
type Broker interface {
	Topic(ctx context.Context, id string) Topic
}

// Topic is one conversation's broadcast group.
type Topic interface {
	// Publish fans the frame out to every current subscriber.
	Publish(ctx context.Context, frame []byte) error

	// Subscribe registers a new group member. The subscription's channel
	// closes on Unsubscribe.
	Subscribe(ctx context.Context) (Subscription, error)
}

// Subscription is one group membership.
type Subscription interface {
	ID() string

	// C yields published frames in publish order for this subscriber.
	C() <-chan []byte

	Unsubscribe()
}
