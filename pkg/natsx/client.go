// Package natsx holds the NATS connection defaults shared by conversed
// deployments that run more than one instance.
package natsx

import (
	"github.com/nats-io/nats.go"
)

// NewClient connects to the NATS server at url. Unless overridden, the
// connection identifies itself as "conversed" and enables compression;
// conversation frames are small JSON events that compress well.
func NewClient(url string, opts ...nats.Option) (*nats.Conn, error) {
	if len(opts) == 0 {
		opts = append(opts, nats.Name("conversed"), nats.Compression(true))
	}
	return nats.Connect(url, opts...)
}
