package replication

//go:generate mockgen -source=interfaces.go -destination=../mocks/mock_replication.go -package=mocks

import (
	"context"

	"github.com/dreamware/profilesync/internal/cluster"
)

// Transport delivers a named message to a participant. Delivery is
// best-effort; the protocol never retries.
type Transport interface {
	Send(ctx context.Context, addr, name string, data []byte) error
}

// Membership enumerates the participants currently connected to the session.
type Membership interface {
	ForEachConnected(fn func(addr string, id cluster.Identity))
}
