package catalog

import (
	"context"
	"time"
)

// FetchPort executes one page fetch against the retail site and returns the
// extracted listings. Implementations own browser/session mechanics; the
// orchestration core only sees the result or a *FetchError.
type FetchPort interface {
	FetchPage(ctx context.Context, unit CrawlUnit, target CategoryTarget) (FetchResult, error)
}

// SessionFetchPort is a FetchPort whose sessions are bound to store lanes.
// The scheduler closes a store's session when its lane drains.
type SessionFetchPort interface {
	FetchPort
	CloseStore(ctx context.Context, store StoreID) error
}

// ArtifactStore archives raw fetched payloads and returns a URI.
type ArtifactStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes run events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for artifact content addressing.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
