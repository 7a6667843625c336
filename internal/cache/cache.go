// Handles persistence of cached HTTP responses, grouped in named generations
package cache

import (
	"context"
	"net/http"
)

// Storage holds cache generations. Implementations must be safe for concurrent use.
type Storage interface {
	// opens the generation with this name, creating it if absent
	Open(ctx context.Context, name string) (Generation, error)
	// lists the names of all existing generations
	Names(ctx context.Context) ([]string, error)
	// deletes a generation and all its entries.
	// returns false when no generation had this name
	Delete(ctx context.Context, name string) (bool, error)
	// releases resources held by the storage
	Close() error
}

// Generation is a key/value store of request -> response.
// Requests are keyed by URL (see Key), so only one response is kept per URL.
type Generation interface {
	Name() string
	// returns the stored response for this request.
	// returns nil, nil when nothing is stored
	Match(ctx context.Context, req *http.Request) (*http.Response, error)
	// stores the response, replacing any previous one for the same key.
	// The response body is consumed
	Put(ctx context.Context, req *http.Request, resp *http.Response) error
	// removes the stored response. returns false when nothing was stored
	Delete(ctx context.Context, req *http.Request) (bool, error)
	// lists the requests of all stored entries
	Keys(ctx context.Context) ([]*http.Request, error)
}
