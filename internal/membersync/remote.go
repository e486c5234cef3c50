// Package membersync keeps a local copy of the member directory in step
// with the remote member store.
//
// A Sync loads the full collection once, then applies the insert, update
// and delete notifications pushed by the store. Writes are sent to the
// store and are not applied locally; the local copy converges when the
// matching notification arrives.
package membersync

import (
	"context"
	"fmt"

	"github.com/evyataryagoni/membermap/internal/models"
)

// Remote is the member store as seen by a client.
type Remote interface {
	List(ctx context.Context) ([]models.Member, error)
	Create(ctx context.Context, draft models.MemberDraft) (*models.Member, error)
	Update(ctx context.Context, id string, patch models.MemberPatch) (*models.Member, error)
	Delete(ctx context.Context, id string) error
	Subscribe(ctx context.Context) (Stream, error)
}

// Stream delivers change notifications in commit order.
// Events is closed when the stream ends; Err then reports why.
type Stream interface {
	Events() <-chan models.ChangeEvent
	Err() error
	Close() error
}

// RemoteError is a non-2xx answer from the member store.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("member store returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}
