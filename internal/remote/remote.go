// Package remote defines the thread gateway the dossier engine mirrors into,
// plus the Discord and in-memory implementations of it.
package remote

import (
	"context"
	"errors"
)

// ErrUnresolved reports that a thread or message no longer resolves on the
// remote platform: it was deleted, or is not a thread at all.
var ErrUnresolved = errors.New("remote: unresolved")

// Thread is a live handle to a remote thread.
type Thread struct {
	ID      string
	GuildID string
}

// Message is a live remote message.
type Message struct {
	ID        string
	ChannelID string
	Content   string
	Pinned    bool
}

// Gateway is the set of remote calls the engine performs. Every call is a
// single attempt; implementations must not retry. Lookups return an error
// wrapping ErrUnresolved when the target is gone.
type Gateway interface {
	FetchThread(ctx context.Context, threadID string) (*Thread, error)
	SendMessage(ctx context.Context, thread *Thread, content string) (*Message, error)
	EditMessage(ctx context.Context, thread *Thread, messageID, content string) (*Message, error)
	FetchMessage(ctx context.Context, thread *Thread, messageID string) (*Message, error)
	FetchStarterMessage(ctx context.Context, thread *Thread) (*Message, error)
	PinMessage(ctx context.Context, msg *Message) error
	DeleteMessage(ctx context.Context, thread *Thread, messageID string) error
}
