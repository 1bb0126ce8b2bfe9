package transport

import (
	"context"
	"errors"
)

// Failures reported by provider clients. Implementations wrap the underlying
// cause with %w so callers can match with errors.Is.
var (
	ErrAuth     = errors.New("login rejected")
	ErrNotFound = errors.New("not found")
	ErrSend     = errors.New("send failed")
)

// Handle identifies a resolved account or conversation on the provider side.
type Handle string

// Client is one provider session. A job owns its client exclusively; clients
// need not be safe for concurrent use.
type Client interface {
	Login(ctx context.Context, username, password string) error

	ResolveIndividual(ctx context.Context, name string) (Handle, error)
	ResolveGroup(ctx context.Context, name string) (Handle, error)

	// SendGroup posts text into a group conversation.
	SendGroup(ctx context.Context, group Handle, text string) error
	// SendDirect sends text as a direct message to every recipient.
	SendDirect(ctx context.Context, text string, recipients []Handle) error
}

// Factory creates a fresh, logged-out client.
type Factory interface {
	NewClient() Client
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func() Client

func (f FactoryFunc) NewClient() Client { return f() }
