package delivery

import (
	"context"
	"errors"
	"fmt"

	"msgblast/internal/transport"
)

// Kind classifies a resolved recipient.
type Kind int

const (
	KindIndividual Kind = iota
	KindGroup
)

func (k Kind) String() string {
	switch k {
	case KindIndividual:
		return "individual"
	case KindGroup:
		return "group"
	default:
		return "unknown"
	}
}

// Target is a resolved recipient.
type Target struct {
	Kind   Kind
	Handle transport.Handle
}

// lookup is one fallible way of resolving a recipient.
type lookup func(ctx context.Context) (Target, error)

// firstOf runs lookups in order and returns the first success. Failed
// attempts are collected and joined only if every lookup fails.
func firstOf(ctx context.Context, lookups ...lookup) (Target, error) {
	var errs []error
	for _, l := range lookups {
		t, err := safeLookup(ctx, l)
		if err == nil && t.Handle != "" {
			return t, nil
		}
		if err == nil {
			err = errors.New("empty handle")
		}
		errs = append(errs, err)
	}
	return Target{}, errors.Join(errs...)
}

func safeLookup(ctx context.Context, l lookup) (t Target, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{v: r}
		}
	}()
	return l(ctx)
}

// ResolveRecipient decides whether recipient names an individual account or a
// group conversation. Individual accounts win when a name matches both.
func ResolveRecipient(ctx context.Context, c transport.Client, recipient string) (Target, error) {
	individual := func(ctx context.Context) (Target, error) {
		h, err := c.ResolveIndividual(ctx, recipient)
		return Target{Kind: KindIndividual, Handle: h}, err
	}
	group := func(ctx context.Context) (Target, error) {
		h, err := c.ResolveGroup(ctx, recipient)
		return Target{Kind: KindGroup, Handle: h}, err
	}

	t, err := firstOf(ctx, individual, group)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %q: %w", ErrRecipientNotFound, recipient, err)
	}
	return t, nil
}
