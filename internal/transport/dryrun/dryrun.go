// Package dryrun is a provider that accepts everything and only logs.
package dryrun

import (
	"context"
	"fmt"
	"strings"

	"msgblast/internal/transport"
	logx "msgblast/pkg/logx"
)

// Factory creates log-only clients. A recipient starting with '#' resolves
// as a group; anything else resolves as an individual.
type Factory struct {
	log logx.Logger
}

func NewFactory(log logx.Logger) *Factory {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Factory{log: log.With(logx.String("comp", "dryrun"))}
}

func (f *Factory) NewClient() transport.Client { return &client{log: f.log} }

type client struct {
	log  logx.Logger
	user string
}

func (c *client) Login(ctx context.Context, username, password string) error {
	if password == "" {
		return fmt.Errorf("%w: empty password", transport.ErrAuth)
	}
	c.user = username
	c.log.Info("login", logx.String("user", username))
	return nil
}

func (c *client) ResolveIndividual(ctx context.Context, name string) (transport.Handle, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.HasPrefix(name, "#") {
		return "", transport.ErrNotFound
	}
	return transport.Handle(strings.TrimPrefix(name, "@")), nil
}

func (c *client) ResolveGroup(ctx context.Context, name string) (transport.Handle, error) {
	name = strings.TrimSpace(name)
	if !strings.HasPrefix(name, "#") || len(name) == 1 {
		return "", transport.ErrNotFound
	}
	return transport.Handle(name), nil
}

func (c *client) SendGroup(ctx context.Context, group transport.Handle, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.log.Info("send", logx.String("from", c.user), logx.String("group", string(group)), logx.String("text", text))
	return nil
}

func (c *client) SendDirect(ctx context.Context, text string, recipients []transport.Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, r := range recipients {
		c.log.Info("send", logx.String("from", c.user), logx.String("to", string(r)), logx.String("text", text))
	}
	return nil
}
