package dispatch

import (
	"context"
	"os"

	"msgblast/internal/transport"
)

// echoClient accepts every login and recipient and records sent texts.
type echoClient struct {
	sent []string
}

func (c *echoClient) NewClient() transport.Client { return c }

func (c *echoClient) Login(ctx context.Context, username, password string) error { return nil }

func (c *echoClient) ResolveIndividual(ctx context.Context, name string) (transport.Handle, error) {
	return transport.Handle("id-" + name), nil
}

func (c *echoClient) ResolveGroup(ctx context.Context, name string) (transport.Handle, error) {
	return "", transport.ErrNotFound
}

func (c *echoClient) SendGroup(ctx context.Context, group transport.Handle, text string) error {
	c.sent = append(c.sent, text)
	return nil
}

func (c *echoClient) SendDirect(ctx context.Context, text string, recipients []transport.Handle) error {
	c.sent = append(c.sent, text)
	return nil
}

func writeFile(path, body string) error { return os.WriteFile(path, []byte(body), 0o600) }
