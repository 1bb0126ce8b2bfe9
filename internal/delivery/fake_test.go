package delivery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"msgblast/internal/transport"
)

type sentMessage struct {
	group bool
	to    []transport.Handle
	text  string
}

// fakeClient records every call. Lookups consult the users/groups maps.
type fakeClient struct {
	mu sync.Mutex

	loginErr error
	users    map[string]transport.Handle
	groups   map[string]transport.Handle
	userErr  error
	groupErr error
	// failAt makes the n-th send (1-based) fail.
	failAt      map[int]error
	panicOnSend bool

	calls []string
	sent  []sentMessage
}

func (f *fakeClient) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeClient) Login(ctx context.Context, username, password string) error {
	f.record("login")
	return f.loginErr
}

func (f *fakeClient) ResolveIndividual(ctx context.Context, name string) (transport.Handle, error) {
	f.record("resolve_individual")
	if f.userErr != nil {
		return "", f.userErr
	}
	h, ok := f.users[name]
	if !ok {
		return "", transport.ErrNotFound
	}
	return h, nil
}

func (f *fakeClient) ResolveGroup(ctx context.Context, name string) (transport.Handle, error) {
	f.record("resolve_group")
	if f.groupErr != nil {
		return "", f.groupErr
	}
	h, ok := f.groups[name]
	if !ok {
		return "", transport.ErrNotFound
	}
	return h, nil
}

func (f *fakeClient) send(m sentMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnSend {
		panic("provider exploded")
	}
	f.sent = append(f.sent, m)
	if err := f.failAt[len(f.sent)]; err != nil {
		return err
	}
	return nil
}

func (f *fakeClient) SendGroup(ctx context.Context, group transport.Handle, text string) error {
	f.record("send_group")
	return f.send(sentMessage{group: true, to: []transport.Handle{group}, text: text})
}

func (f *fakeClient) SendDirect(ctx context.Context, text string, recipients []transport.Handle) error {
	f.record("send_direct")
	return f.send(sentMessage{to: append([]transport.Handle(nil), recipients...), text: text})
}

func (f *fakeClient) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.text)
	}
	return out
}

func (f *fakeClient) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

var errBoom = errors.New("boom")

func writeMessages(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "messages.txt")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// recorder captures every pause the engine asks for.
type recorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *recorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.sleeps = append(r.sleeps, d)
	r.mu.Unlock()
	return nil
}
