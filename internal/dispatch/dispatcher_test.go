package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgblast/internal/delivery"
	"msgblast/internal/job"
	"msgblast/internal/runtime/supervisor"
	logx "msgblast/pkg/logx"
)

// gateRunner blocks every job until release is closed.
type gateRunner struct {
	store   *job.Store
	release chan struct{}

	mu   sync.Mutex
	seen []string
}

func (g *gateRunner) Run(ctx context.Context, id string, req delivery.Request) {
	g.mu.Lock()
	g.seen = append(g.seen, req.Recipient)
	g.mu.Unlock()
	select {
	case <-g.release:
		g.store.Update(id, job.Patch{}.WithStatus(job.StatusDone).WithProgress(100))
	case <-ctx.Done():
		g.store.Update(id, job.Patch{}.WithStatus(job.StatusError))
	}
}

func setup(t *testing.T) (*Dispatcher, *gateRunner, *job.Store) {
	t.Helper()
	store := job.NewStore(nil)
	g := &gateRunner{store: store, release: make(chan struct{})}
	sup := supervisor.New(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sup.Stop(ctx)
	})
	return New(store, g, sup, logx.Nop()), g, store
}

func TestSubmitRegistersQueuedRecordBeforeReturning(t *testing.T) {
	d, g, store := setup(t)

	id := d.Submit(delivery.Request{Recipient: "alice"})

	rec, ok := store.Get(id)
	require.True(t, ok)
	assert.Equal(t, job.StatusQueued, rec.Status)
	assert.Equal(t, "Job queued.", rec.Message)
	assert.Equal(t, 0, rec.Progress)
	assert.Equal(t, []string{id}, d.Running())

	close(g.release)
	require.NoError(t, d.Wait(waitCtx(t)))
	rec, _ = store.Get(id)
	assert.Equal(t, job.StatusDone, rec.Status)
	assert.Equal(t, 0, d.Len())
}

func TestSubmitRunsJobsConcurrently(t *testing.T) {
	d, g, store := setup(t)

	const n = 20
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, d.Submit(delivery.Request{Recipient: "r"}))
	}
	require.Eventually(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return len(g.seen) == n
	}, 5*time.Second, time.Millisecond, "all jobs should be in flight at once")
	assert.Equal(t, n, d.Len())

	close(g.release)
	require.NoError(t, d.Wait(waitCtx(t)))
	for _, id := range ids {
		rec, ok := store.Get(id)
		require.True(t, ok)
		assert.Equal(t, job.StatusDone, rec.Status)
	}
	assert.Empty(t, d.Running())

	snap := d.Snapshot()
	assert.Equal(t, uint64(n), snap.Counters.Started)
	assert.Zero(t, snap.Counters.Active)
	require.Len(t, snap.Names, 1)
	assert.Equal(t, "job", snap.Names[0].Name)
	assert.Equal(t, uint64(n), snap.Names[0].Started)
}

func TestSubmitEndToEndWithEngine(t *testing.T) {
	store := job.NewStore(nil)
	sup := supervisor.New(context.Background())
	c := &echoClient{}
	eng := delivery.NewEngine(store, c, logx.Nop())
	d := New(store, eng, sup, logx.Nop())

	path := t.TempDir() + "/m.txt"
	require.NoError(t, writeFile(path, "hello\nworld\n"))
	id := d.Submit(delivery.Request{Recipient: "alice", MessageFile: path, Label: "X"})

	require.NoError(t, d.Wait(waitCtx(t)))
	rec, _ := store.Get(id)
	assert.Equal(t, job.StatusDone, rec.Status)
	assert.Equal(t, 100, rec.Progress)
	assert.Equal(t, []string{"X hello", "X world"}, c.sent)
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
