package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"msgblast/internal/job"
	"msgblast/internal/transport"
	logx "msgblast/pkg/logx"
)

// Request is everything one job needs. It is immutable once submitted.
type Request struct {
	Username    string
	Password    string
	Recipient   string
	MessageFile string
	// Interval is the pause after every send attempt.
	Interval time.Duration
	// Label is prefixed to every message line.
	Label string
}

// SendError reports a failed send of message Index (1-based) out of Total.
// It never ends the job.
type SendError struct {
	Index int
	Total int
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("Failed to send message (%d/%d): %v", e.Index, e.Total, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

func (e *SendError) Is(target error) bool { return target == ErrMessageSend }

type Option func(*Engine)

// WithSleep replaces the inter-message pause (tests use a recorder).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) {
		if fn != nil {
			e.sleep = fn
		}
	}
}

// Engine drives a job from queued to done or error, writing every state
// change into the store. One Run call owns one record.
type Engine struct {
	store   *job.Store
	clients transport.Factory
	log     logx.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewEngine(store *job.Store, clients transport.Factory, log logx.Logger, opts ...Option) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{store: store, clients: clients, log: log, sleep: sleepCtx}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run executes the job. It returns only after the record is terminal; no
// failure, panics included, escapes it.
func (e *Engine) Run(ctx context.Context, id string, req Request) {
	start := time.Now()
	log := e.log.With(logx.String("job", id))

	e.update(id, job.Patch{}.WithStatus(job.StatusRunning).WithProgress(0).WithMessage("Starting..."))
	log.Info("job started", logx.String("recipient", req.Recipient), logx.Duration("interval", req.Interval))

	sent, failed, err := e.execute(ctx, id, req, log)
	if err != nil {
		e.update(id, job.Patch{}.WithStatus(job.StatusError).WithMessage(failureMessage(err)))
		log.Error("job failed", logx.Err(err), logx.Int("sent", sent), logx.Int("failed", failed), logx.Duration("dur", time.Since(start)))
		return
	}

	e.update(id, job.Patch{}.WithStatus(job.StatusDone).WithMessage("All messages processed.").WithProgress(100))
	fields := []logx.Field{logx.Int("sent", sent), logx.Int("failed", failed), logx.Duration("dur", time.Since(start))}
	if failed > 0 {
		log.Warn("job finished with failures", fields...)
	} else {
		log.Info("job finished", fields...)
	}
}

func (e *Engine) execute(ctx context.Context, id string, req Request, log logx.Logger) (sent, failed int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{v: r}
		}
	}()

	c := e.clients.NewClient()

	e.update(id, job.Patch{}.WithMessage("Logging in..."))
	if err := c.Login(ctx, req.Username, req.Password); err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	e.update(id, job.Patch{}.WithMessage("Logged in successfully."))

	target, err := ResolveRecipient(ctx, c, req.Recipient)
	if err != nil {
		return 0, 0, err
	}
	if target.Kind == KindGroup {
		e.update(id, job.Patch{}.WithMessage("Group found: "+req.Recipient))
	} else {
		e.update(id, job.Patch{}.WithMessage("Recipient username found: "+req.Recipient))
	}
	log.Debug("recipient resolved", logx.String("kind", target.Kind.String()))

	msgs, err := LoadMessages(req.MessageFile)
	if err != nil {
		return 0, 0, fmt.Errorf("read messages: %w", err)
	}
	total := len(msgs)
	if total == 0 {
		return 0, 0, ErrEmptyBatch
	}

	for i, line := range msgs {
		idx := i + 1
		text := FormatMessage(req.Label, line)
		p := job.Patch{}.WithProgress(idx * 100 / total)
		if serr := send(ctx, c, target, text); serr != nil {
			failed++
			se := &SendError{Index: idx, Total: total, Err: serr}
			p = p.WithMessage(se.Error())
			log.Warn("message send failed", logx.Int("index", idx), logx.Int("total", total), logx.Err(serr))
		} else {
			sent++
			p = p.WithMessage(fmt.Sprintf("Sent (%d/%d)", idx, total))
			log.Debug("message sent", logx.Int("index", idx), logx.Int("total", total), logx.String("kind", target.Kind.String()))
		}
		e.update(id, p)

		// The pause also follows the last message.
		if err := e.sleep(ctx, req.Interval); err != nil {
			return sent, failed, fmt.Errorf("%w: %w", ErrInterrupted, err)
		}
	}
	return sent, failed, nil
}

func send(ctx context.Context, c transport.Client, t Target, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{v: r}
		}
	}()
	if t.Kind == KindGroup {
		return c.SendGroup(ctx, t.Handle, text)
	}
	return c.SendDirect(ctx, text, []transport.Handle{t.Handle})
}

func (e *Engine) update(id string, p job.Patch) { e.store.Update(id, p) }

// FormatMessage prefixes line with label, separated by one space.
func FormatMessage(label, line string) string {
	return strings.TrimSpace(strings.TrimSpace(label) + " " + line)
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, ErrRecipientNotFound):
		return "Recipient username or group not found!"
	case errors.Is(err, ErrEmptyBatch):
		return "Uploaded file contains no messages."
	case errors.Is(err, ErrInterrupted):
		return "Interrupted: shutting down."
	case errors.Is(err, ErrAuthentication):
		return "Login failed: " + strings.TrimPrefix(err.Error(), ErrAuthentication.Error()+": ")
	default:
		return err.Error()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
