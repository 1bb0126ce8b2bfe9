// Package telegram implements transport.Client on the Telegram Bot API.
//
// The job's password is the bot token. Recipients are resolved with getChat:
// private chats are individuals; groups, supergroups and channels are groups.
//
// getChat only resolves @usernames of public groups and channels. People
// must be given as their numeric chat id, and they must have started a chat
// with the bot before it can message them.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"msgblast/internal/transport"
	logx "msgblast/pkg/logx"
)

const (
	DefaultAPIURL     = "https://api.telegram.org"
	DefaultRatePerSec = 25

	textLimit = 4000
)

type Config struct {
	APIURL     string
	Timeout    time.Duration
	RatePerSec int
}

func (c Config) normalized() Config {
	c.APIURL = strings.TrimRight(strings.TrimSpace(c.APIURL), "/")
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = DefaultRatePerSec
	}
	return c
}

// Factory hands out one Client per job. Apply changes the settings used by
// clients created afterwards.
type Factory struct {
	cfg atomic.Pointer[Config]
	log logx.Logger
}

func NewFactory(cfg Config, log logx.Logger) *Factory {
	if log.IsZero() {
		log = logx.Nop()
	}
	f := &Factory{log: log.With(logx.String("comp", "telegram"))}
	f.Apply(cfg)
	return f
}

func (f *Factory) Apply(cfg Config) {
	n := cfg.normalized()
	f.cfg.Store(&n)
}

func (f *Factory) NewClient() transport.Client {
	cfg := *f.cfg.Load()
	return &Client{
		cfg:     cfg,
		log:     f.log,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

// Client is a single bot session. It is not safe for concurrent use.
type Client struct {
	cfg     Config
	log     logx.Logger
	limiter *rate.Limiter
	http    *http.Client

	bot *tele.Bot
}

func (c *Client) Login(ctx context.Context, username, password string) error {
	token := strings.TrimSpace(password)
	if token == "" {
		return fmt.Errorf("%w: empty bot token", transport.ErrAuth)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	// NewBot verifies the token with getMe.
	b, err := tele.NewBot(tele.Settings{Token: token, URL: c.cfg.APIURL, Client: c.http})
	if err != nil {
		return fmt.Errorf("%w: %w", transport.ErrAuth, err)
	}
	want := strings.TrimPrefix(strings.TrimSpace(username), "@")
	if want != "" && (b.Me == nil || !strings.EqualFold(want, b.Me.Username)) {
		return fmt.Errorf("%w: token does not belong to @%s", transport.ErrAuth, want)
	}
	c.bot = b
	c.log.Debug("bot session opened", logx.String("bot", b.Me.Username))
	return nil
}

// ResolveIndividual succeeds only for private chats, which in practice means
// a numeric chat id.
func (c *Client) ResolveIndividual(ctx context.Context, name string) (transport.Handle, error) {
	chat, err := c.lookup(ctx, name)
	if err != nil {
		return "", err
	}
	if chat.Type != tele.ChatPrivate {
		return "", fmt.Errorf("%w: %s is a %s chat", transport.ErrNotFound, name, chat.Type)
	}
	return handleOf(chat), nil
}

func (c *Client) ResolveGroup(ctx context.Context, name string) (transport.Handle, error) {
	chat, err := c.lookup(ctx, name)
	if err != nil {
		return "", err
	}
	switch chat.Type {
	case tele.ChatGroup, tele.ChatSuperGroup, tele.ChatChannel, tele.ChatChannelPrivate:
		return handleOf(chat), nil
	default:
		return "", fmt.Errorf("%w: %s is a %s chat", transport.ErrNotFound, name, chat.Type)
	}
}

func (c *Client) lookup(ctx context.Context, name string) (*tele.Chat, error) {
	if c.bot == nil {
		return nil, errors.New("telegram: not logged in")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty recipient", transport.ErrNotFound)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var (
		chat *tele.Chat
		err  error
	)
	if id, perr := strconv.ParseInt(name, 10, 64); perr == nil {
		chat, err = c.bot.ChatByID(id)
	} else {
		chat, err = c.bot.ChatByUsername("@" + strings.TrimPrefix(name, "@"))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", transport.ErrNotFound, name, err)
	}
	if chat == nil || chat.ID == 0 {
		return nil, fmt.Errorf("%w: %s", transport.ErrNotFound, name)
	}
	return chat, nil
}

func (c *Client) SendGroup(ctx context.Context, group transport.Handle, text string) error {
	return c.sendText(ctx, group, text)
}

func (c *Client) SendDirect(ctx context.Context, text string, recipients []transport.Handle) error {
	var errs []error
	for _, h := range recipients {
		if err := c.sendText(ctx, h, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Client) sendText(ctx context.Context, to transport.Handle, text string) error {
	if c.bot == nil {
		return fmt.Errorf("%w: not logged in", transport.ErrSend)
	}
	id, err := strconv.ParseInt(string(to), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad chat handle %q", transport.ErrSend, to)
	}
	chat := &tele.Chat{ID: id}
	for _, chunk := range splitText(text, textLimit) {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := c.bot.Send(chat, chunk); err != nil {
			return fmt.Errorf("%w: %w", transport.ErrSend, err)
		}
	}
	return nil
}

func handleOf(chat *tele.Chat) transport.Handle {
	return transport.Handle(strconv.FormatInt(chat.ID, 10))
}

// splitText cuts s into chunks of at most limit runes, preferring a newline
// in the last two thirds of each window.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i-start >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		if chunk := strings.TrimRight(string(rs[start:end]), "\n"); chunk != "" {
			out = append(out, chunk)
		}
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
