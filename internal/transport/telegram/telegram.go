package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"remindbot/internal/transport"
	"remindbot/pkg/logx"
)

type Config struct {
	Token string
	// RatePerSec caps outbound sends (Telegram allows ~30 msg/s globally).
	RatePerSec float64
	// ProbeTimeout bounds the getMe state probe.
	ProbeTimeout time.Duration
}

// Channel is a send-only Telegram transport. It never starts a poll loop;
// delivery and the getMe state probe are the whole surface.
type Channel struct {
	cfg     Config
	log     logx.Logger
	bot     *tele.Bot
	limiter *rate.Limiter
}

var _ transport.Channel = (*Channel)(nil)

func New(cfg Config, log logx.Logger) (*Channel, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 8 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	// Offline keeps NewBot from calling getMe at construction time, so a
	// network outage at boot does not prevent startup. The first State()
	// probe reports the real situation.
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token, Offline: true})
	if err != nil {
		return nil, err
	}
	return &Channel{
		cfg:     cfg,
		log:     log,
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
	}, nil
}

func (c *Channel) Name() string { return "telegram" }

// State probes the Bot API with getMe. A 401 means the token was revoked and
// retrying will not help, so it is surfaced as its own state.
func (c *Channel) State(ctx context.Context) transport.ConnState {
	if ctx == nil {
		ctx = context.Background()
	}
	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { _, err := c.bot.Raw("getMe", nil); done <- err }()

	select {
	case <-probeCtx.Done():
		return transport.StateConnecting
	case err := <-done:
		if err == nil {
			return transport.StateConnected
		}
		var apiErr *tele.Error
		if errors.As(err, &apiErr) && apiErr.Code == 401 {
			c.log.Error("telegram token rejected", logx.Err(err))
			return transport.StateAuthFailed
		}
		c.log.Warn("telegram state probe failed", logx.Err(err))
		return transport.StateDisconnected
	}
}

// SendToAll delivers text to every recipient chat. Sends are rate limited;
// per-recipient failures do not stop the fanout and are reported joined.
func (c *Channel) SendToAll(ctx context.Context, recipients []string, text string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var errs []error
	for _, raw := range recipients {
		chatID, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("bad recipient %q: %w", raw, err))
			continue
		}
		if err := c.limiter.Wait(ctx); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := c.bot.Send(&tele.Chat{ID: chatID}, text); err != nil {
			c.log.Warn("telegram send failed", logx.Int64("chat_id", chatID), logx.Err(err))
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
			continue
		}
		c.log.Debug("telegram message delivered", logx.Int64("chat_id", chatID))
	}
	return errors.Join(errs...)
}
