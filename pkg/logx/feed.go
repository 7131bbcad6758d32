package logx

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// FeedLine is one rendered log line as seen by a feed audience.
type FeedLine struct {
	At       time.Time `json:"at"`
	Level    string    `json:"level"`
	Audience string    `json:"audience"`
	Text     string    `json:"text"`
}

// Feed keeps bounded per-audience rings of recent log lines.
//
// Every line lands on the admin ring; lines tagged with Public() additionally
// land on the public ring. The public ring never carries raw error detail
// beyond what the caller chose to expose there.
type Feed struct {
	mu  sync.Mutex
	cfg FeedConfig

	admin  []FeedLine
	public []FeedLine

	limiter *rate.Limiter
	onLine  func(FeedLine)
}

func newFeed(cfg FeedConfig) *Feed {
	f := &Feed{}
	f.apply(cfg)
	return f
}

func (f *Feed) apply(cfg FeedConfig) {
	if cfg.Size <= 0 {
		cfg.Size = 100
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	f.mu.Lock()
	f.cfg = cfg
	f.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	f.mu.Unlock()
}

// OnLine installs a fanout hook invoked for new lines (e.g. to push live
// updates to the HTTP layer). The hook is rate-limited; the rings are not.
func (f *Feed) OnLine(fn func(FeedLine)) {
	f.mu.Lock()
	f.onLine = fn
	f.mu.Unlock()
}

// Recent returns up to limit lines for the given audience, oldest first.
// Unknown audiences resolve to the public view.
func (f *Feed) Recent(audience string, limit int) []FeedLine {
	f.mu.Lock()
	defer f.mu.Unlock()

	src := f.public
	if audience == AudienceAdmin {
		src = f.admin
	}
	if limit <= 0 || limit > len(src) {
		limit = len(src)
	}
	out := make([]FeedLine, limit)
	copy(out, src[len(src)-limit:])
	return out
}

func (f *Feed) append(line FeedLine) {
	f.mu.Lock()
	size := f.cfg.Size
	f.admin = appendBounded(f.admin, line, size)
	if line.Audience == AudiencePublic {
		f.public = appendBounded(f.public, line, size)
	}
	fn := f.onLine
	allow := fn != nil && f.limiter.Allow()
	f.mu.Unlock()

	if allow {
		fn(line)
	}
}

func appendBounded(buf []FeedLine, line FeedLine, size int) []FeedLine {
	buf = append(buf, line)
	if len(buf) > size {
		buf = buf[len(buf)-size:]
	}
	return buf
}

// ---- zerolog sink ----

type feedWriter struct{ feed *Feed }

func (w *feedWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *feedWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if w.feed == nil {
		return len(p), nil
	}
	line, ok := decodeFeedLine(level, p)
	if !ok {
		return len(p), nil
	}
	w.feed.append(line)
	return len(p), nil
}

// decodeFeedLine renders a zerolog JSON line into a flat feed line.
func decodeFeedLine(level zerolog.Level, p []byte) (FeedLine, bool) {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return FeedLine{}, false
	}

	msg, _ := m["message"].(string)
	if msg == "" {
		msg, _ = m["msg"].(string)
	}
	if msg == "" {
		return FeedLine{}, false
	}

	audience := AudienceAdmin
	if a, _ := m[audienceFieldName].(string); a == AudiencePublic {
		audience = AudiencePublic
	}

	at := time.Now()
	if ts, _ := m[zerolog.TimestampFieldName].(string); ts != "" {
		if t, err := time.Parse(consoleTimeFormat, ts); err == nil {
			at = t
		}
	}

	var b strings.Builder
	b.WriteString(msg)

	// Stable key order keeps the feed readable and testable.
	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName,
			zerolog.MessageFieldName, zerolog.CallerFieldName,
			audienceFieldName, "msg":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(fmt.Sprint(m[k]))
	}

	return FeedLine{At: at, Level: level.String(), Audience: audience, Text: b.String()}, true
}
