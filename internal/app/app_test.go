package app

import (
	"testing"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/pkg/logx"
)

func TestFeedBridgePublishesLogLines(t *testing.T) {
	svc, log := logx.New(logx.Config{
		Level: "debug",
		Feed:  logx.FeedConfig{Enabled: true, Size: 8, RatePerSec: 100},
	})
	defer svc.Close()

	bus := eventbus.New()
	bridgeFeedToBus(svc.FeedSink(), bus)

	events, unsub := bus.Subscribe(4)
	defer unsub()

	log.Info("bridge check", logx.Public())

	select {
	case e := <-events:
		if e.Type != eventbus.TypeLogLine {
			t.Fatalf("type = %q", e.Type)
		}
		line, ok := e.Data.(logx.FeedLine)
		if !ok || line.Text != "bridge check" {
			t.Fatalf("data = %+v", e.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("log line never reached the bus")
	}
}

func TestFeedBridgeNilSafe(t *testing.T) {
	bridgeFeedToBus(nil, eventbus.New())
	bridgeFeedToBus(nil, nil)
}
