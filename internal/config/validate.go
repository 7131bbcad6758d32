package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks cross-field constraints and formats that the strict decode
// cannot catch. A config that fails validation is never committed.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if len(c.Telegram.Recipients) == 0 {
		return errors.New("telegram.recipients must not be empty")
	}

	if f := c.Schedule.Factory; f != nil {
		if _, err := time.LoadLocation(f.Timezone); err != nil {
			return fmt.Errorf("schedule.factory.timezone: %w", err)
		}
		for k, v := range f.DailyTimes {
			if len(k) != 1 || k[0] < '1' || k[0] > '7' {
				return fmt.Errorf("schedule.factory.daily_times: invalid weekday key %q", k)
			}
			if v == nil {
				continue
			}
			if _, err := time.Parse("15:04", *v); err != nil {
				return fmt.Errorf("schedule.factory.daily_times[%s]: invalid time %q", k, *v)
			}
		}
	}

	for _, d := range []struct{ path, raw string }{
		{"dispatch.retry_interval", c.Dispatch.RetryInterval},
		{"dispatch.idle_poll", c.Dispatch.IdlePoll},
	} {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	if a := c.Admin; a != nil && a.Enabled {
		for _, d := range []struct{ path, raw string }{
			{"admin.read_timeout", a.ReadTimeout},
			{"admin.write_timeout", a.WriteTimeout},
		} {
			if _, err := ParseDurationField(d.path, d.raw); err != nil {
				return err
			}
		}
		addr := a.Addr
		if addr == "" {
			addr = "127.0.0.1:8380"
		}
		if a.Token == "" && !isLoopbackAddr(addr) {
			return errors.New("admin.token is required when admin.addr is not loopback")
		}
	}

	if s := c.Storage; s != nil {
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}

func isLoopbackAddr(addr string) bool {
	host := addr
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		host = addr[:i]
	}
	switch host {
	case "", "localhost", "127.0.0.1", "::1", "[::1]":
		return true
	}
	return strings.HasPrefix(host, "127.")
}
