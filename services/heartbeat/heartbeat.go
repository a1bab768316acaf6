// services/heartbeat/heartbeat.go
package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"cloudbutton-go/bus"
)

var TopicState = bus.Topic{"heartbeat", "state"}

// State is published retained on every beat.
type State struct {
	UptimeS int64 `json:"uptime_s"`
	TS      int64 `json:"ts_ms"`
}

type Service struct {
	Interval time.Duration
}

// Start launches the heartbeat loop; it is a no-op for a zero interval.
func (s *Service) Start(ctx context.Context, conn *bus.Connection, log *slog.Logger) {
	if s.Interval <= 0 {
		return
	}
	go s.loop(ctx, conn, log)
}

func (s *Service) loop(ctx context.Context, conn *bus.Connection, log *slog.Logger) {
	started := time.Now()
	tick := time.NewTicker(s.Interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("heartbeat stopping")
			return
		case t := <-tick.C:
			st := State{
				UptimeS: int64(t.Sub(started).Seconds()),
				TS:      t.UnixMilli(),
			}
			conn.Publish(conn.NewMessage(TopicState, st, true))
			log.Debug("heartbeat", "uptime_s", st.UptimeS)
		}
	}
}
