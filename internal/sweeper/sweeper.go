// Package sweeper periodically reclaims idle rooms and identities.
package sweeper

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
)

// Target is whatever owns the rooms and users being swept.
type Target interface {
	SweepRooms(now time.Time, idle time.Duration) int
	SweepUsers(now time.Time, idle time.Duration) int
}

type Sweeper struct {
	target   Target
	clock    clock.Clock
	interval time.Duration
	roomIdle time.Duration
	userIdle time.Duration
}

func New(target Target, clk clock.Clock, interval, roomIdle, userIdle time.Duration) *Sweeper {
	if clk == nil {
		clk = clock.New()
	}
	return &Sweeper{target: target, clock: clk, interval: interval, roomIdle: roomIdle, userIdle: userIdle}
}

// Run sweeps once per interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Msg("[sweeper] started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("[sweeper] stopped")
			return
		case now := <-ticker.C:
			s.Sweep(now)
		}
	}
}

// Sweep runs one pass and reports how many rooms and users it removed.
func (s *Sweeper) Sweep(now time.Time) (rooms, users int) {
	rooms = s.target.SweepRooms(now, s.roomIdle)
	users = s.target.SweepUsers(now, s.userIdle)
	if rooms > 0 || users > 0 {
		log.Info().Int("rooms", rooms).Int("users", users).Msg("[sweeper] reclaimed idle state")
	}
	return rooms, users
}
