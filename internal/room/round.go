package room

import (
	"math"
	"sort"
	"time"

	"github.com/Vasu1712/otoge-battle-backend/internal/models"
)

// MaxScore is the largest score a client may submit for either field.
const MaxScore = 99_999_999

// pointsByRank are awarded to the top finishers of a round; everybody else gets 0.
var pointsByRank = []int{2, 1}

func pointsFor(rank int) int {
	if rank >= 1 && rank <= len(pointsByRank) {
		return pointsByRank[rank-1]
	}
	return 0
}

// scoreEntry tracks one player's submissions in the current round.
// latest* is the last thing the client sent; standing* is the last
// submission whose rule-selected value was nonzero, which is what ranks.
type scoreEntry struct {
	latestNormal, latestEx     int64
	standingNormal, standingEx int64
	standingAt                 time.Time
	hasStanding                bool
	finished                   bool
}

type round struct {
	active bool
	scores map[string]*scoreEntry
}

func newRound() *round {
	return &round{scores: make(map[string]*scoreEntry)}
}

func (rd *round) entry(userID string) *scoreEntry {
	e, ok := rd.scores[userID]
	if !ok {
		e = &scoreEntry{}
		rd.scores[userID] = e
	}
	return e
}

func (rd *round) hasStanding() bool {
	for _, e := range rd.scores {
		if e.hasStanding {
			return true
		}
	}
	return false
}

// normalizeScore floors both fields and rejects non-finite or out-of-range values.
func normalizeScore(s models.Score) (normal, ex int64, ok bool) {
	for _, v := range []float64{s.Normal, s.Ex} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > MaxScore {
			return 0, 0, false
		}
	}
	return int64(math.Floor(s.Normal)), int64(math.Floor(s.Ex)), true
}

type rankedScore struct {
	userID string
	entry  *scoreEntry
}

// rank orders standing scores by the rule-selected value, descending.
// Ties go to whoever reached the score first, then to the smaller user id.
func rank(rule models.Rule, scores map[string]*scoreEntry) []rankedScore {
	out := make([]rankedScore, 0, len(scores))
	for id, e := range scores {
		if e.hasStanding {
			out = append(out, rankedScore{userID: id, entry: e})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].entry, out[j].entry
		sa, sb := rule.Pick(a.standingNormal, a.standingEx), rule.Pick(b.standingNormal, b.standingEx)
		if sa != sb {
			return sa > sb
		}
		if !a.standingAt.Equal(b.standingAt) {
			return a.standingAt.Before(b.standingAt)
		}
		return out[i].userID < out[j].userID
	})
	return out
}
