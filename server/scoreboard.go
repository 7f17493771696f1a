package server

import (
	"go.uber.org/zap"

	"duel/protocol"
	"duel/world"
)

// Scoreboard counts hits landed per owner.
type Scoreboard struct {
	hits  map[protocol.ClientID]int
	taken map[protocol.ClientID]int
	log   *zap.SugaredLogger
}

func NewScoreboard(log *zap.SugaredLogger) *Scoreboard {
	return &Scoreboard{
		hits:  make(map[protocol.ClientID]int),
		taken: make(map[protocol.ClientID]int),
		log:   log,
	}
}

func (s *Scoreboard) Record(hits []world.HitEvent) {
	for _, h := range hits {
		s.hits[h.Owner]++
		s.taken[h.Victim]++
		s.log.Infow("hit", "tick", h.Tick, "owner", h.Owner, "victim", h.Victim, "score", s.hits[h.Owner])
	}
}

func (s *Scoreboard) Hits(c protocol.ClientID) int {
	return s.hits[c]
}

func (s *Scoreboard) Taken(c protocol.ClientID) int {
	return s.taken[c]
}

// Forget clears c's row when it leaves.
func (s *Scoreboard) Forget(c protocol.ClientID) {
	delete(s.hits, c)
	delete(s.taken, c)
}
