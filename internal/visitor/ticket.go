package visitor

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// ticketWindow is how long the 6 ms digits take to wrap around.
const ticketWindow = 1000 * time.Second

// TicketGenerator issues IDs of the form VST-<last 6 ms digits><3 random
// digits>. IDs reported taken by the caller are never returned; IDs issued
// by this generator are remembered for one ticketWindow.
type TicketGenerator struct {
	mu     sync.Mutex
	now    func() time.Time
	random func() int
	issued map[string]time.Time
}

func NewTicketGenerator() *TicketGenerator {
	return &TicketGenerator{
		now:    time.Now,
		random: func() int { return rand.IntN(1000) },
		issued: make(map[string]time.Time),
	}
}

func (g *TicketGenerator) candidate(now time.Time) string {
	ms := now.UnixMilli() % 1_000_000
	return fmt.Sprintf("VST-%06d%03d", ms, g.random())
}

func (g *TicketGenerator) prune(now time.Time) {
	for id, at := range g.issued {
		if now.Sub(at) >= ticketWindow {
			delete(g.issued, id)
		}
	}
}

// Next returns a fresh ticket ID. taken may be nil.
func (g *TicketGenerator) Next(taken func(id string) bool) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prune(g.now())
	for {
		now := g.now()
		id := g.candidate(now)
		if _, dup := g.issued[id]; dup {
			continue
		}
		if taken != nil && taken(id) {
			continue
		}
		g.issued[id] = now
		return id
	}
}
