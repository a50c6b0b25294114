package visitor

import "fmt"

// DiffMode selects how two snapshots are matched.
type DiffMode string

const (
	// DiffPosition compares requests at equal indexes and reports only the
	// first mismatch.
	DiffPosition DiffMode = "position"
	// DiffTicket matches requests by ticket ID and reports every change.
	DiffTicket DiffMode = "ticket"
)

// ParseDiffMode maps a config value to a DiffMode. Empty means position.
func ParseDiffMode(s string) (DiffMode, error) {
	switch DiffMode(s) {
	case "", DiffPosition:
		return DiffPosition, nil
	case DiffTicket:
		return DiffTicket, nil
	}
	return "", fmt.Errorf("unknown diff mode %q", s)
}

// Change is a request whose status differs between two snapshots.
type Change struct {
	Request Request
	From    Status
}

// Notice renders the visitor-facing update for c.
func (c Change) Notice() string {
	return UpdateNotice(c.Request.TicketID, c.Request.Status)
}

// DiffStatus reports status changes from prev to next.
func DiffStatus(prev, next []Request, mode DiffMode) []Change {
	if mode == DiffTicket {
		return diffByTicket(prev, next)
	}
	for i, r := range next {
		if i >= len(prev) {
			break
		}
		if prev[i].Status != r.Status {
			return []Change{{Request: r, From: prev[i].Status}}
		}
	}
	return nil
}

func diffByTicket(prev, next []Request) []Change {
	before := make(map[string]Status, len(prev))
	for _, r := range prev {
		before[r.TicketID] = r.Status
	}
	var out []Change
	for _, r := range next {
		if old, ok := before[r.TicketID]; ok && old != r.Status {
			out = append(out, Change{Request: r, From: old})
		}
	}
	return out
}
