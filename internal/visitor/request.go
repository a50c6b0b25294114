// Package visitor implements the campus visitor-request workflow: form
// validation, ticket issue, staff decisions and change detection between
// snapshots of the shared request collection.
package visitor

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a visitor request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
)

// IDNotProvided is stored when the visitor leaves the ID field blank.
const IDNotProvided = "Not provided"

// Request is one visitor request as persisted in the shared collection.
type Request struct {
	TicketID  string    `json:"ticketId"`
	Name      string    `json:"name"`
	IDNumber  string    `json:"idNumber"`
	Phone     string    `json:"phone"`
	Purpose   string    `json:"purpose"`
	Person    string    `json:"person"`
	Building  string    `json:"building"`
	Duration  string    `json:"duration"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
}

// Decode parses a stored collection. An empty value is an empty collection.
func Decode(value []byte) ([]Request, error) {
	if len(value) == 0 {
		return nil, nil
	}
	var reqs []Request
	if err := json.Unmarshal(value, &reqs); err != nil {
		return nil, fmt.Errorf("decoding visitor requests: %w", err)
	}
	return reqs, nil
}

// Encode serializes the whole collection, preserving order.
func Encode(reqs []Request) ([]byte, error) {
	if reqs == nil {
		reqs = []Request{}
	}
	return json.Marshal(reqs)
}

// ConfirmationMessage is shown to the visitor right after submitting.
func ConfirmationMessage(ticketID string) string {
	return "Thank you! Your visitor request has been submitted to the security office with Ticket ID: " +
		ticketID + ". You will receive a notification here once the status is updated."
}

// StatusNotice is shown on the staff side after a decision.
func StatusNotice(ticketID string, status Status) string {
	return fmt.Sprintf("Visitor request %s has been %s.", ticketID, strings.ToUpper(string(status)))
}

// UpdateNotice is pushed to visitor sessions that hold a stale copy.
func UpdateNotice(ticketID string, status Status) string {
	return fmt.Sprintf("Update on your visitor request %s: The status has been changed to %s.",
		ticketID, strings.ToUpper(string(status)))
}

// TimeAgo renders the age of t relative to now as a short label.
func TimeAgo(t, now time.Time) string {
	minutes := int(now.Sub(t) / time.Minute)
	switch {
	case minutes < 1:
		return "Just now"
	case minutes < 60:
		return fmt.Sprintf("%d min ago", minutes)
	case minutes < 60*24:
		return fmt.Sprintf("%dh ago", minutes/60)
	default:
		return fmt.Sprintf("%dd ago", minutes/(60*24))
	}
}

// Stats summarizes the collection for the staff dashboard.
type Stats struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Denied   int `json:"denied"`
	Today    int `json:"today"`
}

// Summarize counts requests by status. Today counts requests submitted on
// now's calendar date in now's location.
func Summarize(reqs []Request, now time.Time) Stats {
	s := Stats{Total: len(reqs)}
	y, m, d := now.Date()
	for _, r := range reqs {
		switch r.Status {
		case StatusPending:
			s.Pending++
		case StatusApproved:
			s.Approved++
		case StatusDenied:
			s.Denied++
		}
		ry, rm, rd := r.Timestamp.In(now.Location()).Date()
		if ry == y && rm == m && rd == d {
			s.Today++
		}
	}
	return s
}

// ForReview returns a copy with pending requests first, newest first within
// each group.
func ForReview(reqs []Request) []Request {
	out := make([]Request, 0, len(reqs))
	for i := len(reqs) - 1; i >= 0; i-- {
		if reqs[i].Status == StatusPending {
			out = append(out, reqs[i])
		}
	}
	for i := len(reqs) - 1; i >= 0; i-- {
		if reqs[i].Status != StatusPending {
			out = append(out, reqs[i])
		}
	}
	return out
}
