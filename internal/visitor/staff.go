package visitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/campusdesk/internal/storage"
)

// StaffSessionTTL is how long a staff sign-in marker stays valid.
const StaffSessionTTL = 30 * time.Minute

// DefaultStaffSessionKey holds the current staff sign-in marker.
const DefaultStaffSessionKey = "uob_security_session"

// StaffSession marks a signed-in security officer.
type StaffSession struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Token     string    `json:"token"`
	Timestamp time.Time `json:"timestamp"`
}

// IsValid reports whether the marker is still within StaffSessionTTL at now.
func (s StaffSession) IsValid(now time.Time) bool {
	return s.Token != "" && now.Sub(s.Timestamp) < StaffSessionTTL
}

// StaffSessions stores the single staff marker in a KV store.
type StaffSessions struct {
	kv  storage.KV
	key string
	now func() time.Time
}

func NewStaffSessions(kv storage.KV, key string) *StaffSessions {
	if key == "" {
		key = DefaultStaffSessionKey
	}
	return &StaffSessions{kv: kv, key: key, now: time.Now}
}

// Begin records a fresh marker for username, replacing any previous one.
func (s *StaffSessions) Begin(ctx context.Context, username, role string) (StaffSession, error) {
	sess := StaffSession{
		Username:  username,
		Role:      role,
		Token:     uuid.NewString(),
		Timestamp: s.now().UTC(),
	}
	b, err := json.Marshal(sess)
	if err != nil {
		return StaffSession{}, err
	}
	if _, err := s.kv.Put(ctx, s.key, b); err != nil {
		return StaffSession{}, fmt.Errorf("saving staff session: %w", err)
	}
	return sess, nil
}

// Current returns the stored marker if it is still valid.
func (s *StaffSessions) Current(ctx context.Context) (StaffSession, bool, error) {
	entry, err := s.kv.Get(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		return StaffSession{}, false, nil
	}
	if err != nil {
		return StaffSession{}, false, fmt.Errorf("loading staff session: %w", err)
	}
	var sess StaffSession
	if err := json.Unmarshal(entry.Value, &sess); err != nil {
		return StaffSession{}, false, nil
	}
	if !sess.IsValid(s.now()) {
		return StaffSession{}, false, nil
	}
	return sess, true, nil
}
