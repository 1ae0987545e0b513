package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// EnrollmentStatus represents the lifecycle of a seat in a class.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentConfirmed EnrollmentStatus = "confirmed"
	EnrollmentWaitlist  EnrollmentStatus = "waitlist"
	EnrollmentCancelled EnrollmentStatus = "cancelled"
)

// Active reports whether the status still holds a seat or a waitlist position.
func (s EnrollmentStatus) Active() bool {
	return s == EnrollmentConfirmed || s == EnrollmentWaitlist
}

// EnrollmentEntry is one booking inside a class ledger.
type EnrollmentEntry struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	Status      EnrollmentStatus `json:"status"`
	BookingDate time.Time        `json:"booking_date"`
	Notes       string           `json:"notes,omitempty"`
	CancelledAt *time.Time       `json:"cancelled_at,omitempty"`
	PromotedAt  *time.Time       `json:"promoted_at,omitempty"`
}

// Ledger is the ordered list of enrollment entries for a class, oldest first.
// It is persisted as a JSONB array on the class row.
type Ledger []EnrollmentEntry

// Value implements driver.Valuer.
func (l Ledger) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	raw, err := json.Marshal([]EnrollmentEntry(l))
	if err != nil {
		return nil, fmt.Errorf("marshal ledger: %w", err)
	}
	return raw, nil
}

// Scan implements sql.Scanner.
func (l *Ledger) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = Ledger{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan ledger: unsupported type %T", src)
	}
	var entries []EnrollmentEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("scan ledger: %w", err)
	}
	if entries == nil {
		entries = []EnrollmentEntry{}
	}
	*l = entries
	return nil
}

// ConfirmedCount returns the number of confirmed entries.
func (l Ledger) ConfirmedCount() int {
	return l.count(EnrollmentConfirmed)
}

// WaitlistCount returns the number of waitlisted entries.
func (l Ledger) WaitlistCount() int {
	return l.count(EnrollmentWaitlist)
}

func (l Ledger) count(status EnrollmentStatus) int {
	n := 0
	for _, e := range l {
		if e.Status == status {
			n++
		}
	}
	return n
}

// AvailableSpots is capacity minus confirmed entries, floored at zero.
func (l Ledger) AvailableSpots(capacity int) int {
	spots := capacity - l.ConfirmedCount()
	if spots < 0 {
		return 0
	}
	return spots
}

// IsFull reports whether no confirmed seat remains.
func (l Ledger) IsFull(capacity int) bool {
	return l.AvailableSpots(capacity) == 0
}

// ActiveIndex returns the index of the user's confirmed or waitlisted entry, or -1.
func (l Ledger) ActiveIndex(userID string) int {
	for i, e := range l {
		if e.UserID == userID && e.Status.Active() {
			return i
		}
	}
	return -1
}

// ActiveEntry returns the user's confirmed or waitlisted entry if one exists.
func (l Ledger) ActiveEntry(userID string) (EnrollmentEntry, bool) {
	if i := l.ActiveIndex(userID); i >= 0 {
		return l[i], true
	}
	return EnrollmentEntry{}, false
}

// LatestEntry returns the most recent entry for the user regardless of status.
func (l Ledger) LatestEntry(userID string) (EnrollmentEntry, bool) {
	for i := len(l) - 1; i >= 0; i-- {
		if l[i].UserID == userID {
			return l[i], true
		}
	}
	return EnrollmentEntry{}, false
}

// ByStatus returns the entries with the given status in ledger order.
func (l Ledger) ByStatus(status EnrollmentStatus) []EnrollmentEntry {
	out := make([]EnrollmentEntry, 0)
	for _, e := range l {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

// Append adds an entry at the tail of the ledger.
func (l *Ledger) Append(entry EnrollmentEntry) {
	*l = append(*l, entry)
}

// Cancel marks the user's active entry cancelled. It returns the entry as it was
// before cancellation and false when the user holds no active entry.
func (l Ledger) Cancel(userID string, at time.Time) (EnrollmentEntry, bool) {
	i := l.ActiveIndex(userID)
	if i < 0 {
		return EnrollmentEntry{}, false
	}
	prev := l[i]
	ts := at
	l[i].Status = EnrollmentCancelled
	l[i].CancelledAt = &ts
	return prev, true
}

// PromoteNext confirms the earliest waitlisted entry when a seat is free.
func (l Ledger) PromoteNext(capacity int, at time.Time) (EnrollmentEntry, bool) {
	if l.IsFull(capacity) {
		return EnrollmentEntry{}, false
	}
	for i := range l {
		if l[i].Status != EnrollmentWaitlist {
			continue
		}
		ts := at
		l[i].Status = EnrollmentConfirmed
		l[i].PromotedAt = &ts
		return l[i], true
	}
	return EnrollmentEntry{}, false
}

// Clone returns a deep copy so callers can mutate without aliasing a loaded row.
func (l Ledger) Clone() Ledger {
	out := make(Ledger, len(l))
	for i, e := range l {
		if e.CancelledAt != nil {
			ts := *e.CancelledAt
			e.CancelledAt = &ts
		}
		if e.PromotedAt != nil {
			ts := *e.PromotedAt
			e.PromotedAt = &ts
		}
		out[i] = e
	}
	return out
}
