package sessions

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nais/vpn-forwarder/pkg/types"
)

// timestampLayout Naive UTC with microseconds, the format the login service has always written.
const timestampLayout = "2006-01-02T15:04:05.000000"

var readLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
}

var errMalformed = errors.New("malformed session record")

// document The on-disk session document shared with the login service.
type document struct {
	Sessions     map[string]*record      `json:"sessions"`
	UserMappings map[string]*userMapping `json:"user_mappings"`

	// dropped Records that could not be decoded. They are gone from the document and counted by the next purge.
	dropped int
}

// UnmarshalJSON Decode every session and user mapping on its own, so one unreadable record does not take the rest
// of the document with it.
func (d *document) UnmarshalJSON(data []byte) error {
	var raw struct {
		Sessions     map[string]json.RawMessage `json:"sessions"`
		UserMappings map[string]json.RawMessage `json:"user_mappings"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	d.Sessions = make(map[string]*record, len(raw.Sessions))
	for id, value := range raw.Sessions {
		rec := &record{}
		if err := json.Unmarshal(value, rec); err != nil {
			d.dropped++
			continue
		}
		d.Sessions[id] = rec
	}

	d.UserMappings = make(map[string]*userMapping, len(raw.UserMappings))
	for username, value := range raw.UserMappings {
		mapping := &userMapping{}
		if err := json.Unmarshal(value, mapping); err != nil {
			continue
		}
		d.UserMappings[username] = mapping
	}
	return nil
}

type userMapping struct {
	TargetPort types.TargetID `json:"target_port,omitempty"`
	TargetID   types.TargetID `json:"target_id,omitempty"`
}

func (m *userMapping) target() types.TargetID {
	if m.TargetID != "" {
		return m.TargetID
	}
	return m.TargetPort
}

type record struct {
	Username       string         `json:"username"`
	Token          string         `json:"token"`
	TargetPort     types.TargetID `json:"target_port,omitempty"`
	TargetID       types.TargetID `json:"target_id,omitempty"`
	CreatedAt      string         `json:"created_at,omitempty"`
	LastActivity   string         `json:"last_activity,omitempty"`
	ExpiresAt      string         `json:"expires_at,omitempty"`
	TimeoutMinutes *int           `json:"timeout_minutes,omitempty"`
	Active         *bool          `json:"active,omitempty"`
}

func newDocument() *document {
	return &document{
		Sessions:     make(map[string]*record),
		UserMappings: make(map[string]*userMapping),
	}
}

func (d *document) normalize() {
	if d.Sessions == nil {
		d.Sessions = make(map[string]*record)
	}
	if d.UserMappings == nil {
		d.UserMappings = make(map[string]*userMapping)
	}
	for id, rec := range d.Sessions {
		if rec == nil {
			delete(d.Sessions, id)
		}
	}
}

// ids Session ids in a stable order, so sweeps are deterministic.
func (d *document) ids() []string {
	ids := make([]string, 0, len(d.Sessions))
	for id := range d.Sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// parseTimestamp Accept ISO-8601 timestamps with or without offset. Timestamps without offset are UTC.
func parseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: empty timestamp", errMalformed)
	}
	for _, layout := range readLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: timestamp %q", errMalformed, value)
}

func (r *record) active() bool {
	return r.Active == nil || *r.Active
}

func (r *record) target() types.TargetID {
	if r.TargetID != "" {
		return r.TargetID
	}
	return r.TargetPort
}

// toSession Convert a stored record. A record without a readable activity timestamp (falling back to its creation
// timestamp) is malformed.
func (r *record) toSession(id string) (*Session, error) {
	s := &Session{
		ID:             id,
		Username:       r.Username,
		Token:          r.Token,
		Target:         r.target(),
		TimeoutMinutes: DefaultTimeoutMinutes,
		Active:         r.active(),
	}
	if r.TimeoutMinutes != nil {
		s.TimeoutMinutes = *r.TimeoutMinutes
	}

	activity := r.LastActivity
	if activity == "" {
		activity = r.CreatedAt
	}
	lastActivity, err := parseTimestamp(activity)
	if err != nil {
		return nil, err
	}
	s.LastActivity = lastActivity

	if createdAt, err := parseTimestamp(r.CreatedAt); err == nil {
		s.CreatedAt = createdAt
	} else {
		s.CreatedAt = lastActivity
	}

	return s, nil
}

func fromSession(s *Session) *record {
	timeout := s.TimeoutMinutes
	active := s.Active
	return &record{
		Username:       s.Username,
		Token:          s.Token,
		TargetPort:     s.Target,
		CreatedAt:      formatTimestamp(s.CreatedAt),
		LastActivity:   formatTimestamp(s.LastActivity),
		TimeoutMinutes: &timeout,
		Active:         &active,
	}
}

// touch The lookup sweep. Reports whether the document was modified.
func (d *document) touch(username, token string, now time.Time) (*Session, bool) {
	changed := false
	for _, id := range d.ids() {
		rec := d.Sessions[id]
		if rec.Username != username || rec.Token != token || !rec.active() {
			continue
		}

		session, err := rec.toSession(id)
		if err != nil {
			delete(d.Sessions, id)
			changed = true
			continue
		}

		if !session.Valid(now) {
			inactive := false
			rec.Active = &inactive
			changed = true
			continue
		}

		rec.LastActivity = formatTimestamp(now)
		session.LastActivity = now.UTC()
		return session, true
	}
	return nil, changed
}

// create Insert a session, evicting every other session of the same user.
func (d *document) create(s *Session) {
	for id, rec := range d.Sessions {
		if rec.Username == s.Username {
			delete(d.Sessions, id)
		}
	}
	d.Sessions[s.ID] = fromSession(s)
}

// purge Remove inactive, expired and malformed records.
func (d *document) purge(now time.Time) int {
	removed := d.dropped
	d.dropped = 0
	for id, rec := range d.Sessions {
		session, err := rec.toSession(id)
		if err != nil || !session.Valid(now) {
			delete(d.Sessions, id)
			removed++
		}
	}
	return removed
}

func (d *document) userTarget(username string, now time.Time) (types.TargetID, bool) {
	if mapping, ok := d.UserMappings[username]; ok && mapping != nil && mapping.target() != "" {
		return mapping.target(), true
	}
	for _, id := range d.ids() {
		rec := d.Sessions[id]
		if rec.Username != username {
			continue
		}
		session, err := rec.toSession(id)
		if err != nil || !session.Valid(now) || session.Target == "" {
			continue
		}
		return session.Target, true
	}
	return "", false
}
