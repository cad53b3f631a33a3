package security

import "time"

// Event types recorded in the security event log.
const (
	EventWhitelistReject = "whitelist_reject"
	EventBlockedIP       = "blocked_ip"
	EventBlockedClient   = "blocked_client"
	EventViolation       = "violation"
	EventAutoBlock       = "auto_block_client"
	EventManualBlock     = "manual_block"
	EventManualUnblock   = "manual_unblock"
)

// Event is one entry in the bounded security event log.
type Event struct {
	Time     time.Time `json:"time"`
	Type     string    `json:"type"`
	IP       string    `json:"ip"`
	ClientID uint32    `json:"client_id"`
	Detail   string    `json:"detail,omitempty"`
}

// Stats is a point-in-time summary of the admission controller's state.
type Stats struct {
	TotalClients   int `json:"total_clients"`
	ActiveClients  int `json:"active_clients"`
	BlockedClients int `json:"blocked_clients"`
	BlockedIPs     int `json:"blocked_ips"`
	TrackedIPs     int `json:"tracked_ips"`
	RecentEvents   int `json:"recent_events"`
}

// logEvent appends to the bounded ring. Caller holds mu.
func (m *Manager) logEvent(now time.Time, typ, ip string, clientID uint32, detail string) {
	m.events = append(m.events, Event{
		Time:     now,
		Type:     typ,
		IP:       ip,
		ClientID: clientID,
		Detail:   detail,
	})
	if max := m.cfg.EventLogSize; max > 0 && len(m.events) > max {
		m.events = append(m.events[:0], m.events[len(m.events)-max:]...)
	}
}

// Stats returns a summary snapshot. A client counts as active when seen
// within the last minute.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	s := Stats{
		TotalClients: len(m.clients),
		TrackedIPs:   len(m.ipClients),
		RecentEvents: len(m.events),
	}
	for _, rec := range m.clients {
		if now.Sub(rec.LastSeen) < time.Minute {
			s.ActiveClients++
		}
		if rec.Blocked(now) {
			s.BlockedClients++
		}
	}
	for _, until := range m.blockedIPs {
		if now.Before(until) {
			s.BlockedIPs++
		}
	}
	return s
}

// RecentEvents returns up to limit most recent events, oldest first.
func (m *Manager) RecentEvents(limit int) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 || limit > len(m.events) {
		limit = len(m.events)
	}
	out := make([]Event, limit)
	copy(out, m.events[len(m.events)-limit:])
	return out
}
