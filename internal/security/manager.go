// Package security implements the host's admission controller: token-bucket
// rate limiting per client and per source IP, replay-window timestamp
// validation, client-count caps, and block lists with auto-escalation.
package security

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rejection reasons returned by Check. Callers and tests match on these.
const (
	ReasonNotWhitelisted = "not whitelisted"
	ReasonIPBlocked      = "IP blocked"
	ReasonClientBlocked  = "client blocked"
	ReasonBadTimestamp   = "invalid timestamp"
	ReasonIPRateLimit    = "IP rate limit exceeded"
	ReasonClientRate     = "client rate limit exceeded"
	ReasonTooManyClients = "too many clients from IP"
)

// ClientRecord tracks one client identifier ever observed, created on its
// first packet whether that packet was admitted or rejected.
type ClientRecord struct {
	ClientID     uint32
	IP           string
	FirstSeen    time.Time
	LastSeen     time.Time
	PacketCount  uint64
	Violations   int
	BlockedUntil time.Time
}

// Blocked reports whether the record is blocked as of now.
func (c *ClientRecord) Blocked(now time.Time) bool {
	return now.Before(c.BlockedUntil)
}

// bucket pairs a token-bucket limiter with a last-use stamp so idle entries
// can be swept.
type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Manager is the admission controller. All mutable state lives behind one
// mutex: the receive loop calls Check from a single goroutine, while
// operator calls (BlockIP, Stats, ...) arrive from the control socket.
type Manager struct {
	cfg Config

	mu            sync.Mutex
	clients       map[uint32]*ClientRecord
	ipClients     map[string]map[uint32]struct{}
	clientBuckets map[uint32]*bucket
	ipBuckets     map[string]*bucket
	blockedIPs    map[string]time.Time
	whitelist     map[string]struct{}
	events        []Event
	lastSweep     time.Time
}

// NewManager creates an admission controller with the given configuration.
func NewManager(cfg Config) *Manager {
	wl := make(map[string]struct{}, len(cfg.WhitelistIPs))
	for _, ip := range cfg.WhitelistIPs {
		wl[ip] = struct{}{}
	}
	return &Manager{
		cfg:           cfg,
		clients:       make(map[uint32]*ClientRecord),
		ipClients:     make(map[string]map[uint32]struct{}),
		clientBuckets: make(map[uint32]*bucket),
		ipBuckets:     make(map[string]*bucket),
		blockedIPs:    make(map[string]time.Time),
		whitelist:     wl,
		lastSweep:     time.Now(),
	}
}

// Check decides whether a packet from clientID at ip with the given origin
// timestamp (nanoseconds) is admitted. The checks run in a fixed order and
// the first failure wins. Returns (false, reason) on rejection.
func (m *Manager) Check(clientID uint32, ip string, originTS uint64) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()

	if now.Sub(m.lastSweep) > m.cfg.SweepInterval {
		m.sweep(now)
	}

	// 1. Whitelist override.
	if m.cfg.EnableWhitelist {
		if _, ok := m.whitelist[ip]; !ok {
			m.logEvent(now, EventWhitelistReject, ip, clientID, "")
			return false, ReasonNotWhitelisted
		}
	}

	// 2. IP block. Expired entries are purged lazily.
	if until, ok := m.blockedIPs[ip]; ok {
		if now.Before(until) {
			m.logEvent(now, EventBlockedIP, ip, clientID, "")
			return false, ReasonIPBlocked
		}
		delete(m.blockedIPs, ip)
	}

	// 3. Client block.
	if rec, ok := m.clients[clientID]; ok && rec.Blocked(now) {
		m.logEvent(now, EventBlockedClient, ip, clientID, "")
		return false, ReasonClientBlocked
	}

	// 4. Replay/staleness window.
	age := now.Sub(time.Unix(0, int64(originTS)))
	if age > m.cfg.MaxTimestampAge || age < -m.cfg.MaxTimestampFuture {
		m.recordViolation(now, clientID, ip, "invalid_timestamp")
		return false, ReasonBadTimestamp
	}

	// 5. Per-IP bucket. Exhaustion here is not a client violation: one noisy
	// peer behind a shared NAT must not get its siblings auto-blocked.
	if !m.takeToken(m.ipBucket(ip), now) {
		m.logEvent(now, EventViolation, ip, clientID, "ip_rate_limit")
		return false, ReasonIPRateLimit
	}

	// 6. Per-client bucket.
	if !m.takeToken(m.clientBucket(clientID), now) {
		m.recordViolation(now, clientID, ip, "client_rate_limit")
		return false, ReasonClientRate
	}

	// 7. Per-IP client-count cap.
	if !m.admitClientToIP(clientID, ip) {
		m.recordViolation(now, clientID, ip, "too_many_clients")
		return false, ReasonTooManyClients
	}

	m.touchClient(now, clientID, ip)
	return true, ""
}

func (m *Manager) ipBucket(ip string) *bucket {
	b, ok := m.ipBuckets[ip]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(m.cfg.IPRate), m.cfg.IPBurst)}
		m.ipBuckets[ip] = b
	}
	return b
}

func (m *Manager) clientBucket(clientID uint32) *bucket {
	b, ok := m.clientBuckets[clientID]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(m.cfg.ClientRate), m.cfg.ClientBurst)}
		m.clientBuckets[clientID] = b
	}
	return b
}

func (m *Manager) takeToken(b *bucket, now time.Time) bool {
	b.lastSeen = now
	return b.lim.AllowN(now, 1)
}

func (m *Manager) admitClientToIP(clientID uint32, ip string) bool {
	set, ok := m.ipClients[ip]
	if !ok {
		set = make(map[uint32]struct{})
		m.ipClients[ip] = set
	}
	if _, known := set[clientID]; known {
		return true
	}
	if len(set) >= m.cfg.MaxClientsPerIP {
		return false
	}
	set[clientID] = struct{}{}
	return true
}

// touchClient updates bookkeeping for an admitted packet.
func (m *Manager) touchClient(now time.Time, clientID uint32, ip string) {
	rec, ok := m.clients[clientID]
	if !ok {
		rec = &ClientRecord{ClientID: clientID, IP: ip, FirstSeen: now}
		m.clients[clientID] = rec
	}
	rec.IP = ip
	rec.LastSeen = now
	rec.PacketCount++
}

// recordViolation charges a rejection to the client and auto-blocks once the
// threshold is reached. Violations are sticky until inactivity eviction;
// they do not decay by time alone.
func (m *Manager) recordViolation(now time.Time, clientID uint32, ip string, detail string) {
	rec, ok := m.clients[clientID]
	if !ok {
		rec = &ClientRecord{ClientID: clientID, IP: ip, FirstSeen: now, LastSeen: now}
		m.clients[clientID] = rec
	}
	rec.Violations++
	if rec.Violations >= m.cfg.AutoBlockThreshold && !rec.Blocked(now) {
		rec.BlockedUntil = now.Add(m.cfg.BlockDuration)
		m.logEvent(now, EventAutoBlock, ip, clientID, detail)
	}
	m.logEvent(now, EventViolation, ip, clientID, detail)
}

// sweep purges expired IP blocks, inactive client records that are not
// blocked, and per-IP state left empty by those evictions. Caller holds mu.
func (m *Manager) sweep(now time.Time) {
	m.lastSweep = now

	for ip, until := range m.blockedIPs {
		if !now.Before(until) {
			delete(m.blockedIPs, ip)
		}
	}

	cutoff := now.Add(-m.cfg.ClientTTL)
	for id, rec := range m.clients {
		if rec.LastSeen.Before(cutoff) && !rec.Blocked(now) {
			if set, ok := m.ipClients[rec.IP]; ok {
				delete(set, id)
			}
			delete(m.clients, id)
			delete(m.clientBuckets, id)
		}
	}

	for ip, set := range m.ipClients {
		if len(set) == 0 {
			delete(m.ipClients, ip)
			delete(m.ipBuckets, ip)
		}
	}

	for ip, b := range m.ipBuckets {
		if b.lastSeen.Before(cutoff) {
			delete(m.ipBuckets, ip)
		}
	}
}

// BlockIP blocks an address for the given duration (config default when
// zero). Safe to call concurrently with the receive path.
func (m *Manager) BlockIP(ip string, duration time.Duration) {
	if duration <= 0 {
		duration = m.cfg.BlockDuration
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.blockedIPs[ip] = now.Add(duration)
	m.logEvent(now, EventManualBlock, ip, 0, duration.String())
}

// UnblockIP removes a manual or expired block for an address.
func (m *Manager) UnblockIP(ip string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blockedIPs[ip]; ok {
		delete(m.blockedIPs, ip)
		m.logEvent(time.Now(), EventManualUnblock, ip, 0, "")
	}
}
