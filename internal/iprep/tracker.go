// Package iprep tracks per-IP activity and keeps a time-limited blacklist of
// addresses that crossed the abuse thresholds. All state is in memory; the
// services layer mirrors blacklist inserts to storage and to peer instances.
package iprep

import (
	"net"
	"sync"
	"time"

	"github.com/optiplay/backend/internal/logger"
	"github.com/optiplay/backend/internal/metrics"
)

// Action is a tracked client action.
type Action string

const (
	ActionRequest  Action = "request"
	ActionLogin    Action = "login"
	ActionRegister Action = "register"
	ActionPost     Action = "post"
	ActionComment  Action = "comment"
)

// Reputation is the coarse classification of an address.
type Reputation string

const (
	ReputationBlacklisted Reputation = "blacklisted"
	ReputationSuspicious  Reputation = "suspicious"
	ReputationAbusive     Reputation = "abusive"
	ReputationNew         Reputation = "new"
	ReputationTrusted     Reputation = "trusted"
)

// Origin records who put an address on the blacklist.
type Origin string

const (
	OriginAuto   Origin = "auto"
	OriginManual Origin = "manual"
	OriginPeer   Origin = "peer"
)

const (
	historyCap       = 100
	historyRetention = time.Hour
	shortWindow      = 5 * time.Minute
	shortLimit       = 20
	longLimit        = 100
	registerLimit    = 3
	newThreshold     = 5

	// BlacklistTTL is how long a blacklist entry lasts.
	BlacklistTTL = 24 * time.Hour
)

// PrivateNetworks are ranges reported as suspicious: loopback, RFC1918,
// link-local and their IPv6 counterparts.
var PrivateNetworks = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",    // localhost
	"169.254.0.0/16", // link-local
	"fc00::/7",       // IPv6 ULA
	"fe80::/10",      // IPv6 link-local
	"::1/128",        // IPv6 localhost
}

var privateNets = func() []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(PrivateNetworks))
	for _, cidr := range PrivateNetworks {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}()

// BlacklistEvent describes a blacklist insert.
type BlacklistEvent struct {
	IP        string    `json:"ip"`
	Reason    string    `json:"reason"`
	Origin    Origin    `json:"origin"`
	ExpiresAt time.Time `json:"expires_at"`
}

type activity struct {
	at     time.Time
	action Action
}

type ban struct {
	reason  string
	origin  Origin
	expires time.Time
	timer   *time.Timer
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	now       func() time.Time
	history   map[string][]activity
	blacklist map[string]*ban
	hook      func(BlacklistEvent)
	closed    bool
}

// NewTracker returns an empty Tracker using the wall clock.
func NewTracker() *Tracker {
	return &Tracker{
		now:       time.Now,
		history:   make(map[string][]activity),
		blacklist: make(map[string]*ban),
	}
}

// WithClock replaces the tracker's time source.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// OnBlacklist registers fn to be called after every local blacklist insert.
// Inserts received from peers do not trigger it.
func (t *Tracker) OnBlacklist(fn func(BlacklistEvent)) {
	t.mu.Lock()
	t.hook = fn
	t.mu.Unlock()
}

// Track records one action for ip, keeping the most recent entries only.
func (t *Tracker) Track(ip string, action Action) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := append(t.history[ip], activity{at: t.now(), action: action})
	if len(h) > historyCap {
		h = append([]activity(nil), h[len(h)-historyCap:]...)
	}
	t.history[ip] = h
}

// IsAbusive reports whether ip crossed an activity threshold. An abusive
// address is blacklisted as a side effect.
func (t *Tracker) IsAbusive(ip string) bool {
	t.mu.Lock()
	reason, abusive := t.abuseReason(ip, t.now())
	t.mu.Unlock()

	if abusive {
		t.insert(ip, reason, OriginAuto, time.Time{})
	}
	return abusive
}

func (t *Tracker) abuseReason(ip string, now time.Time) (string, bool) {
	var short, long, registers int
	for _, a := range t.history[ip] {
		age := now.Sub(a.at)
		if age <= historyRetention {
			long++
		}
		if age <= shortWindow {
			short++
			if a.action == ActionRegister {
				registers++
			}
		}
	}
	switch {
	case short > shortLimit:
		return "too many actions in 5 minutes", true
	case long > longLimit:
		return "too many actions in 1 hour", true
	case registers > registerLimit:
		return "too many registrations in 5 minutes", true
	}
	return "", false
}

// Blacklist adds ip for BlacklistTTL. It reports whether the address was
// newly added; re-blacklisting only extends the expiry.
func (t *Tracker) Blacklist(ip, reason string) bool {
	return t.insert(ip, reason, OriginManual, time.Time{})
}

// BlacklistRemote applies an insert received from a peer instance.
func (t *Tracker) BlacklistRemote(ev BlacklistEvent) bool {
	return t.insert(ev.IP, ev.Reason, OriginPeer, ev.ExpiresAt)
}

func (t *Tracker) insert(ip, reason string, origin Origin, expires time.Time) bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	now := t.now()
	if expires.IsZero() {
		expires = now.Add(BlacklistTTL)
	}
	if !expires.After(now) {
		t.mu.Unlock()
		return false
	}

	b, existed := t.blacklist[ip]
	if existed && b.expires.After(now) {
		if expires.After(b.expires) {
			b.expires = expires
			b.timer.Reset(expires.Sub(now))
		}
		t.mu.Unlock()
		return false
	}
	if existed {
		b.timer.Stop()
	}

	b = &ban{reason: reason, origin: origin, expires: expires}
	b.timer = time.AfterFunc(expires.Sub(now), func() { t.expire(ip, b) })
	t.blacklist[ip] = b
	hook := t.hook
	t.mu.Unlock()

	metrics.IncBlacklisted(string(origin))
	logger.Component("iprep").WithFields(map[string]interface{}{
		"ip":      ip,
		"reason":  reason,
		"origin":  origin,
		"expires": expires,
	}).Warn("ip blacklisted")

	if hook != nil && origin != OriginPeer {
		hook(BlacklistEvent{IP: ip, Reason: reason, Origin: origin, ExpiresAt: expires})
	}
	return true
}

func (t *Tracker) expire(ip string, b *ban) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.blacklist[ip] == b {
		delete(t.blacklist, ip)
	}
}

// IsBlacklisted reports whether ip has an unexpired blacklist entry.
func (t *Tracker) IsBlacklisted(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.blacklist[ip]
	return ok && b.expires.After(t.now())
}

// IsSuspicious reports whether ip is private, loopback, link-local or unparseable.
func IsSuspicious(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return true
	}
	for _, n := range privateNets {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

// IsSuspicious reports IsSuspicious(ip).
func (t *Tracker) IsSuspicious(ip string) bool {
	return IsSuspicious(ip)
}

// Reputation classifies ip. Like IsAbusive, an address found abusive here is
// blacklisted, so the next call reports it as blacklisted.
func (t *Tracker) Reputation(ip string) Reputation {
	if t.IsBlacklisted(ip) {
		return ReputationBlacklisted
	}
	if IsSuspicious(ip) {
		return ReputationSuspicious
	}
	if t.IsAbusive(ip) {
		return ReputationAbusive
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.history[ip]) < newThreshold {
		return ReputationNew
	}
	return ReputationTrusted
}

// Sweep drops history older than an hour, deletes empty records and expired
// blacklist entries. It returns the number of addresses forgotten.
func (t *Tracker) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	cutoff := now.Add(-historyRetention)
	for ip, h := range t.history {
		keep := h[:0]
		for _, a := range h {
			if a.at.After(cutoff) {
				keep = append(keep, a)
			}
		}
		if len(keep) == 0 {
			delete(t.history, ip)
			removed++
			continue
		}
		t.history[ip] = keep
	}
	for ip, b := range t.blacklist {
		if !b.expires.After(now) {
			b.timer.Stop()
			delete(t.blacklist, ip)
		}
	}
	return removed
}

// Shutdown stops pending expiry timers. Later inserts are ignored.
func (t *Tracker) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for _, b := range t.blacklist {
		b.timer.Stop()
	}
}
