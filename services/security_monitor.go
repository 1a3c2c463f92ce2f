package services

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Kinds of failures the monitor watches
const (
	FailureLogin       = "login"
	FailureAccessToken = "access_token"
)

const (
	monitorWindow    = 10 * time.Minute
	monitorThreshold = 5
	alertCooldown    = time.Hour
	maxAlerts        = 100
)

var securityAlerts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "security_alerts_total",
		Help: "Total number of security alerts raised",
	},
	[]string{"kind"},
)

// SecurityEventMonitor raises an alert when one client keeps failing sign-ins
// or access code checks. It only alerts; blocking is the throttle's job.
type SecurityEventMonitor struct {
	mu       sync.Mutex
	failures map[string][]time.Time // kind|ip -> failure timestamps
	alerted  map[string]time.Time   // kind|ip -> last alert time
	alerts   []SecurityAlert
	now      func() time.Time
}

// SecurityAlert represents a triggered security alert
type SecurityAlert struct {
	Timestamp time.Time
	Kind      string
	IP        string
	Count     int
}

// Monitor is the global monitor instance
var Monitor *SecurityEventMonitor

// NewSecurityMonitor creates an empty monitor
func NewSecurityMonitor() *SecurityEventMonitor {
	return &SecurityEventMonitor{
		failures: make(map[string][]time.Time),
		alerted:  make(map[string]time.Time),
		now:      time.Now,
	}
}

// InitSecurityMonitor initializes the global monitor
func InitSecurityMonitor() {
	Monitor = NewSecurityMonitor()
}

// TrackFailure records a failure of kind from ip and alerts once the client
// reached the threshold inside the window. At most one alert per client and
// kind is raised per hour.
func (m *SecurityEventMonitor) TrackFailure(kind, ip string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	key := kind + "|" + ip
	windowStart := now.Add(-monitorWindow)

	recent := m.failures[key][:0]
	for _, t := range m.failures[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}
	recent = append(recent, now)
	m.failures[key] = recent

	if len(recent) < monitorThreshold {
		return
	}
	if last, ok := m.alerted[key]; ok && now.Sub(last) < alertCooldown {
		return
	}
	m.alerted[key] = now

	alert := SecurityAlert{Timestamp: now, Kind: kind, IP: ip, Count: len(recent)}
	m.alerts = append([]SecurityAlert{alert}, m.alerts...)
	if len(m.alerts) > maxAlerts {
		m.alerts = m.alerts[:maxAlerts]
	}
	securityAlerts.WithLabelValues(kind).Inc()
	log.Printf("[SECURITY ALERT] %d failed %s attempts from IP: %s", len(recent), kind, ip)
}

// RecentAlerts returns a copy of the recent alerts, newest first
func (m *SecurityEventMonitor) RecentAlerts() []SecurityAlert {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	alerts := make([]SecurityAlert, len(m.alerts))
	copy(alerts, m.alerts)
	return alerts
}

// Prune drops clients without failures inside the window
func (m *SecurityEventMonitor) Prune() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for key, attempts := range m.failures {
		if len(attempts) == 0 || now.Sub(attempts[len(attempts)-1]) > monitorWindow {
			delete(m.failures, key)
		}
	}
	for key, last := range m.alerted {
		if now.Sub(last) > alertCooldown {
			delete(m.alerted, key)
		}
	}
}
