package models

import "time"

// SessionStatus is the derived liveness classification of a hooked browser
type SessionStatus string

const (
	StatusActive  SessionStatus = "Active"
	StatusIdle    SessionStatus = "Idle"
	StatusOffline SessionStatus = "Offline"
)

// DefaultStaleAfter separates Idle from Offline for sessions that dropped
const DefaultStaleAfter = 5 * time.Minute

// Session represents a hooked browser
type Session struct {
	ID             int64         `json:"id"`
	Token          string        `json:"sessionId"`
	IPAddress      string        `json:"ipAddress"`
	UserAgent      string        `json:"userAgent"`
	Browser        string        `json:"browser,omitempty"`
	BrowserVersion string        `json:"browserVersion,omitempty"`
	OS             string        `json:"os,omitempty"`
	Platform       string        `json:"platform,omitempty"`
	PageURL        string        `json:"pageUrl,omitempty"`
	Domain         string        `json:"domain,omitempty"`
	Port           int           `json:"port,omitempty"`
	Referer        string        `json:"referer,omitempty"`
	IsOnline       bool          `json:"isOnline"`
	FirstSeen      time.Time     `json:"firstSeen"`
	LastSeen       time.Time     `json:"lastSeen"`
	Status         SessionStatus `json:"status,omitempty"` // filled at read time
}

// DeriveStatus classifies the session at now. Online is authoritative for
// Active; an offline session is Idle until staleAfter has elapsed since it
// was last seen.
func (s *Session) DeriveStatus(now time.Time, staleAfter time.Duration) SessionStatus {
	if s.IsOnline {
		return StatusActive
	}
	if now.Sub(s.LastSeen) < staleAfter {
		return StatusIdle
	}
	return StatusOffline
}

// Touch marks the session online and moves LastSeen forward, never back.
func (s *Session) Touch(now time.Time) {
	s.IsOnline = true
	if now.After(s.LastSeen) {
		s.LastSeen = now
	}
}

// Clone returns a copy safe to hand out of a store
func (s *Session) Clone() *Session {
	c := *s
	return &c
}

// RegisterRequest is the payload a hook script posts to /api/hook
type RegisterRequest struct {
	IPAddress      string `json:"ip"`
	UserAgent      string `json:"userAgent"`
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browserVersion,omitempty"`
	OS             string `json:"os,omitempty"`
	Platform       string `json:"platform,omitempty"`
	PageURL        string `json:"pageUrl,omitempty"`
	Domain         string `json:"domain,omitempty"`
	Port           int    `json:"port,omitempty"`
	Referer        string `json:"referer,omitempty"`
}

// SessionPatch holds the fields an operator or a re-registration may
// overwrite. Empty values are left untouched.
type SessionPatch struct {
	Browser        string
	BrowserVersion string
	OS             string
	Platform       string
	PageURL        string
	Domain         string
	Port           int
	Referer        string
}

// Apply merges non-empty fields of p into s
func (p SessionPatch) Apply(s *Session) {
	if p.Browser != "" {
		s.Browser = p.Browser
	}
	if p.BrowserVersion != "" {
		s.BrowserVersion = p.BrowserVersion
	}
	if p.OS != "" {
		s.OS = p.OS
	}
	if p.Platform != "" {
		s.Platform = p.Platform
	}
	if p.PageURL != "" {
		s.PageURL = p.PageURL
	}
	if p.Domain != "" {
		s.Domain = p.Domain
	}
	if p.Port != 0 {
		s.Port = p.Port
	}
	if p.Referer != "" {
		s.Referer = p.Referer
	}
}

// Patch extracts the mergeable page/browser context from a registration
func (r RegisterRequest) Patch() SessionPatch {
	return SessionPatch{
		Browser:        r.Browser,
		BrowserVersion: r.BrowserVersion,
		OS:             r.OS,
		Platform:       r.Platform,
		PageURL:        r.PageURL,
		Domain:         r.Domain,
		Port:           r.Port,
		Referer:        r.Referer,
	}
}

// SessionCounts summarizes the registry for the dashboard header
type SessionCounts struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
}
