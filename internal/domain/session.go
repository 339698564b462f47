package domain

// SessionMetadata is the client fingerprint captured at login and echoed in
// duplicate-login notices.
type SessionMetadata struct {
	UserAgent  string `json:"userAgent,omitempty"`
	IPAddress  string `json:"ipAddress,omitempty"`
	DeviceInfo string `json:"deviceInfo,omitempty"`
}

// Session is the persisted single-active-session record for a user.
type Session struct {
	UserID       string          `json:"userId"`
	SessionID    string          `json:"sessionId"`
	CreatedAt    int64           `json:"createdAt"`    // unix milliseconds
	LastActivity int64           `json:"lastActivity"` // unix milliseconds
	Metadata     SessionMetadata `json:"metadata"`
}
