package models

import (
	"time"
)

type SessionStatus string

const (
	SessionStatusDisconnected SessionStatus = "DISCONNECTED"
	SessionStatusConnecting   SessionStatus = "CONNECTING"
	SessionStatusQRReady      SessionStatus = "QR_READY"
	SessionStatusConnected    SessionStatus = "CONNECTED"
)

// Valid reports whether s is one of the known session statuses.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusDisconnected, SessionStatusConnecting, SessionStatusQRReady, SessionStatusConnected:
		return true
	}
	return false
}

// Live reports whether the status corresponds to a bound connection driver.
func (s SessionStatus) Live() bool {
	return s == SessionStatusConnecting || s == SessionStatusQRReady || s == SessionStatusConnected
}

// Session is the persisted record of one chatbot's connection attempt.
// QRCode is non-nil iff Status is QR_READY. LastConnectedAt is set on every
// transition into CONNECTED and never cleared afterwards.
type Session struct {
	ID              int64         `db:"id"`
	ChatbotID       string        `db:"chatbot_id"`
	SessionID       string        `db:"session_id"`
	Status          SessionStatus `db:"status"`
	QRCode          *string       `db:"qr_code"`
	LastConnectedAt *time.Time    `db:"last_connected_at"`
	CreatedAt       time.Time     `db:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at"`
}
