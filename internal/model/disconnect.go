package model

import (
	"time"

	"github.com/google/uuid"
)

// DisconnectType classifies which signal opened a disconnect window.
// "Whichever fired first" wins; later loss signals are ignored.
type DisconnectType string

const (
	DisconnectNetworkOffline DisconnectType = "NETWORK_OFFLINE"
	DisconnectPageHidden     DisconnectType = "PAGE_HIDDEN"
	DisconnectWindowBlur     DisconnectType = "WINDOW_BLUR"
	DisconnectBrowserClose   DisconnectType = "BROWSER_CLOSE"
	DisconnectTabSwitch      DisconnectType = "TAB_SWITCH"
	DisconnectSystemSleep    DisconnectType = "SYSTEM_SLEEP"
	DisconnectConnectionLost DisconnectType = "CONNECTION_LOST"
	DisconnectUnknown        DisconnectType = "UNKNOWN"
)

// DisconnectEvent tracks one active disconnect window. It lives only in
// the detector's memory; once resolved it is folded into the event log.
type DisconnectEvent struct {
	SessionID      uuid.UUID      `json:"session_id"`
	StudentID      string         `json:"student_id"`
	Type           DisconnectType `json:"type"`
	DisconnectedAt time.Time      `json:"disconnected_at"`
	ReconnectedAt  *time.Time     `json:"reconnected_at,omitempty"`
	Duration       *time.Duration `json:"duration,omitempty"`
	NetworkInfo    string         `json:"network_info,omitempty"`
}
