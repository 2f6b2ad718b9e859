// Package queue defines the broker topology, the message payloads and the
// background consumers.
package queue

// HardwarePendingQueue is a durable queue receiving one message per device
// binding that awaits operator approval.
const HardwarePendingQueue = "hardware.pending"

// LoaderChangedExchange is a fanout exchange; every server instance binds a
// private queue to it and reloads its loader identity on each message.
const LoaderChangedExchange = "loader.changed"

// HardwarePendingEvent is published when a login creates a binding in the
// PENDING state.
type HardwarePendingEvent struct {
	AccountID  string `json:"account_id"`
	Username   string `json:"username"`
	HardwareID string `json:"hardware_id"`
	Hash       string `json:"hash"`
	History    int    `json:"history"`
	CreatedAt  string `json:"created_at"`
}

// LoaderChangedEvent is published after the loader row was modified.
// Origin identifies the publishing instance.
type LoaderChangedEvent struct {
	LoaderID  string `json:"loader_id"`
	Reason    string `json:"reason"`
	Origin    string `json:"origin"`
	ChangedAt string `json:"changed_at"`
}

// Reasons carried by LoaderChangedEvent.
const (
	ReasonKeysRotated   = "keys_rotated"
	ReasonActiveToggled = "active_toggled"
	ReasonReleased      = "released"
)
