package model

import (
	"encoding/json"
	"time"
)

// HardwareState is the approval state of a device binding.
type HardwareState int

const (
	HardwarePending HardwareState = iota
	HardwareRejected
	HardwareApproved
)

func (s HardwareState) String() string {
	switch s {
	case HardwarePending:
		return "PENDING"
	case HardwareRejected:
		return "REJECTED"
	case HardwareApproved:
		return "APPROVED"
	}
	return "UNKNOWN"
}

// Hardware is one device-binding attempt of an account (`hardware` table).
// Components holds the raw descriptor JSON the client submitted.
type Hardware struct {
	ID         string          `json:"id"`
	CreatedAt  time.Time       `json:"createdAt"`
	State      HardwareState   `json:"state"`
	Hash       string          `json:"hash"`
	Components json.RawMessage `json:"components"`
	AccountID  string          `json:"accountId"`
}
