package models

import (
	"github.com/pitabwire/frame/data"
)

// Session holds the opaque credential material an account needs to resume its
// protocol connection without re-pairing. At most one row per account id is
// meaningful; duplicates are reconciled away keeping the most recently modified.
type Session struct {
	data.BaseModel
	AccountID string `gorm:"type:varchar(50);index:idx_session_account_id" json:"account_id"`
	// Creds is protocol-library-defined and treated as opaque by the bridge.
	Creds data.JSONMap `json:"creds"`
}

// Setting stores per-account option overrides. Reads merge these over the
// static default-options table; absent row means defaults only.
type Setting struct {
	data.BaseModel
	AccountID string       `gorm:"type:varchar(50);uniqueIndex:idx_setting_account_id" json:"account_id"`
	Options   data.JSONMap `json:"options"`
}

// TrackedAccount is the durable set of accounts that have ever successfully
// connected. Consulted at startup to drive automatic recovery.
type TrackedAccount struct {
	data.BaseModel
	AccountID string `gorm:"type:varchar(50);uniqueIndex:idx_tracked_account_id" json:"account_id"`
}
