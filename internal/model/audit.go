package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	AuditActionCreate   = "create"
	AuditActionConfirm  = "confirm"
	AuditActionCancel   = "cancel"
	AuditActionComplete = "complete"
	AuditActionUpdate   = "update"
	AuditActionLock     = "lock"
	AuditActionReserve  = "reserve"
	AuditActionRelease  = "release"
	AuditActionBlock    = "block"
	AuditActionUnblock  = "unblock"
	AuditActionDelete   = "delete"

	AuditEntitySlot             = "slot"
	AuditEntityAppointment      = "appointment"
	AuditEntityLedgerEntry      = "ledger_entry"
	AuditEntityPayout           = "payout"
	AuditEntityWallet           = "wallet"
	AuditEntityCommissionConfig = "commission_config"
)

// AuditActionLockedWrite records a rejected write to a locked entry.
const AuditActionLockedWrite = "locked_write_rejected"

// AuditLog is one link of the tamper-evident audit chain. Hash covers the
// record fields and PreviousHash.
type AuditLog struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	Sequence     int64           `json:"sequence" db:"sequence"`
	ActorID      *uuid.UUID      `json:"actor_id,omitempty" db:"actor_id"`
	Action       string          `json:"action" db:"action"`
	EntityType   string          `json:"entity_type" db:"entity_type"`
	EntityID     uuid.UUID       `json:"entity_id" db:"entity_id"`
	Changes      json.RawMessage `json:"changes,omitempty" db:"changes"`
	PreviousHash string          `json:"previous_hash" db:"previous_hash"`
	Hash         string          `json:"hash" db:"hash"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

type AuditFilter struct {
	EntityType string
	EntityID   *uuid.UUID
	ActorID    *uuid.UUID
	From       *time.Time
	To         *time.Time
}

// ChainVerification is the result of walking the audit chain.
type ChainVerification struct {
	Valid         bool       `json:"valid"`
	Checked       int64      `json:"checked"`
	BrokenAt      *int64     `json:"broken_at,omitempty"`
	BrokenEntryID *uuid.UUID `json:"broken_entry_id,omitempty"`
}
