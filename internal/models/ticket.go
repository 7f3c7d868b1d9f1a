package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Ticket statuses. The lifecycle is monotonic: once a ticket leaves
// "valid" it never returns.
const (
	StatusValid     = "valid"
	StatusUsed      = "used"
	StatusCancelled = "cancelled"
)

type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	TicketID         string    `bun:"ticket_id,pk" json:"ticket_id"`
	EventID          string    `bun:"event_id,notnull" json:"event_id"`
	HolderRef        string    `bun:"holder_ref,notnull" json:"holder_ref"`
	HolderName       string    `bun:"holder_name" json:"holder_name"`
	TicketType       string    `bun:"ticket_type,notnull" json:"ticket_type"`
	CredentialSecret string    `bun:"credential_secret,notnull" json:"-"`
	Status           string    `bun:"status,notnull" json:"status"`
	IssuedAt         time.Time `bun:"issued_at,notnull" json:"issued_at"`
	RedeemedAt       time.Time `bun:"redeemed_at,nullzero" json:"redeemed_at,omitzero"`
	RedeemedBy       string    `bun:"redeemed_by,nullzero" json:"redeemed_by,omitempty"`
	Version          int64     `bun:"version,notnull" json:"version"`
}
