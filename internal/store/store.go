package store

import (
	"context"
	"errors"
	"time"

	"ms-admission/internal/models"
)

var (
	// ErrNotFound means no ticket (or event) row exists for the given id.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict means a conditional write lost because the row had
	// already left the required state.
	ErrConflict = errors.New("store: state conflict")
	// ErrUnavailable wraps transient storage failures. Callers must treat
	// it as "don't know yet", never as a redemption decision.
	ErrUnavailable = errors.New("store: unavailable")
)

// RedeemBranch reports which way the conditional write went.
type RedeemBranch int

const (
	// BranchRedeemed means this call won the valid→used transition.
	BranchRedeemed RedeemBranch = iota
	// BranchAlreadyUsed means a previous call already consumed the ticket.
	BranchAlreadyUsed
	// BranchCancelled means the ticket had been cancelled before the scan.
	BranchCancelled
)

// RedeemResult carries the branch taken plus the ticket row as observed
// after the attempt, so losers can report when and where the winner scanned.
type RedeemResult struct {
	Branch RedeemBranch
	Ticket *models.Ticket
}

// TicketStore is the single source of truth for tickets. TryRedeem is the
// one mutation the redemption path needs: an atomic conditional state
// transition. Implementations must never split it into a read followed by
// a write.
type TicketStore interface {
	Get(ctx context.Context, ticketID string) (*models.Ticket, error)
	TryRedeem(ctx context.Context, ticketID, deviceID string, now time.Time) (*RedeemResult, error)
	Insert(ctx context.Context, ticket *models.Ticket) error
	Cancel(ctx context.Context, ticketID string) error
	GetEvent(ctx context.Context, eventID string) (*models.Event, error)
}
