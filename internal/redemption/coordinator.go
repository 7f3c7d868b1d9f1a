package redemption

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"ms-admission/internal/credential"
	"ms-admission/internal/logger"
	"ms-admission/internal/models"
	"ms-admission/internal/store"
)

// Reason discriminates why a scan was rejected.
type Reason string

const (
	ReasonInvalidToken       Reason = "InvalidToken"
	ReasonUnknownTicket      Reason = "UnknownTicket"
	ReasonCredentialMismatch Reason = "CredentialMismatch"
	ReasonEventMismatch      Reason = "EventMismatch"
	ReasonExpired            Reason = "Expired"
	ReasonAlreadyUsed        Reason = "AlreadyUsed"
	ReasonCancelled          Reason = "Cancelled"
)

// OutcomeKind tags the three possible results of a redemption attempt.
// "Rejected" is a decision; "Error" means we don't know yet and the gate
// must retry the identical request.
type OutcomeKind int

const (
	OutcomeAdmitted OutcomeKind = iota
	OutcomeRejected
	OutcomeError
)

type Outcome struct {
	Kind   OutcomeKind
	Ticket *models.Ticket // set on Admitted

	Reason     Reason    // set on Rejected
	RedeemedAt time.Time // set when Reason is AlreadyUsed
	RedeemedBy string    // set when Reason is AlreadyUsed

	Retryable bool  // set on Error
	Err       error // set on Error
}

func admitted(t *models.Ticket) Outcome {
	return Outcome{Kind: OutcomeAdmitted, Ticket: t}
}

func rejected(reason Reason) Outcome {
	return Outcome{Kind: OutcomeRejected, Reason: reason}
}

func transientError(err error) Outcome {
	return Outcome{Kind: OutcomeError, Retryable: true, Err: err}
}

// GatePolicy is the per-gate admission configuration: which event this
// gate admits to and the window during which scanning is allowed. The
// window check is computed locally; only Get and TryRedeem touch storage.
type GatePolicy struct {
	EventID  string
	OpensAt  time.Time
	ClosesAt time.Time
}

// Notifier receives admissions after the store decision. It is never on
// the decision path; failures are logged and dropped.
type Notifier interface {
	TicketAdmitted(ctx context.Context, ticket *models.Ticket, deviceID string) error
}

// Coordinator enforces at-most-once admission. It is stateless and safe
// for concurrent use: the single shared mutable resource is the ticket row
// in the store, and contention on it is resolved entirely by the store's
// conditional write.
type Coordinator struct {
	Store    store.TicketStore
	Policy   GatePolicy
	Notifier Notifier
	Logger   *logger.Logger
}

func NewCoordinator(s store.TicketStore, policy GatePolicy, notifier Notifier, log *logger.Logger) *Coordinator {
	return &Coordinator{Store: s, Policy: policy, Notifier: notifier, Logger: log}
}

// Redeem decides whether the presented token grants entry. Exactly one of
// N concurrent calls for the same valid ticket is Admitted; the rest
// observe AlreadyUsed. No in-memory state is consulted between decode and
// TryRedeem.
func (c *Coordinator) Redeem(ctx context.Context, token, deviceID string, now time.Time) Outcome {
	ticketID, secret, err := credential.Decode(token)
	if err != nil {
		c.logScan(deviceID, "?", string(ReasonInvalidToken))
		return rejected(ReasonInvalidToken)
	}

	ticket, err := c.Store.Get(ctx, ticketID)
	if errors.Is(err, store.ErrNotFound) {
		c.logScan(deviceID, ticketID, string(ReasonUnknownTicket))
		return rejected(ReasonUnknownTicket)
	}
	if err != nil {
		return transientError(fmt.Errorf("fetch ticket: %w", err))
	}

	if subtle.ConstantTimeCompare([]byte(secret), []byte(ticket.CredentialSecret)) != 1 {
		c.logScan(deviceID, ticketID, string(ReasonCredentialMismatch))
		return rejected(ReasonCredentialMismatch)
	}

	if c.Policy.EventID != "" && ticket.EventID != c.Policy.EventID {
		c.logScan(deviceID, ticketID, string(ReasonEventMismatch))
		return rejected(ReasonEventMismatch)
	}
	if !c.withinWindow(now) {
		c.logScan(deviceID, ticketID, string(ReasonExpired))
		return rejected(ReasonExpired)
	}

	result, err := c.Store.TryRedeem(ctx, ticketID, deviceID, now)
	if errors.Is(err, store.ErrNotFound) {
		return rejected(ReasonUnknownTicket)
	}
	if err != nil {
		return transientError(fmt.Errorf("try_redeem: %w", err))
	}

	switch result.Branch {
	case store.BranchRedeemed:
		c.logScan(deviceID, ticketID, "Admitted")
		c.notify(ctx, result.Ticket, deviceID)
		return admitted(result.Ticket)
	case store.BranchAlreadyUsed:
		c.logScan(deviceID, ticketID, string(ReasonAlreadyUsed))
		out := rejected(ReasonAlreadyUsed)
		out.RedeemedAt = result.Ticket.RedeemedAt
		out.RedeemedBy = result.Ticket.RedeemedBy
		return out
	case store.BranchCancelled:
		c.logScan(deviceID, ticketID, string(ReasonCancelled))
		return rejected(ReasonCancelled)
	default:
		return transientError(fmt.Errorf("try_redeem: unknown branch %d", result.Branch))
	}
}

func (c *Coordinator) withinWindow(now time.Time) bool {
	if !c.Policy.OpensAt.IsZero() && now.Before(c.Policy.OpensAt) {
		return false
	}
	if !c.Policy.ClosesAt.IsZero() && now.After(c.Policy.ClosesAt) {
		return false
	}
	return true
}

func (c *Coordinator) notify(ctx context.Context, ticket *models.Ticket, deviceID string) {
	if c.Notifier == nil {
		return
	}
	if err := c.Notifier.TicketAdmitted(ctx, ticket, deviceID); err != nil && c.Logger != nil {
		c.Logger.Error("NOTIFY", fmt.Sprintf("admission event for %s: %v", ticket.TicketID, err))
	}
}

func (c *Coordinator) logScan(deviceID, ticketID, outcome string) {
	if c.Logger != nil {
		c.Logger.LogScan(deviceID, ticketID, outcome)
	}
}
