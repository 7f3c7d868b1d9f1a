package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-admission/internal/models"
)

// DB is the bun-backed TicketStore. Per-ticket linearizability comes from
// the database serializing conditional UPDATEs on the same row.
type DB struct {
	Bun *bun.DB
}

func NewDB(bunDB *bun.DB) *DB {
	return &DB{Bun: bunDB}
}

func (d *DB) Get(ctx context.Context, ticketID string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("ticket_id = ?", ticketID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ticket %s: %w", ticketID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket %s: %w: %v", ticketID, ErrUnavailable, err)
	}
	return &ticket, nil
}

// TryRedeem performs the valid→used transition as a single conditional
// UPDATE. Two concurrent calls for the same ticket are serialized by the
// database; exactly one sees rows-affected == 1. The losing call re-reads
// the row only to report who won, never to decide.
func (d *DB) TryRedeem(ctx context.Context, ticketID, deviceID string, now time.Time) (*RedeemResult, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("status = ?", models.StatusUsed).
		Set("redeemed_at = ?", now).
		Set("redeemed_by = ?", deviceID).
		Set("version = version + 1").
		Where("ticket_id = ?", ticketID).
		Where("status = ?", models.StatusValid).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("try_redeem %s: %w: %v", ticketID, ErrUnavailable, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("try_redeem %s: %w: %v", ticketID, ErrUnavailable, err)
	}

	ticket, err := d.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	if rows == 1 {
		return &RedeemResult{Branch: BranchRedeemed, Ticket: ticket}, nil
	}

	switch ticket.Status {
	case models.StatusUsed:
		return &RedeemResult{Branch: BranchAlreadyUsed, Ticket: ticket}, nil
	case models.StatusCancelled:
		return &RedeemResult{Branch: BranchCancelled, Ticket: ticket}, nil
	default:
		// A valid ticket that the UPDATE did not touch should not happen.
		return nil, fmt.Errorf("try_redeem %s: %w: row valid but update missed", ticketID, ErrUnavailable)
	}
}

func (d *DB) Insert(ctx context.Context, ticket *models.Ticket) error {
	_, err := d.Bun.NewInsert().Model(ticket).Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert ticket %s: %w: %v", ticket.TicketID, ErrUnavailable, err)
	}
	return nil
}

// Cancel marks a valid ticket cancelled. Same conditional-write shape as
// TryRedeem so a used ticket can never be "cancelled back".
func (d *DB) Cancel(ctx context.Context, ticketID string) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("status = ?", models.StatusCancelled).
		Set("version = version + 1").
		Where("ticket_id = ?", ticketID).
		Where("status = ?", models.StatusValid).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("cancel ticket %s: %w: %v", ticketID, ErrUnavailable, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cancel ticket %s: %w: %v", ticketID, ErrUnavailable, err)
	}
	if rows == 1 {
		return nil
	}

	if _, err := d.Get(ctx, ticketID); err != nil {
		return err
	}
	return fmt.Errorf("cancel ticket %s: %w", ticketID, ErrConflict)
}

func (d *DB) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	var event models.Event
	err := d.Bun.NewSelect().
		Model(&event).
		Where("id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", eventID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w: %v", eventID, ErrUnavailable, err)
	}
	return &event, nil
}
