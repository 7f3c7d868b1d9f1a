package issuance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-admission/internal/credential"
	"ms-admission/internal/logger"
	"ms-admission/internal/models"
	"ms-admission/internal/store"
	"ms-admission/internal/utils"
)

// ErrDuplicateTicket means a credential was already minted for this
// ticket id; issuance never hands out a second one.
var ErrDuplicateTicket = errors.New("issuance: ticket already exists")

// Finalization is the input from the catalog/purchase collaborator once a
// ticket purchase or registration is final.
type Finalization struct {
	TicketID   string `json:"ticket_id,omitempty"`
	EventID    string `json:"event_id"`
	HolderRef  string `json:"holder_ref"`
	HolderName string `json:"holder_name,omitempty"`
	TicketType string `json:"ticket_type"`
}

// Issued is returned exactly once, at mint time. The token embeds the
// credential secret and is not recoverable from logs afterwards.
type Issued struct {
	Ticket *models.Ticket `json:"ticket"`
	Token  string         `json:"token"`
}

// Notifier receives issuance events after the ticket is persisted.
type Notifier interface {
	TicketIssued(ctx context.Context, ticket *models.Ticket) error
}

type Service struct {
	Store    store.TicketStore
	Notifier Notifier
	Logger   *logger.Logger
}

func NewService(s store.TicketStore, notifier Notifier, log *logger.Logger) *Service {
	return &Service{Store: s, Notifier: notifier, Logger: log}
}

// Issue generates the credential for a finalized ticket and persists it
// with status valid. The minted token is returned once for delivery to
// the attendee.
func (s *Service) Issue(ctx context.Context, fin Finalization) (*Issued, error) {
	if fin.EventID == "" {
		return nil, errors.New("issuance: event_id is required")
	}
	if fin.HolderRef == "" {
		return nil, errors.New("issuance: holder_ref is required")
	}
	if fin.TicketType == "" {
		fin.TicketType = "General"
	}

	if _, err := s.Store.GetEvent(ctx, fin.EventID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("issuance: event %s does not exist", fin.EventID)
		}
		return nil, fmt.Errorf("issuance: validate event: %w", err)
	}

	ticketID := fin.TicketID
	if ticketID == "" {
		ticketID = utils.GenerateTicketID()
	} else if _, err := s.Store.Get(ctx, ticketID); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTicket, ticketID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("issuance: check ticket: %w", err)
	}

	secret, err := utils.GenerateCredentialSecret()
	if err != nil {
		return nil, err
	}

	ticket := &models.Ticket{
		TicketID:         ticketID,
		EventID:          fin.EventID,
		HolderRef:        fin.HolderRef,
		HolderName:       fin.HolderName,
		TicketType:       fin.TicketType,
		CredentialSecret: secret,
		Status:           models.StatusValid,
		IssuedAt:         time.Now().UTC(),
		Version:          1,
	}

	if err := s.Store.Insert(ctx, ticket); err != nil {
		return nil, fmt.Errorf("issuance: persist ticket: %w", err)
	}

	if s.Logger != nil {
		s.Logger.LogIssue(ticket.TicketID, ticket.EventID)
	}

	if s.Notifier != nil {
		if err := s.Notifier.TicketIssued(ctx, ticket); err != nil && s.Logger != nil {
			s.Logger.Error("NOTIFY", fmt.Sprintf("issuance event for %s: %v", ticket.TicketID, err))
		}
	}

	return &Issued{
		Ticket: ticket,
		Token:  credential.Encode(ticket.TicketID, secret),
	}, nil
}

// Get returns a ticket by id.
func (s *Service) Get(ctx context.Context, ticketID string) (*models.Ticket, error) {
	return s.Store.Get(ctx, ticketID)
}

// Token rebuilds the scannable token for an existing ticket, for the
// owner's wallet/print view.
func (s *Service) Token(ctx context.Context, ticketID string) (string, error) {
	ticket, err := s.Store.Get(ctx, ticketID)
	if err != nil {
		return "", err
	}
	return credential.Encode(ticket.TicketID, ticket.CredentialSecret), nil
}

// QR renders the ticket's token as a PNG at the highest recovery level.
func (s *Service) QR(ctx context.Context, ticketID string) ([]byte, error) {
	token, err := s.Token(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	return credential.RenderDefault(token)
}

// Cancel handles the refund/cancellation collaborator input. Only a
// valid ticket can be cancelled; anything else surfaces the store's
// conflict so callers can answer 409.
func (s *Service) Cancel(ctx context.Context, ticketID string) error {
	if err := s.Store.Cancel(ctx, ticketID); err != nil {
		return err
	}
	if s.Logger != nil {
		s.Logger.Info("CANCEL", fmt.Sprintf("ticket=%s", ticketID))
	}
	return nil
}
