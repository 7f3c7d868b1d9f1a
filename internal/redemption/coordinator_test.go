package redemption

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-admission/internal/credential"
	"ms-admission/internal/models"
	"ms-admission/internal/store"
)

// mockStore implements store.TicketStore with the same atomicity contract
// as the real one: TryRedeem is a single compare-and-swap under a lock.
type mockStore struct {
	mu      sync.Mutex
	tickets map[string]*models.Ticket

	getCalls    int
	redeemCalls int

	failGet    error
	failRedeem error
}

func newMockStore() *mockStore {
	return &mockStore{tickets: make(map[string]*models.Ticket)}
}

func (m *mockStore) add(t *models.Ticket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *t
	m.tickets[t.TicketID] = &copied
}

func (m *mockStore) Get(ctx context.Context, ticketID string) (*models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.failGet != nil {
		return nil, m.failGet
	}
	t, ok := m.tickets[ticketID]
	if !ok {
		return nil, fmt.Errorf("ticket %s: %w", ticketID, store.ErrNotFound)
	}
	copied := *t
	return &copied, nil
}

func (m *mockStore) TryRedeem(ctx context.Context, ticketID, deviceID string, now time.Time) (*store.RedeemResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.redeemCalls++
	if m.failRedeem != nil {
		return nil, m.failRedeem
	}
	t, ok := m.tickets[ticketID]
	if !ok {
		return nil, fmt.Errorf("ticket %s: %w", ticketID, store.ErrNotFound)
	}

	switch t.Status {
	case models.StatusValid:
		t.Status = models.StatusUsed
		t.RedeemedAt = now
		t.RedeemedBy = deviceID
		t.Version++
		copied := *t
		return &store.RedeemResult{Branch: store.BranchRedeemed, Ticket: &copied}, nil
	case models.StatusUsed:
		copied := *t
		return &store.RedeemResult{Branch: store.BranchAlreadyUsed, Ticket: &copied}, nil
	default:
		copied := *t
		return &store.RedeemResult{Branch: store.BranchCancelled, Ticket: &copied}, nil
	}
}

func (m *mockStore) Insert(ctx context.Context, ticket *models.Ticket) error {
	m.add(ticket)
	return nil
}

func (m *mockStore) Cancel(ctx context.Context, ticketID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[ticketID]
	if !ok {
		return store.ErrNotFound
	}
	if t.Status != models.StatusValid {
		return store.ErrConflict
	}
	t.Status = models.StatusCancelled
	t.Version++
	return nil
}

func (m *mockStore) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	return nil, store.ErrNotFound
}

func (m *mockStore) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCalls, m.redeemCalls
}

type recordingNotifier struct {
	mu        sync.Mutex
	admitted  []string
	failError error
}

func (n *recordingNotifier) TicketAdmitted(ctx context.Context, ticket *models.Ticket, deviceID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failError != nil {
		return n.failError
	}
	n.admitted = append(n.admitted, ticket.TicketID)
	return nil
}

const (
	testEventID = "evt-1"
	testSecret  = "dGVzdC1zZWNyZXQtZm9yLXQx"
)

func testTicket(id string) *models.Ticket {
	return &models.Ticket{
		TicketID:         id,
		EventID:          testEventID,
		HolderRef:        "reg-7",
		HolderName:       "Attendee Alice",
		TicketType:       "VIP",
		CredentialSecret: testSecret,
		Status:           models.StatusValid,
		IssuedAt:         time.Now().UTC(),
		Version:          1,
	}
}

func openPolicy() GatePolicy {
	now := time.Now().UTC()
	return GatePolicy{
		EventID:  testEventID,
		OpensAt:  now.Add(-time.Hour),
		ClosesAt: now.Add(time.Hour),
	}
}

func TestRedeemFirstScanAdmits(t *testing.T) {
	ms := newMockStore()
	ms.add(testTicket("T1"))
	notifier := &recordingNotifier{}
	c := NewCoordinator(ms, openPolicy(), notifier, nil)

	token := credential.Encode("T1", testSecret)
	now := time.Now().UTC()

	outcome := c.Redeem(context.Background(), token, "gate-A", now)
	require.Equal(t, OutcomeAdmitted, outcome.Kind)
	assert.Equal(t, "T1", outcome.Ticket.TicketID)
	assert.Equal(t, "VIP", outcome.Ticket.TicketType)
	assert.Equal(t, []string{"T1"}, notifier.admitted)

	// Every subsequent scan with the same token is AlreadyUsed and carries
	// the winner's redemption details.
	for i := 0; i < 3; i++ {
		again := c.Redeem(context.Background(), token, "gate-B", now.Add(time.Minute))
		require.Equal(t, OutcomeRejected, again.Kind)
		assert.Equal(t, ReasonAlreadyUsed, again.Reason)
		assert.Equal(t, "gate-A", again.RedeemedBy)
		assert.WithinDuration(t, now, again.RedeemedAt, time.Second)
	}

	assert.Len(t, notifier.admitted, 1)
}

func TestRedeemConcurrentScansAdmitExactlyOnce(t *testing.T) {
	const callers = 50

	ms := newMockStore()
	ms.add(testTicket("T1"))
	c := NewCoordinator(ms, openPolicy(), nil, nil)

	token := credential.Encode("T1", testSecret)

	var wg sync.WaitGroup
	outcomes := make([]Outcome, callers)
	start := make(chan struct{})

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			device := fmt.Sprintf("gate-%d", i)
			outcomes[i] = c.Redeem(context.Background(), token, device, time.Now().UTC())
		}(i)
	}
	close(start)
	wg.Wait()

	admitted := 0
	alreadyUsed := 0
	for _, outcome := range outcomes {
		switch {
		case outcome.Kind == OutcomeAdmitted:
			admitted++
		case outcome.Kind == OutcomeRejected && outcome.Reason == ReasonAlreadyUsed:
			alreadyUsed++
		default:
			t.Fatalf("unexpected outcome: %+v", outcome)
		}
	}

	assert.Equal(t, 1, admitted)
	assert.Equal(t, callers-1, alreadyUsed)
}

func TestRedeemTwoGatesLoserSeesWinner(t *testing.T) {
	ms := newMockStore()
	ms.add(testTicket("T1"))
	c := NewCoordinator(ms, openPolicy(), nil, nil)

	token := credential.Encode("T1", testSecret)

	var wg sync.WaitGroup
	results := make([]Outcome, 2)
	devices := []string{"gate-A", "gate-B"}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Redeem(context.Background(), token, devices[i], time.Now().UTC())
		}(i)
	}
	wg.Wait()

	var winner, loser *Outcome
	for i := range results {
		if results[i].Kind == OutcomeAdmitted {
			winner = &results[i]
		} else {
			loser = &results[i]
		}
	}
	require.NotNil(t, winner, "exactly one gate must win")
	require.NotNil(t, loser)

	assert.Equal(t, "T1", winner.Ticket.TicketID)
	assert.Equal(t, ReasonAlreadyUsed, loser.Reason)
	assert.Equal(t, winner.Ticket.RedeemedBy, loser.RedeemedBy)
	assert.Equal(t, winner.Ticket.RedeemedAt, loser.RedeemedAt)
}

func TestRedeemInvalidTokenSkipsStore(t *testing.T) {
	ms := newMockStore()
	c := NewCoordinator(ms, openPolicy(), nil, nil)

	for _, token := range []string{"EVX:garbage", "", "not-a-token", "EVX1:a.b"} {
		outcome := c.Redeem(context.Background(), token, "gate-A", time.Now().UTC())
		require.Equal(t, OutcomeRejected, outcome.Kind, "token %q", token)
		assert.Equal(t, ReasonInvalidToken, outcome.Reason)
	}

	gets, redeems := ms.counts()
	assert.Zero(t, gets, "invalid tokens must not reach the store")
	assert.Zero(t, redeems)
}

func TestRedeemUnknownTicket(t *testing.T) {
	ms := newMockStore()
	c := NewCoordinator(ms, openPolicy(), nil, nil)

	token := credential.Encode("T-GHOST", testSecret)
	outcome := c.Redeem(context.Background(), token, "gate-A", time.Now().UTC())

	require.Equal(t, OutcomeRejected, outcome.Kind)
	assert.Equal(t, ReasonUnknownTicket, outcome.Reason)
}

func TestRedeemCredentialMismatch(t *testing.T) {
	ms := newMockStore()
	ms.add(testTicket("T1"))
	c := NewCoordinator(ms, openPolicy(), nil, nil)

	// Well-formed token for the right ticket with the wrong secret: a
	// forgery, not a double-scan.
	forged := credential.Encode("T1", "wrong-secret")
	outcome := c.Redeem(context.Background(), forged, "gate-A", time.Now().UTC())

	require.Equal(t, OutcomeRejected, outcome.Kind)
	assert.Equal(t, ReasonCredentialMismatch, outcome.Reason)

	// The forgery must not consume the ticket.
	_, redeems := ms.counts()
	assert.Zero(t, redeems)
}

func TestRedeemEventMismatch(t *testing.T) {
	ms := newMockStore()
	other := testTicket("T1")
	other.EventID = "evt-other"
	ms.add(other)
	c := NewCoordinator(ms, openPolicy(), nil, nil)

	token := credential.Encode("T1", testSecret)
	outcome := c.Redeem(context.Background(), token, "gate-A", time.Now().UTC())

	require.Equal(t, OutcomeRejected, outcome.Kind)
	assert.Equal(t, ReasonEventMismatch, outcome.Reason)
}

func TestRedeemOutsideWindow(t *testing.T) {
	ms := newMockStore()
	ms.add(testTicket("T1"))
	token := credential.Encode("T1", testSecret)

	now := time.Now().UTC()

	tooEarly := GatePolicy{
		EventID:  testEventID,
		OpensAt:  now.Add(time.Hour),
		ClosesAt: now.Add(2 * time.Hour),
	}
	c := NewCoordinator(ms, tooEarly, nil, nil)
	outcome := c.Redeem(context.Background(), token, "gate-A", now)
	require.Equal(t, OutcomeRejected, outcome.Kind)
	assert.Equal(t, ReasonExpired, outcome.Reason)

	tooLate := GatePolicy{
		EventID:  testEventID,
		OpensAt:  now.Add(-2 * time.Hour),
		ClosesAt: now.Add(-time.Hour),
	}
	c = NewCoordinator(ms, tooLate, nil, nil)
	outcome = c.Redeem(context.Background(), token, "gate-A", now)
	require.Equal(t, OutcomeRejected, outcome.Kind)
	assert.Equal(t, ReasonExpired, outcome.Reason)

	// A rejected window check leaves the ticket untouched.
	_, redeems := ms.counts()
	assert.Zero(t, redeems)
}

func TestRedeemCancelledTicket(t *testing.T) {
	ms := newMockStore()
	cancelled := testTicket("T1")
	cancelled.Status = models.StatusCancelled
	ms.add(cancelled)
	c := NewCoordinator(ms, openPolicy(), nil, nil)

	token := credential.Encode("T1", testSecret)

	// Regardless of how often it is scanned, a cancelled ticket is never
	// admitted.
	for i := 0; i < 3; i++ {
		outcome := c.Redeem(context.Background(), token, "gate-A", time.Now().UTC())
		require.Equal(t, OutcomeRejected, outcome.Kind)
		assert.Equal(t, ReasonCancelled, outcome.Reason)
	}
}

func TestRedeemTransientStoreFailure(t *testing.T) {
	ms := newMockStore()
	ms.add(testTicket("T1"))
	token := credential.Encode("T1", testSecret)

	ms.failGet = fmt.Errorf("connection refused: %w", store.ErrUnavailable)
	c := NewCoordinator(ms, openPolicy(), nil, nil)
	outcome := c.Redeem(context.Background(), token, "gate-A", time.Now().UTC())
	require.Equal(t, OutcomeError, outcome.Kind)
	assert.True(t, outcome.Retryable)
	assert.True(t, errors.Is(outcome.Err, store.ErrUnavailable))

	// Failure between the winning write and the response: the retry with
	// the identical request observes used and reports AlreadyUsed.
	ms.failGet = nil
	first := c.Redeem(context.Background(), token, "gate-A", time.Now().UTC())
	require.Equal(t, OutcomeAdmitted, first.Kind)

	retry := c.Redeem(context.Background(), token, "gate-A", time.Now().UTC())
	require.Equal(t, OutcomeRejected, retry.Kind)
	assert.Equal(t, ReasonAlreadyUsed, retry.Reason)
}

func TestRedeemTryRedeemFailureIsRetryable(t *testing.T) {
	ms := newMockStore()
	ms.add(testTicket("T1"))
	ms.failRedeem = fmt.Errorf("write timeout: %w", store.ErrUnavailable)
	c := NewCoordinator(ms, openPolicy(), nil, nil)

	token := credential.Encode("T1", testSecret)
	outcome := c.Redeem(context.Background(), token, "gate-A", time.Now().UTC())

	require.Equal(t, OutcomeError, outcome.Kind)
	assert.True(t, outcome.Retryable)
}

func TestRedeemNotifierFailureDoesNotChangeOutcome(t *testing.T) {
	ms := newMockStore()
	ms.add(testTicket("T1"))
	notifier := &recordingNotifier{failError: errors.New("broker down")}
	c := NewCoordinator(ms, openPolicy(), notifier, nil)

	token := credential.Encode("T1", testSecret)
	outcome := c.Redeem(context.Background(), token, "gate-A", time.Now().UTC())

	assert.Equal(t, OutcomeAdmitted, outcome.Kind)
}

func TestCancelThenRedeemNeverAdmits(t *testing.T) {
	ms := newMockStore()
	ms.add(testTicket("T1"))
	c := NewCoordinator(ms, openPolicy(), nil, nil)

	require.NoError(t, ms.Cancel(context.Background(), "T1"))

	token := credential.Encode("T1", testSecret)
	outcome := c.Redeem(context.Background(), token, "gate-A", time.Now().UTC())

	require.Equal(t, OutcomeRejected, outcome.Kind)
	assert.Equal(t, ReasonCancelled, outcome.Reason)
}
