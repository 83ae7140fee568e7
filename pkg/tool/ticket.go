package tool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TicketToolID is the support ticket creation tool identifier.
const TicketToolID = "ticket.create"

// Ticket is a filed support request.
type Ticket struct {
	ID         string    `json:"id"`
	Summary    string    `json:"summary"`
	Requester  string    `json:"requester"`
	Department string    `json:"department"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// TicketStore holds filed tickets in memory.
type TicketStore struct {
	mu      sync.RWMutex
	tickets []Ticket
}

// NewTicketStore creates an empty ticket store.
func NewTicketStore() *TicketStore {
	return &TicketStore{}
}

// File stores a new ticket and returns it with ID and timestamps set.
func (s *TicketStore) File(summary, requester, department string) Ticket {
	t := Ticket{
		ID:         "tkt-" + uuid.NewString()[:8],
		Summary:    summary,
		Requester:  requester,
		Department: department,
		Status:     "open",
		CreatedAt:  time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets = append(s.tickets, t)
	return t
}

// All returns the filed tickets, oldest first.
func (s *TicketStore) All() []Ticket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Ticket, len(s.tickets))
	copy(out, s.tickets)
	return out
}

// Count returns the number of filed tickets.
func (s *TicketStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tickets)
}

// TicketTool files a support ticket for requests that need a human.
type TicketTool struct {
	store *TicketStore
}

// NewTicketTool creates the ticket.create tool.
func NewTicketTool(store *TicketStore) *TicketTool {
	return &TicketTool{store: store}
}

// ID returns the tool identifier.
func (t *TicketTool) ID() string { return TicketToolID }

// Description returns the planning description.
func (t *TicketTool) Description() string {
	return "File a support ticket when the question needs human follow-up"
}

// Invoke files a ticket for the caller's request.
func (t *TicketTool) Invoke(ctx context.Context, in Input) *Result {
	if err := ctx.Err(); err != nil {
		return Failuref(TicketToolID, "ticket not filed: %v", err)
	}
	if in.Query == "" {
		return Failure(TicketToolID, "a ticket needs a summary")
	}

	filed := t.store.File(snippet(in.Query, 140), in.User.ID, in.User.Department)
	content := fmt.Sprintf("Filed support ticket %s. The service desk responds within one business day.", filed.ID)
	return Success(TicketToolID, content, "ticket:"+filed.ID)
}
