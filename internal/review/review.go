// Package review is the entry point of the ticket lifecycle. Every action loads the ticket,
// asks the status machine whether it is legal, commits it with a conditional write and
// announces the result after commit.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/UnknownOlympus/themis/internal/directory"
	"github.com/UnknownOlympus/themis/internal/metrics"
	"github.com/UnknownOlympus/themis/internal/models"
	"github.com/UnknownOlympus/themis/internal/repository"
	"github.com/UnknownOlympus/themis/internal/session"
	"github.com/UnknownOlympus/themis/internal/workflow"
)

const announceTimeout = 5 * time.Minute

// Tickets is the ticket store.
type Tickets interface {
	CreateTicket(ctx context.Context, ticket models.Ticket, senderID int64) error
	GetTicket(ctx context.Context, id int64) (models.Ticket, error)
	ApplyTransition(ctx context.Context, tr repository.Transition) (models.Ticket, error)
	ReopenTicket(ctx context.Context, ticket models.Ticket, senderID int64) (models.Ticket, error)
	ListForReviewPool(ctx context.Context, statuses []models.Status, limit int, random bool) ([]models.Ticket, error)
	GetHistory(ctx context.Context, ticketID int64) ([]models.HistoryEntry, error)
	LastHistoryEntry(ctx context.Context, ticketID int64) (models.HistoryEntry, error)
	CountHistory(ctx context.Context, ticketID int64, from, to models.Status) (int, error)
	ResetTickets(ctx context.Context, adminID int64) (int64, error)
	GetTicketsByOwner(ctx context.Context, kazarmaID int) ([]models.Ticket, error)
	GetRejectedByOwner(ctx context.Context, kazarmaID int) ([]models.Ticket, error)
	GetAllTickets(ctx context.Context) ([]models.Ticket, error)
}

// Directory resolves the owners of a client.
type Directory interface {
	ResolveOwners(ctx context.Context, clientID int64) (models.Owners, error)
}

// Sessions is the per-reviewer claim tracker.
type Sessions interface {
	TryClaim(ctx context.Context, reviewerID, ticketID int64) (session.Session, error)
	Get(ctx context.Context, reviewerID int64) (session.Session, error)
	SetDecision(ctx context.Context, reviewerID int64, token string, decision session.Decision) (session.Session, error)
	Release(ctx context.Context, reviewerID int64, token string) error
	ForceRelease(ctx context.Context, reviewerID int64) error
	ResetAll(ctx context.Context) (int, error)
}

// Toggles are the operator switches read on every request.
type Toggles interface {
	SendClient() bool
	SendAppeal() bool
}

// Announcer delivers committed transitions to their audience.
type Announcer interface {
	Announce(ctx context.Context, ev Event)
}

// Event is a committed transition.
type Event struct {
	Action   workflow.Action
	Audience workflow.Audience
	Ticket   models.Ticket
	ActorID  int64 // Telegram id of the actor
	// Escalation is the action the owners may take next after a rejection, zero when none is left.
	Escalation workflow.Action
}

// Candidate is a rejected ticket that can still be contested.
type Candidate struct {
	Ticket models.Ticket
	Next   workflow.Action
}

// ResetResult reports what an admin reset touched.
type ResetResult struct {
	Tickets  int64
	Sessions int
}

// Dependencies groups everything the service needs.
type Dependencies struct {
	Log       *slog.Logger
	Tickets   Tickets
	Directory Directory
	Sessions  Sessions
	Announcer Announcer
	Toggles   Toggles
	Metrics   *metrics.Metrics
	Policy    workflow.Policy
}

// Service implements the review entry points.
type Service struct {
	log       *slog.Logger
	tickets   Tickets
	directory Directory
	sessions  Sessions
	announcer Announcer
	toggles   Toggles
	metrics   *metrics.Metrics
	machine   *workflow.Machine

	wg sync.WaitGroup
}

// NewService creates a Service from its dependencies.
func NewService(deps Dependencies) *Service {
	return &Service{
		log:       deps.Log,
		tickets:   deps.Tickets,
		directory: deps.Directory,
		sessions:  deps.Sessions,
		announcer: deps.Announcer,
		toggles:   deps.Toggles,
		metrics:   deps.Metrics,
		machine:   workflow.NewMachine(deps.Policy),
	}
}

// Policy returns the escalation ceilings in force.
func (s *Service) Policy() workflow.Policy {
	return s.machine.Policy()
}

// Wait blocks until every announcement launched so far has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Submit sends a client for review. Only an owner of the client may submit it, and only once
// unless an admin reset it in the meantime.
func (s *Service) Submit(ctx context.Context, actor models.Employee, clientID int64) (models.Ticket, error) {
	if s.toggles != nil && !s.toggles.SendClient() {
		return models.Ticket{}, s.observe(workflow.ActionSubmit, workflow.ErrDisabled)
	}

	owners, err := s.directory.ResolveOwners(ctx, clientID)
	if err != nil {
		if errors.Is(err, directory.ErrClientNotFound) {
			return models.Ticket{}, s.observe(workflow.ActionSubmit, err)
		}
		return models.Ticket{}, s.observe(workflow.ActionSubmit, storageErr("resolve owners", err))
	}

	current, exists, err := s.lookup(ctx, clientID)
	if err != nil {
		return models.Ticket{}, s.observe(workflow.ActionSubmit, err)
	}

	_, err = s.machine.Next(workflow.Request{
		Action:  workflow.ActionSubmit,
		Exists:  exists,
		Current: current.Status,
		Actor:   actingRole(workflow.ActionSubmit, actor),
		IsOwner: directory.AuthorizeSubmit(actor.KazarmaID, owners),
	})
	if err != nil {
		return models.Ticket{}, s.observe(workflow.ActionSubmit, err)
	}

	ticket := models.Ticket{ID: clientID, DocID: owners.DocID, LawID: owners.LawID, Status: models.StatusNew}
	if exists {
		ticket, err = s.tickets.ReopenTicket(ctx, ticket, actor.ID)
		if err != nil {
			return models.Ticket{}, s.observe(workflow.ActionSubmit, s.writeErr(workflow.Request{
				Action: workflow.ActionSubmit, Exists: true, Actor: models.RoleSubmitter, IsOwner: true,
			}, err))
		}
	} else {
		err = s.tickets.CreateTicket(ctx, ticket, actor.ID)
		if errors.Is(err, repository.ErrTicketExists) {
			// Lost a race against another owner submitting the same client.
			if stored, errGet := s.tickets.GetTicket(ctx, clientID); errGet == nil {
				err = &workflow.StatusError{Kind: workflow.ErrInvalidTransition, Current: stored.Status}
			} else {
				err = &workflow.StatusError{Kind: workflow.ErrInvalidTransition, Current: models.StatusNew}
			}
			return models.Ticket{}, s.observe(workflow.ActionSubmit, err)
		}
		if err != nil {
			return models.Ticket{}, s.observe(workflow.ActionSubmit, storageErr("create ticket", err))
		}
		ticket.CreatedAt = time.Now().UTC()
		ticket.UpdatedAt = ticket.CreatedAt
	}

	s.committed(ctx, workflow.ActionSubmit, ticket, actor.ID)
	s.announce(Event{
		Action:   workflow.ActionSubmit,
		Audience: workflow.AudienceReviewers,
		Ticket:   ticket,
		ActorID:  actor.ID,
	})
	return ticket, nil
}

// Claim binds the ticket to the reviewer. The reviewer's session is opened first and dropped
// again if the ticket-level write loses.
func (s *Service) Claim(ctx context.Context, actor models.Employee, clientID int64) (models.Ticket, error) {
	ticket, exists, err := s.lookup(ctx, clientID)
	if err != nil {
		return models.Ticket{}, s.observe(workflow.ActionClaim, err)
	}

	req := workflow.Request{
		Action:  workflow.ActionClaim,
		Exists:  exists,
		Current: ticket.Status,
		Actor:   actingRole(workflow.ActionClaim, actor),
	}
	dec, err := s.machine.Next(req)
	if err != nil {
		return models.Ticket{}, s.observe(workflow.ActionClaim, err)
	}

	claim, err := s.sessions.TryClaim(ctx, actor.ID, clientID)
	if err != nil {
		if errors.Is(err, session.ErrAlreadyActive) {
			return models.Ticket{}, s.observe(workflow.ActionClaim, fmt.Errorf("%w: %w", workflow.ErrAlreadyClaimed, err))
		}
		return models.Ticket{}, s.observe(workflow.ActionClaim, storageErr("open review session", err))
	}

	claimed, err := s.tickets.ApplyTransition(ctx, repository.Transition{
		TicketID:    clientID,
		From:        dec.From,
		To:          dec.To,
		SenderID:    actor.ID,
		KeepComment: dec.KeepComment,
	})
	if err != nil {
		s.release(ctx, actor.ID, claim.Token)
		return models.Ticket{}, s.observe(workflow.ActionClaim, s.writeErr(req, err))
	}

	s.committed(ctx, workflow.ActionClaim, claimed, actor.ID)
	return claimed, nil
}

// Choose records the reviewer's verdict for the ticket under review. The verdict is committed
// by Decide once the comment arrives.
func (s *Service) Choose(
	ctx context.Context,
	actor models.Employee,
	clientID int64,
	decision session.Decision,
) (session.Session, error) {
	current, err := s.activeSession(ctx, actor.ID)
	if err != nil {
		return session.Session{}, err
	}
	if current.TicketID != clientID {
		return session.Session{}, &workflow.StatusError{Kind: workflow.ErrAlreadyClaimed, Current: models.StatusInReview}
	}

	updated, err := s.sessions.SetDecision(ctx, actor.ID, current.Token, decision)
	if err != nil {
		return session.Session{}, sessionErr(err)
	}
	return updated, nil
}

// CancelDecision takes back a verdict whose comment has not been sent yet.
func (s *Service) CancelDecision(ctx context.Context, actor models.Employee) (session.Session, error) {
	current, err := s.activeSession(ctx, actor.ID)
	if err != nil {
		return session.Session{}, err
	}
	updated, err := s.sessions.SetDecision(ctx, actor.ID, current.Token, session.DecisionNone)
	if err != nil {
		return session.Session{}, sessionErr(err)
	}
	return updated, nil
}

// Decide commits the verdict chosen earlier together with the reviewer's comment and closes the session.
func (s *Service) Decide(ctx context.Context, actor models.Employee, comment string) (models.Ticket, error) {
	current, err := s.activeSession(ctx, actor.ID)
	if err != nil {
		return models.Ticket{}, err
	}

	var action workflow.Action
	switch current.Decision {
	case session.DecisionApprove:
		action = workflow.ActionApprove
	case session.DecisionReject:
		action = workflow.ActionReject
	default:
		return models.Ticket{}, fmt.Errorf("%w: no verdict chosen", workflow.ErrInvalidTransition)
	}

	ticket, exists, err := s.lookup(ctx, current.TicketID)
	if err != nil {
		return models.Ticket{}, s.observe(action, err)
	}

	holds := false
	if exists {
		last, errLast := s.tickets.LastHistoryEntry(ctx, ticket.ID)
		if errLast != nil && !errors.Is(errLast, repository.ErrTicketNotFound) {
			return models.Ticket{}, s.observe(action, storageErr("read last history entry", errLast))
		}
		holds = errLast == nil && last.SenderID == actor.ID && last.Status == ticket.Status
	}

	req := workflow.Request{
		Action:     action,
		Exists:     exists,
		Current:    ticket.Status,
		Actor:      actingRole(action, actor),
		HoldsClaim: holds,
	}
	dec, err := s.machine.Next(req)
	if err != nil {
		// The ticket moved on without this reviewer, so the session can never complete.
		if workflow.IsBusinessOutcome(err) {
			s.release(ctx, actor.ID, current.Token)
		}
		return models.Ticket{}, s.observe(action, err)
	}

	decided, err := s.tickets.ApplyTransition(ctx, repository.Transition{
		TicketID: ticket.ID,
		From:     dec.From,
		To:       dec.To,
		SenderID: actor.ID,
		Comment:  optional(comment),
	})
	if err != nil {
		return models.Ticket{}, s.observe(action, s.writeErr(req, err))
	}

	s.release(ctx, actor.ID, current.Token)
	s.committed(ctx, action, decided, actor.ID)

	ev := Event{Action: action, Audience: dec.Audience, Ticket: decided, ActorID: actor.ID}
	if action == workflow.ActionReject {
		ev.Escalation = s.escalation(ctx, decided)
	}
	s.announce(ev)
	return decided, nil
}

// Appeal contests a first-level rejection.
func (s *Service) Appeal(ctx context.Context, actor models.Employee, clientID int64, comment string) (models.Ticket, error) {
	return s.escalate(ctx, workflow.ActionAppeal, actor, clientID, comment)
}

// Cassation contests a rejected appeal.
func (s *Service) Cassation(
	ctx context.Context,
	actor models.Employee,
	clientID int64,
	comment string,
) (models.Ticket, error) {
	return s.escalate(ctx, workflow.ActionCassation, actor, clientID, comment)
}

func (s *Service) escalate(
	ctx context.Context,
	action workflow.Action,
	actor models.Employee,
	clientID int64,
	comment string,
) (models.Ticket, error) {
	if s.toggles != nil && !s.toggles.SendAppeal() {
		return models.Ticket{}, s.observe(action, workflow.ErrDisabled)
	}

	ticket, exists, err := s.lookup(ctx, clientID)
	if err != nil {
		return models.Ticket{}, s.observe(action, err)
	}

	req := workflow.Request{
		Action:  action,
		Exists:  exists,
		Current: ticket.Status,
		Actor:   actingRole(action, actor),
		IsOwner: ticket.Owners().Has(actor.KazarmaID),
	}
	if exists {
		var errCount error
		if action == workflow.ActionAppeal {
			req.AppealsUsed, errCount = s.tickets.CountHistory(
				ctx, clientID, models.StatusRejected, models.StatusAppealPending,
			)
		} else {
			req.CassationsUsed, errCount = s.tickets.CountHistory(
				ctx, clientID, models.StatusAppealRejected, models.StatusCassationPending,
			)
		}
		if errCount != nil {
			return models.Ticket{}, s.observe(action, storageErr("count escalations", errCount))
		}
	}

	dec, err := s.machine.Next(req)
	if err != nil {
		return models.Ticket{}, s.observe(action, err)
	}

	escalated, err := s.tickets.ApplyTransition(ctx, repository.Transition{
		TicketID: clientID,
		From:     dec.From,
		To:       dec.To,
		SenderID: actor.ID,
		Comment:  optional(comment),
	})
	if err != nil {
		return models.Ticket{}, s.observe(action, s.writeErr(req, err))
	}

	s.committed(ctx, action, escalated, actor.ID)
	s.announce(Event{Action: action, Audience: dec.Audience, Ticket: escalated, ActorID: actor.ID})
	return escalated, nil
}

// Reset moves every ticket to RESET and drops all review sessions. Admins only.
func (s *Service) Reset(ctx context.Context, actor models.Employee) (ResetResult, error) {
	_, err := s.machine.Next(workflow.Request{
		Action: workflow.ActionReset,
		Exists: true,
		Actor:  actingRole(workflow.ActionReset, actor),
	})
	if err != nil {
		return ResetResult{}, s.observe(workflow.ActionReset, err)
	}

	var result ResetResult
	if result.Tickets, err = s.tickets.ResetTickets(ctx, actor.ID); err != nil {
		return ResetResult{}, s.observe(workflow.ActionReset, storageErr("reset tickets", err))
	}
	if result.Sessions, err = s.sessions.ResetAll(ctx); err != nil {
		return result, s.observe(workflow.ActionReset, storageErr("reset review sessions", err))
	}

	s.observe(workflow.ActionReset, nil)
	s.log.InfoContext(ctx, "Tickets reset", "admin", actor.ID, "tickets", result.Tickets, "sessions", result.Sessions)
	return result, nil
}

// ReleaseReviewer frees a reviewer who left a ticket hanging. The session is dropped and the
// ticket goes back to the queue it was claimed from, announced to the checking group again.
// A ticket that already left review only loses the session. Admins only.
func (s *Service) ReleaseReviewer(ctx context.Context, actor models.Employee, reviewerID int64) (models.Ticket, error) {
	if !actor.IsAdmin {
		return models.Ticket{}, s.observe(workflow.ActionRelease, workflow.ErrUnauthorized)
	}

	current, err := s.activeSession(ctx, reviewerID)
	if err != nil {
		return models.Ticket{}, err
	}

	ticket, exists, err := s.lookup(ctx, current.TicketID)
	if err != nil {
		return models.Ticket{}, s.observe(workflow.ActionRelease, err)
	}
	if !exists {
		ticket.ID = current.TicketID
	}

	dec, judged := s.machine.Next(workflow.Request{
		Action:  workflow.ActionRelease,
		Exists:  exists,
		Current: ticket.Status,
		Actor:   actingRole(workflow.ActionRelease, actor),
	})
	if judged == nil {
		released, errWrite := s.tickets.ApplyTransition(ctx, repository.Transition{
			TicketID:    ticket.ID,
			From:        dec.From,
			To:          dec.To,
			SenderID:    actor.ID,
			KeepComment: dec.KeepComment,
		})
		var stale *repository.StaleStatusError
		switch {
		case errWrite == nil:
			ticket = released
			s.committed(ctx, workflow.ActionRelease, released, actor.ID)
			s.announce(Event{
				Action:   workflow.ActionRelease,
				Audience: dec.Audience,
				Ticket:   released,
				ActorID:  actor.ID,
			})
		case errors.As(errWrite, &stale):
			ticket.Status = stale.Current
		default:
			return models.Ticket{}, s.observe(workflow.ActionRelease, storageErr("release ticket", errWrite))
		}
	}

	if err = s.sessions.ForceRelease(ctx, reviewerID); err != nil {
		return models.Ticket{}, s.observe(workflow.ActionRelease, storageErr("release review session", err))
	}

	s.log.InfoContext(ctx, "Review session released",
		"admin", actor.ID, "reviewer", reviewerID, "client", ticket.ID, "status", ticket.Status.String())
	return ticket, nil
}

// History returns the audit log of a ticket, oldest first.
func (s *Service) History(ctx context.Context, clientID int64) ([]models.HistoryEntry, error) {
	entries, err := s.tickets.GetHistory(ctx, clientID)
	if err != nil {
		return nil, storageErr("read history", err)
	}
	if len(entries) == 0 {
		return nil, workflow.ErrNotFound
	}
	return entries, nil
}

// ReviewPool returns a random sample of tickets waiting for a reviewer.
func (s *Service) ReviewPool(ctx context.Context, actor models.Employee, limit int) ([]models.Ticket, error) {
	if !actor.IsChecking && !actor.IsAdmin {
		return nil, workflow.ErrUnauthorized
	}
	tickets, err := s.tickets.ListForReviewPool(ctx, models.PendingStatuses(), limit, true)
	if err != nil {
		return nil, storageErr("list review pool", err)
	}
	return tickets, nil
}

// AppealCandidates returns the actor's rejected tickets that still have an escalation left.
func (s *Service) AppealCandidates(ctx context.Context, actor models.Employee) ([]Candidate, error) {
	rejected, err := s.tickets.GetRejectedByOwner(ctx, actor.KazarmaID)
	if err != nil {
		return nil, storageErr("list rejected tickets", err)
	}

	candidates := make([]Candidate, 0, len(rejected))
	for _, ticket := range rejected {
		appeals, cassations, errCount := s.escalationsUsed(ctx, ticket.ID)
		if errCount != nil {
			return nil, errCount
		}
		if next, ok := s.machine.NextOnReject(ticket.Status, appeals, cassations); ok {
			candidates = append(candidates, Candidate{Ticket: ticket, Next: next})
		}
	}
	return candidates, nil
}

// ExportOwn returns every ticket the actor owns.
func (s *Service) ExportOwn(ctx context.Context, actor models.Employee) ([]models.Ticket, error) {
	tickets, err := s.tickets.GetTicketsByOwner(ctx, actor.KazarmaID)
	if err != nil {
		return nil, storageErr("list own tickets", err)
	}
	return tickets, nil
}

// ExportAll returns every ticket. Admins only.
func (s *Service) ExportAll(ctx context.Context, actor models.Employee) ([]models.Ticket, error) {
	if !actor.IsAdmin {
		return nil, workflow.ErrUnauthorized
	}
	tickets, err := s.tickets.GetAllTickets(ctx)
	if err != nil {
		return nil, storageErr("list tickets", err)
	}
	return tickets, nil
}

// lookup loads the ticket and reports whether it exists.
func (s *Service) lookup(ctx context.Context, clientID int64) (models.Ticket, bool, error) {
	ticket, err := s.tickets.GetTicket(ctx, clientID)
	if err != nil {
		if errors.Is(err, repository.ErrTicketNotFound) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, storageErr("get ticket", err)
	}
	return ticket, true, nil
}

func (s *Service) activeSession(ctx context.Context, reviewerID int64) (session.Session, error) {
	current, err := s.sessions.Get(ctx, reviewerID)
	if err != nil {
		return session.Session{}, sessionErr(err)
	}
	return current, nil
}

// writeErr maps a failed conditional write. A stale status is judged again against the status
// that won, so the loser of a claim race sees AlreadyClaimed and not a storage failure.
func (s *Service) writeErr(req workflow.Request, err error) error {
	var stale *repository.StaleStatusError
	switch {
	case errors.As(err, &stale):
		req.Current = stale.Current
		req.Exists = true
		if _, judged := s.machine.Next(req); judged != nil {
			return judged
		}
		return &workflow.StatusError{Kind: workflow.ErrAlreadyClaimed, Current: stale.Current}
	case errors.Is(err, repository.ErrTicketNotFound):
		return workflow.ErrNotFound
	default:
		return storageErr("apply transition", err)
	}
}

func (s *Service) escalationsUsed(ctx context.Context, ticketID int64) (int, int, error) {
	appeals, err := s.tickets.CountHistory(ctx, ticketID, models.StatusRejected, models.StatusAppealPending)
	if err != nil {
		return 0, 0, storageErr("count appeals", err)
	}
	cassations, err := s.tickets.CountHistory(ctx, ticketID, models.StatusAppealRejected, models.StatusCassationPending)
	if err != nil {
		return 0, 0, storageErr("count cassations", err)
	}
	return appeals, cassations, nil
}

// escalation returns the next action the owners may take after a rejection. A counting failure
// hides the button rather than failing the committed rejection.
func (s *Service) escalation(ctx context.Context, ticket models.Ticket) workflow.Action {
	appeals, cassations, err := s.escalationsUsed(ctx, ticket.ID)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to count escalations", "client", ticket.ID, "error", err)
		return 0
	}
	if next, ok := s.machine.NextOnReject(ticket.Status, appeals, cassations); ok {
		return next
	}
	return 0
}

func (s *Service) release(ctx context.Context, reviewerID int64, token string) {
	err := s.sessions.Release(ctx, reviewerID, token)
	if err != nil && !errors.Is(err, session.ErrNoSession) {
		s.log.WarnContext(ctx, "Failed to release review session", "reviewer", reviewerID, "error", err)
	}
}

func (s *Service) committed(ctx context.Context, action workflow.Action, ticket models.Ticket, actorID int64) {
	s.observe(action, nil)
	s.log.InfoContext(ctx, "Ticket transition committed",
		"action", action.String(), "client", ticket.ID, "status", ticket.Status.String(), "actor", actorID)
}

// announce hands the event to the announcer on its own goroutine. Delivery problems never
// reach the actor and never undo the transition.
func (s *Service) announce(ev Event) {
	if s.announcer == nil || ev.Audience == workflow.AudienceNone {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), announceTimeout)
		defer cancel()
		s.announcer.Announce(ctx, ev)
	}()
}

// observe counts the outcome of an action and returns err unchanged.
func (s *Service) observe(action workflow.Action, err error) error {
	if s.metrics == nil {
		return err
	}
	outcome := "ok"
	switch {
	case err == nil:
	case workflow.IsBusinessOutcome(err), errors.Is(err, directory.ErrClientNotFound):
		outcome = "rejected"
	default:
		outcome = "error"
	}
	s.metrics.Transitions.WithLabelValues(action.String(), outcome).Inc()
	return err
}

// actingRole is the capacity the employee acts in for the given action.
func actingRole(action workflow.Action, actor models.Employee) models.Role {
	switch action {
	case workflow.ActionClaim, workflow.ActionApprove, workflow.ActionReject:
		if actor.IsChecking {
			return models.RoleReviewer
		}
		return models.RoleSubmitter
	case workflow.ActionReset, workflow.ActionRelease:
		return actor.Role()
	case workflow.ActionSubmit, workflow.ActionAppeal, workflow.ActionCassation:
		if actor.IsChecking && !actor.IsAdmin {
			return models.RoleReviewer
		}
		return models.RoleSubmitter
	default:
		return actor.Role()
	}
}

func sessionErr(err error) error {
	switch {
	case errors.Is(err, session.ErrNoSession):
		return fmt.Errorf("%w: %w", workflow.ErrInvalidTransition, err)
	case errors.Is(err, session.ErrTokenMismatch):
		return fmt.Errorf("%w: %w", workflow.ErrAlreadyClaimed, err)
	default:
		return storageErr("review session", err)
	}
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", workflow.ErrStorage, op, err)
}

func optional(text string) *string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return &text
}
