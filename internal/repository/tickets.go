package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/UnknownOlympus/themis/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

var (
	// ErrTicketNotFound is returned when no ticket exists for the client id.
	ErrTicketNotFound = errors.New("ticket not found")
	// ErrTicketExists is returned when a ticket for the client id was already submitted.
	ErrTicketExists = errors.New("ticket already exists")
)

// StaleStatusError is returned by a conditional write when the stored status no longer
// matches any of the expected source statuses.
type StaleStatusError struct {
	Current models.Status
}

func (e *StaleStatusError) Error() string {
	return fmt.Sprintf("ticket status changed concurrently, now %s", e.Current)
}

// Transition is a conditional status change together with the history row that records it.
type Transition struct {
	TicketID    int64
	From        []models.Status // the write succeeds only while the stored status is one of these
	To          models.Status
	SenderID    int64   // Telegram id of the actor
	Comment     *string // new comment, written to both the projection and the history row
	KeepComment bool    // leave the projection comment untouched
}

// CreateTicket inserts a new ticket together with its first history row in one transaction.
// A second submission of the same client id yields ErrTicketExists.
func (r *Repository) CreateTicket(ctx context.Context, ticket models.Ticket, senderID int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // omitted because checking for errors will not affect the function

	_, err = tx.Exec(ctx, InsertTicketSQL, ticket.ID, ticket.DocID, ticket.LawID, int(ticket.Status))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrTicketExists
		}
		return fmt.Errorf("failed to insert ticket: %w", err)
	}

	if _, err = tx.Exec(ctx, InsertHistorySQL, ticket.ID, senderID, int(ticket.Status), ticket.Comment); err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetTicket returns the current projection of a ticket.
func (r *Repository) GetTicket(ctx context.Context, id int64) (models.Ticket, error) {
	ticket, err := scanTicket(r.db.QueryRow(ctx, GetTicketSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, ErrTicketNotFound
		}
		return models.Ticket{}, fmt.Errorf("failed to get ticket %d: %w", id, err)
	}

	return ticket, nil
}

// ApplyTransition updates the projection and appends the history row atomically.
// The update is conditional on the stored status, so of two concurrent claims only one succeeds;
// the loser gets a *StaleStatusError carrying the status it lost to.
func (r *Repository) ApplyTransition(ctx context.Context, tr Transition) (models.Ticket, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return models.Ticket{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // omitted because checking for errors will not affect the function

	ticket, err := scanTicket(tx.QueryRow(ctx, ApplyTransitionSQL,
		tr.TicketID, statusIDs(tr.From), int(tr.To), tr.KeepComment, tr.Comment,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, staleOrMissing(ctx, tx, tr.TicketID)
		}
		return models.Ticket{}, fmt.Errorf("failed to update ticket %d: %w", tr.TicketID, err)
	}

	if _, err = tx.Exec(ctx, InsertHistorySQL, tr.TicketID, tr.SenderID, int(tr.To), tr.Comment); err != nil {
		return models.Ticket{}, fmt.Errorf("failed to insert history entry: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return ticket, nil
}

// ReopenTicket resubmits a reset ticket as NEW with freshly resolved owners.
func (r *Repository) ReopenTicket(ctx context.Context, ticket models.Ticket, senderID int64) (models.Ticket, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return models.Ticket{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // omitted because checking for errors will not affect the function

	reopened, err := scanTicket(tx.QueryRow(ctx, ReopenTicketSQL,
		ticket.ID, ticket.DocID, ticket.LawID, int(models.StatusNew), int(models.StatusReset),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, staleOrMissing(ctx, tx, ticket.ID)
		}
		return models.Ticket{}, fmt.Errorf("failed to reopen ticket %d: %w", ticket.ID, err)
	}

	if _, err = tx.Exec(ctx, InsertHistorySQL, ticket.ID, senderID, int(models.StatusNew), nil); err != nil {
		return models.Ticket{}, fmt.Errorf("failed to insert history entry: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return reopened, nil
}

func staleOrMissing(ctx context.Context, tx pgx.Tx, id int64) error {
	var current models.Status
	if err := tx.QueryRow(ctx, GetTicketStatusSQL, id).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTicketNotFound
		}
		return fmt.Errorf("failed to re-read ticket %d: %w", id, err)
	}
	return &StaleStatusError{Current: current}
}

// ListForReviewPool returns up to limit tickets in the given statuses. With random set the sample
// is shuffled so tickets at the tail of the pool are not starved.
func (r *Repository) ListForReviewPool(
	ctx context.Context,
	statuses []models.Status,
	limit int,
	random bool,
) ([]models.Ticket, error) {
	query := ListReviewPoolSQL
	if random {
		query = ListReviewPoolRandomSQL
	}

	rows, err := r.db.Query(ctx, query, statusIDs(statuses), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query review pool: %w", err)
	}

	return collectTickets(rows)
}

// GetHistory returns the audit trail of a ticket, oldest first.
func (r *Repository) GetHistory(ctx context.Context, ticketID int64) ([]models.HistoryEntry, error) {
	rows, err := r.db.Query(ctx, GetHistorySQL, ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var entry models.HistoryEntry
		if err = rows.Scan(
			&entry.ID, &entry.TicketID, &entry.SenderID, &entry.Status, &entry.Comment, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		entries = append(entries, entry)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return entries, nil
}

// LastHistoryEntry returns the most recent history row of a ticket.
func (r *Repository) LastHistoryEntry(ctx context.Context, ticketID int64) (models.HistoryEntry, error) {
	var entry models.HistoryEntry
	err := r.db.QueryRow(ctx, LastHistoryEntrySQL, ticketID).Scan(
		&entry.ID, &entry.TicketID, &entry.SenderID, &entry.Status, &entry.Comment, &entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.HistoryEntry{}, ErrTicketNotFound
		}
		return models.HistoryEntry{}, fmt.Errorf("failed to get last history entry: %w", err)
	}

	return entry, nil
}

// CountHistory counts how many times the ticket went from one status directly to another.
// Appeal and cassation ceilings are checked against REJECTED -> APPEAL_PENDING and
// APPEAL_REJECTED -> CASSATION_PENDING, so a released review back in the queue is not an appeal.
func (r *Repository) CountHistory(ctx context.Context, ticketID int64, from, to models.Status) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx, CountHistorySQL, ticketID, int(from), int(to)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count history entries: %w", err)
	}

	return count, nil
}

// ResetTickets moves every ticket to RESET in a single statement and returns how many were reset.
func (r *Repository) ResetTickets(ctx context.Context, adminID int64) (int64, error) {
	tag, err := r.db.Exec(ctx, ResetTicketsSQL, adminID, int(models.StatusReset))
	if err != nil {
		return 0, fmt.Errorf("failed to reset tickets: %w", err)
	}

	return tag.RowsAffected(), nil
}

// GetTicketsByOwner returns every ticket where the directory user is the doc or law owner.
func (r *Repository) GetTicketsByOwner(ctx context.Context, kazarmaID int) ([]models.Ticket, error) {
	rows, err := r.db.Query(ctx, GetTicketsByOwnerSQL, kazarmaID)
	if err != nil {
		return nil, fmt.Errorf("failed to query owner tickets: %w", err)
	}

	return collectTickets(rows)
}

// GetRejectedByOwner returns the owner's tickets that wait for an appeal or a cassation.
func (r *Repository) GetRejectedByOwner(ctx context.Context, kazarmaID int) ([]models.Ticket, error) {
	statuses := []models.Status{models.StatusRejected, models.StatusAppealRejected}
	rows, err := r.db.Query(ctx, GetTicketsByOwnerAndStatusSQL, kazarmaID, statusIDs(statuses))
	if err != nil {
		return nil, fmt.Errorf("failed to query rejected tickets: %w", err)
	}

	return collectTickets(rows)
}

// GetAllTickets returns every ticket, most recently updated first.
func (r *Repository) GetAllTickets(ctx context.Context) ([]models.Ticket, error) {
	rows, err := r.db.Query(ctx, GetAllTicketsSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}

	return collectTickets(rows)
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	err := row.Scan(
		&ticket.ID,
		&ticket.DocID,
		&ticket.LawID,
		&ticket.Status,
		&ticket.Comment,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	)
	return ticket, err
}

func collectTickets(rows pgx.Rows) ([]models.Ticket, error) {
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket row: %w", err)
		}
		tickets = append(tickets, ticket)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return tickets, nil
}

func statusIDs(statuses []models.Status) []int {
	ids := make([]int, len(statuses))
	for i, s := range statuses {
		ids[i] = int(s)
	}
	return ids
}
