package models

import "time"

// Ticket is the current-state projection of one submitted client.
// ID is the CRM client id, never generated locally.
type Ticket struct {
	ID        int64     `json:"id"`         // CRM client id
	DocID     *int      `json:"doc_id"`     // directory id of the doc-side owner, nil when unresolved
	LawID     *int      `json:"law_id"`     // directory id of the law-side owner, nil when unresolved
	Status    Status    `json:"status"`     // current lifecycle status
	Comment   *string   `json:"comment"`    // latest reviewer or appellant comment
	CreatedAt time.Time `json:"created_at"` // submission time
	UpdatedAt time.Time `json:"updated_at"` // last transition time
}

// Owners returns the doc/law owners recorded on the ticket.
func (t Ticket) Owners() Owners {
	return Owners{DocID: t.DocID, LawID: t.LawID}
}

// HistoryEntry is one row of the append-only audit log.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	TicketID  int64     `json:"ticket_id"`
	SenderID  int64     `json:"sender_id"` // Telegram id of the actor
	Status    Status    `json:"status"`    // status entered by this transition
	Comment   *string   `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

// Owners holds the two directory employees a client is linked to.
type Owners struct {
	DocID *int `json:"doc_id"`
	LawID *int `json:"law_id"`
}

// IDs returns the resolved owner ids, skipping unresolved sides.
func (o Owners) IDs() []int {
	ids := make([]int, 0, 2) //nolint:mnd // doc + law
	if o.DocID != nil {
		ids = append(ids, *o.DocID)
	}
	if o.LawID != nil && (o.DocID == nil || *o.LawID != *o.DocID) {
		ids = append(ids, *o.LawID)
	}
	return ids
}

// Has reports whether the directory id is one of the owners.
func (o Owners) Has(kazarmaID int) bool {
	return (o.DocID != nil && *o.DocID == kazarmaID) || (o.LawID != nil && *o.LawID == kazarmaID)
}

// Empty reports whether neither side could be resolved.
func (o Owners) Empty() bool {
	return o.DocID == nil && o.LawID == nil
}
