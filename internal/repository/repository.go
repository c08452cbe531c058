// Package repository is the ticket store: tickets, their append-only status history and
// the registered employees, kept in PostgreSQL.
package repository

// Repository runs every query of the bot against a Database.
type Repository struct {
	db Database
}

// NewRepository creates a new instance of Repository with the provided Database.
// It returns a pointer to the newly created Repository.
func NewRepository(db Database) *Repository {
	return &Repository{db: db}
}
