package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/UnknownOlympus/themis/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrEmployeeNotFound is returned when the Telegram account is not registered.
	ErrEmployeeNotFound = errors.New("employee not found")
	// ErrEmployeeLinked is returned when the directory account is already linked to another Telegram account.
	ErrEmployeeLinked = errors.New("this employee is already linked to a telegram account")
)

// GetEmployee returns the registered employee behind a Telegram id.
func (r *Repository) GetEmployee(ctx context.Context, telegramID int64) (models.Employee, error) {
	employee, err := scanEmployee(r.db.QueryRow(ctx, GetEmployeeSQL, telegramID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Employee{}, ErrEmployeeNotFound
		}
		return models.Employee{}, fmt.Errorf("failed to get employee data: %w", err)
	}

	return employee, nil
}

// RegisterEmployee links a Telegram account to a directory account. Registering again updates the
// name, directory role and cluster but keeps the reviewer and admin flags.
func (r *Repository) RegisterEmployee(ctx context.Context, employee models.Employee) error {
	_, err := r.db.Exec(ctx, UpsertEmployeeSQL,
		employee.ID,
		employee.FullName,
		employee.KazarmaID,
		employee.RoleID,
		employee.RoleName,
		employee.ClusterID,
		employee.IsChecking,
		employee.IsAdmin,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrEmployeeLinked
		}
		return fmt.Errorf("failed to register employee: %w", err)
	}

	return nil
}

// SetEmployeeRole switches the reviewer and admin flags of a registered employee.
func (r *Repository) SetEmployeeRole(ctx context.Context, telegramID int64, role models.Role) error {
	isChecking := role == models.RoleReviewer
	isAdmin := role == models.RoleAdmin

	tag, err := r.db.Exec(ctx, SetEmployeeRoleSQL, telegramID, isChecking, isAdmin)
	if err != nil {
		return fmt.Errorf("failed to update role of %d: %w", telegramID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEmployeeNotFound
	}

	return nil
}

// GetEmployeesByKazarmaIDs returns the registered accounts of the given directory users.
// Directory users that never registered are skipped.
func (r *Repository) GetEmployeesByKazarmaIDs(ctx context.Context, kazarmaIDs []int) ([]models.Employee, error) {
	if len(kazarmaIDs) == 0 {
		return nil, nil
	}

	rows, err := r.db.Query(ctx, GetEmployeesByKazarmaIDsSQL, kazarmaIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}

	return collectEmployees(rows)
}

// GetAdmins returns every administrator.
func (r *Repository) GetAdmins(ctx context.Context) ([]models.Employee, error) {
	rows, err := r.db.Query(ctx, GetAdminsSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query admins: %w", err)
	}

	return collectEmployees(rows)
}

// GetClusters returns the teams a submitter can join at registration.
func (r *Repository) GetClusters(ctx context.Context) ([]models.Cluster, error) {
	rows, err := r.db.Query(ctx, GetClustersSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query clusters: %w", err)
	}
	defer rows.Close()

	var clusters []models.Cluster
	for rows.Next() {
		var cluster models.Cluster
		if err = rows.Scan(&cluster.ID, &cluster.Name); err != nil {
			return nil, fmt.Errorf("failed to scan cluster row: %w", err)
		}
		clusters = append(clusters, cluster)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return clusters, nil
}

func scanEmployee(row pgx.Row) (models.Employee, error) {
	var employee models.Employee
	err := row.Scan(
		&employee.ID,
		&employee.FullName,
		&employee.KazarmaID,
		&employee.RoleID,
		&employee.RoleName,
		&employee.ClusterID,
		&employee.IsChecking,
		&employee.IsAdmin,
		&employee.CreatedAt,
	)
	return employee, err
}

func collectEmployees(rows pgx.Rows) ([]models.Employee, error) {
	defer rows.Close()

	var employees []models.Employee
	for rows.Next() {
		employee, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan employee row: %w", err)
		}
		employees = append(employees, employee)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return employees, nil
}
