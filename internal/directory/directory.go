// Package directory resolves who owns a client in the CRM personnel directory and
// looks up staff accounts for registration. The directory is read-only for the bot.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/UnknownOlympus/themis/internal/metrics"
	"github.com/UnknownOlympus/themis/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
)

// ErrClientNotFound is returned when the client id is unknown to the directory.
var ErrClientNotFound = errors.New("client not found in directory")

// Database is the read side of a pgx pool.
type Database interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const ClientExistsSQL = `SELECT EXISTS (SELECT 1 FROM crm_client WHERE id = $1);`

const ClientNameSQL = `
SELECT concat_ws(' ', lastname, firstname, NULLIF(middlename, ''))
FROM crm_client
WHERE id = $1;
`

const ActiveLinksSQL = `
SELECT cu.user_id, u.role_id
FROM crm_client_user cu
JOIN crm_users u ON u.id = cu.user_id
WHERE cu.client_id = $1 AND cu.active = 1;
`

const TemporaryLinksSQL = `
SELECT ct.user_id, u.role_id
FROM crm_client_transfer ct
JOIN crm_users u ON u.id = ct.user_id
WHERE
    ct.client_id = $1
    AND ct.active = 1
    AND (ct.expires_at IS NULL OR ct.expires_at > now())
ORDER BY ct.created_at ASC;
`

const SearchStaffSQL = `
SELECT u.id, concat_ws(' ', u.lastname, u.firstname, NULLIF(u.middlename, '')) AS fullname, u.role_id, r.name
FROM crm_users u
JOIN crm_user_roles r ON r.id = u.role_id
WHERE
    concat_ws(' ', u.lastname, u.firstname, NULLIF(u.middlename, '')) ILIKE $1
    AND u.active = 1
    AND u.email NOT LIKE '%@mobile.test%'
ORDER BY fullname
LIMIT $2;
`

const maxCandidates = 10

// Directory answers ownership and staff questions against the CRM replica.
type Directory struct {
	log      *slog.Logger
	db       Database
	cache    *redis.Client
	metrics  *metrics.Metrics
	roles    RoleMap
	cacheTTL time.Duration
}

// New creates a Directory. A nil cache or a non-positive TTL disables owner caching.
func New(
	log *slog.Logger,
	db Database,
	cache *redis.Client,
	appMetrics *metrics.Metrics,
	roles RoleMap,
	cacheTTL time.Duration,
) *Directory {
	return &Directory{log: log, db: db, cache: cache, metrics: appMetrics, roles: roles, cacheTTL: cacheTTL}
}

// Roles returns the role classification in use.
func (d *Directory) Roles() RoleMap {
	return d.roles
}

// ResolveOwners returns the doc and law owners of a client, with temporary transfers applied.
// A side with no mapped link stays nil.
func (d *Directory) ResolveOwners(ctx context.Context, clientID int64) (models.Owners, error) {
	if owners, ok := d.cachedOwners(ctx, clientID); ok {
		return owners, nil
	}
	defer d.metrics.ObserveQuery("resolve_owners", time.Now())

	var exists bool
	if err := d.db.QueryRow(ctx, ClientExistsSQL, clientID).Scan(&exists); err != nil {
		return models.Owners{}, fmt.Errorf("failed to look up client %d: %w", clientID, err)
	}
	if !exists {
		return models.Owners{}, ErrClientNotFound
	}

	permanent, err := d.links(ctx, ActiveLinksSQL, clientID)
	if err != nil {
		return models.Owners{}, fmt.Errorf("failed to load client links: %w", err)
	}
	temporary, err := d.links(ctx, TemporaryLinksSQL, clientID)
	if err != nil {
		return models.Owners{}, fmt.Errorf("failed to load client transfers: %w", err)
	}

	owners := MergeOwners(permanent, temporary, d.roles)
	d.storeOwners(ctx, clientID, owners)

	return owners, nil
}

func (d *Directory) links(ctx context.Context, query string, clientID int64) ([]Link, error) {
	rows, err := d.db.Query(ctx, query, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		var link Link
		if err = rows.Scan(&link.UserID, &link.RoleID); err != nil {
			return nil, err
		}
		links = append(links, link)
	}

	return links, rows.Err()
}

func ownersKey(clientID int64) string {
	return fmt.Sprintf("themis:owners:%d", clientID)
}

func (d *Directory) cachedOwners(ctx context.Context, clientID int64) (models.Owners, bool) {
	if d.cache == nil || d.cacheTTL <= 0 {
		return models.Owners{}, false
	}

	raw, err := d.cache.Get(ctx, ownersKey(clientID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			d.log.WarnContext(ctx, "Failed to read owners from cache", "client", clientID, "error", err)
			d.metrics.CacheOps.WithLabelValues("get", "error").Inc()
			return models.Owners{}, false
		}
		d.metrics.CacheOps.WithLabelValues("get", "miss").Inc()
		return models.Owners{}, false
	}

	var owners models.Owners
	if err = json.Unmarshal(raw, &owners); err != nil {
		d.metrics.CacheOps.WithLabelValues("get", "error").Inc()
		return models.Owners{}, false
	}
	d.metrics.CacheOps.WithLabelValues("get", "hit").Inc()
	return owners, true
}

func (d *Directory) storeOwners(ctx context.Context, clientID int64, owners models.Owners) {
	if d.cache == nil || d.cacheTTL <= 0 {
		return
	}

	raw, err := json.Marshal(owners)
	if err != nil {
		return
	}
	if err = d.cache.Set(ctx, ownersKey(clientID), raw, d.cacheTTL).Err(); err != nil {
		d.log.WarnContext(ctx, "Failed to cache owners", "client", clientID, "error", err)
		d.metrics.CacheOps.WithLabelValues("set", "error").Inc()
		return
	}
	d.metrics.CacheOps.WithLabelValues("set", "success").Inc()
}

// ClientName returns the display name of a client.
func (d *Directory) ClientName(ctx context.Context, clientID int64) (string, error) {
	defer d.metrics.ObserveQuery("client_name", time.Now())

	var name string
	if err := d.db.QueryRow(ctx, ClientNameSQL, clientID).Scan(&name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrClientNotFound
		}
		return "", fmt.Errorf("failed to get client name: %w", err)
	}

	return name, nil
}

// SearchStaff finds active directory accounts by full name, case-insensitively.
// Service accounts on the mobile test domain are never offered.
func (d *Directory) SearchStaff(ctx context.Context, fullName string) ([]models.StaffCandidate, error) {
	pattern := strings.Join(strings.Fields(fullName), " ")
	if pattern == "" {
		return nil, nil
	}
	defer d.metrics.ObserveQuery("search_staff", time.Now())

	rows, err := d.db.Query(ctx, SearchStaffSQL, pattern, maxCandidates)
	if err != nil {
		return nil, fmt.Errorf("failed to search staff: %w", err)
	}
	defer rows.Close()

	var candidates []models.StaffCandidate
	for rows.Next() {
		var candidate models.StaffCandidate
		if err = rows.Scan(&candidate.KazarmaID, &candidate.FullName, &candidate.RoleID, &candidate.RoleName); err != nil {
			return nil, fmt.Errorf("failed to scan staff row: %w", err)
		}
		candidates = append(candidates, candidate)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return candidates, nil
}
