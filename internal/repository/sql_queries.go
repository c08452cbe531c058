package repository

const ticketColumns = `id, doc_id, law_id, status_id, comment, created_at, updated_at`

const InsertTicketSQL = `
INSERT INTO doc_tickets (id, doc_id, law_id, status_id)
VALUES ($1, $2, $3, $4);
`

const InsertHistorySQL = `
INSERT INTO doc_ticket_status_history (ticket_id, sender_id, status_id, comment)
VALUES ($1, $2, $3, $4);
`

const GetTicketSQL = `SELECT ` + ticketColumns + ` FROM doc_tickets WHERE id = $1;`

const GetTicketStatusSQL = `SELECT status_id FROM doc_tickets WHERE id = $1;`

// ApplyTransitionSQL moves the projection only when the stored status is still one of $2.
// $4 keeps the stored comment, otherwise it is replaced by $5.
const ApplyTransitionSQL = `
UPDATE doc_tickets
SET
    status_id = $3,
    comment = CASE WHEN $4::boolean THEN comment ELSE $5::text END,
    updated_at = now()
WHERE
    id = $1
    AND status_id = ANY($2)
RETURNING ` + ticketColumns + `;
`

const ReopenTicketSQL = `
UPDATE doc_tickets
SET
    doc_id = $2,
    law_id = $3,
    status_id = $4,
    comment = NULL,
    updated_at = now()
WHERE
    id = $1
    AND status_id = $5
RETURNING ` + ticketColumns + `;
`

const ListReviewPoolSQL = `
SELECT ` + ticketColumns + `
FROM doc_tickets
WHERE status_id = ANY($1)
ORDER BY updated_at ASC
LIMIT $2;
`

const ListReviewPoolRandomSQL = `
SELECT ` + ticketColumns + `
FROM doc_tickets
WHERE status_id = ANY($1)
ORDER BY random()
LIMIT $2;
`

const GetHistorySQL = `
SELECT id, ticket_id, sender_id, status_id, comment, created_at
FROM doc_ticket_status_history
WHERE ticket_id = $1
ORDER BY created_at ASC, id ASC;
`

const LastHistoryEntrySQL = `
SELECT id, ticket_id, sender_id, status_id, comment, created_at
FROM doc_ticket_status_history
WHERE ticket_id = $1
ORDER BY created_at DESC, id DESC
LIMIT 1;
`

// CountHistorySQL counts how often the history of a ticket moves from status $2 straight to $3.
const CountHistorySQL = `
SELECT count(*)
FROM (
    SELECT status_id, lag(status_id) OVER (ORDER BY created_at, id) AS previous_id
    FROM doc_ticket_status_history
    WHERE ticket_id = $1
) AS h
WHERE h.previous_id = $2 AND h.status_id = $3;
`

// ResetTicketsSQL moves every ticket that is not reset yet to $2 and writes one history row per ticket.
const ResetTicketsSQL = `
WITH reset AS (
    UPDATE doc_tickets
    SET status_id = $2, comment = NULL, updated_at = now()
    WHERE status_id <> $2
    RETURNING id
)
INSERT INTO doc_ticket_status_history (ticket_id, sender_id, status_id)
SELECT id, $1::bigint, $2::smallint FROM reset;
`

const GetTicketsByOwnerSQL = `
SELECT ` + ticketColumns + `
FROM doc_tickets
WHERE doc_id = $1 OR law_id = $1
ORDER BY updated_at DESC;
`

const GetTicketsByOwnerAndStatusSQL = `
SELECT ` + ticketColumns + `
FROM doc_tickets
WHERE (doc_id = $1 OR law_id = $1) AND status_id = ANY($2)
ORDER BY updated_at DESC;
`

const GetAllTicketsSQL = `
SELECT ` + ticketColumns + `
FROM doc_tickets
ORDER BY updated_at DESC;
`

const employeeColumns = `id, fullname, kazarma_id, role_id, role_name, cluster_id, is_checking, is_admin, created_at`

const GetEmployeeSQL = `SELECT ` + employeeColumns + ` FROM doc_users WHERE id = $1;`

const UpsertEmployeeSQL = `
INSERT INTO doc_users (id, fullname, kazarma_id, role_id, role_name, cluster_id, is_checking, is_admin)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
    fullname = EXCLUDED.fullname,
    kazarma_id = EXCLUDED.kazarma_id,
    role_id = EXCLUDED.role_id,
    role_name = EXCLUDED.role_name,
    cluster_id = EXCLUDED.cluster_id,
    updated_at = now();
`

const SetEmployeeRoleSQL = `
UPDATE doc_users
SET is_checking = $2, is_admin = $3, updated_at = now()
WHERE id = $1;
`

const GetEmployeesByKazarmaIDsSQL = `
SELECT ` + employeeColumns + `
FROM doc_users
WHERE kazarma_id = ANY($1);
`

const GetAdminsSQL = `
SELECT ` + employeeColumns + `
FROM doc_users
WHERE is_admin = TRUE
ORDER BY id;
`

const GetClustersSQL = `SELECT id, name FROM doc_clusters ORDER BY name;`
