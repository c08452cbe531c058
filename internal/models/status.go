package models

import "fmt"

// Status is the lifecycle state of a ticket. Values match doc_lib_ticket_status ids.
type Status int

const (
	StatusNew               Status = 1
	StatusInReview          Status = 2
	StatusApproved          Status = 3
	StatusRejected          Status = 4
	StatusAppealPending     Status = 5
	StatusCassationPending  Status = 6
	StatusAppealInReview    Status = 7
	StatusCassationInReview Status = 8
	StatusAppealApproved    Status = 9
	StatusCassationApproved Status = 10
	StatusAppealRejected    Status = 11
	StatusCassationRejected Status = 12
	StatusReset             Status = 13
)

var statusNames = map[Status]string{
	StatusNew:               "new",
	StatusInReview:          "in_review",
	StatusApproved:          "approved",
	StatusRejected:          "rejected",
	StatusAppealPending:     "appeal_pending",
	StatusCassationPending:  "cassation_pending",
	StatusAppealInReview:    "appeal_in_review",
	StatusCassationInReview: "cassation_in_review",
	StatusAppealApproved:    "appeal_approved",
	StatusCassationApproved: "cassation_approved",
	StatusAppealRejected:    "appeal_rejected",
	StatusCassationRejected: "cassation_rejected",
	StatusReset:             "reset",
}

// AllStatuses lists every status in id order.
func AllStatuses() []Status {
	out := make([]Status, 0, len(statusNames))
	for s := StatusNew; s <= StatusReset; s++ {
		out = append(out, s)
	}
	return out
}

// String returns the machine name of the status, e.g. "appeal_pending".
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// IsInReview reports whether a reviewer currently holds the ticket.
func (s Status) IsInReview() bool {
	return s == StatusInReview || s == StatusAppealInReview || s == StatusCassationInReview
}

// IsPending reports whether the ticket waits in the review pool.
func (s Status) IsPending() bool {
	return s == StatusNew || s == StatusAppealPending || s == StatusCassationPending
}

// IsDecided reports whether a reviewer has already approved or rejected the ticket at its current level.
func (s Status) IsDecided() bool {
	switch s {
	case StatusApproved, StatusRejected,
		StatusAppealApproved, StatusAppealRejected,
		StatusCassationApproved, StatusCassationRejected:
		return true
	default:
		return false
	}
}

// IsAppealLevel reports whether the status belongs to the appeal or cassation stage.
func (s Status) IsAppealLevel() bool {
	switch s {
	case StatusAppealPending, StatusAppealInReview, StatusAppealApproved, StatusAppealRejected,
		StatusCassationPending, StatusCassationInReview, StatusCassationApproved, StatusCassationRejected:
		return true
	default:
		return false
	}
}

// PendingStatuses are the statuses a reviewer can pick up from the pool.
func PendingStatuses() []Status {
	return []Status{StatusNew, StatusAppealPending, StatusCassationPending}
}

// InReviewStatuses are the statuses held by exactly one reviewer.
func InReviewStatuses() []Status {
	return []Status{StatusInReview, StatusAppealInReview, StatusCassationInReview}
}
