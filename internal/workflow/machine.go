// Package workflow holds the ticket status machine: which action is legal in which status,
// what status it leads to and who has to hear about it. It does no I/O.
package workflow

import (
	"fmt"

	"github.com/UnknownOlympus/themis/internal/models"
)

// Action is an inbound request against a ticket.
type Action int

const (
	ActionSubmit Action = iota + 1
	ActionClaim
	ActionApprove
	ActionReject
	ActionAppeal
	ActionCassation
	ActionReset
	ActionRelease
)

func (a Action) String() string {
	switch a {
	case ActionSubmit:
		return "submit"
	case ActionClaim:
		return "claim"
	case ActionApprove:
		return "approve"
	case ActionReject:
		return "reject"
	case ActionAppeal:
		return "appeal"
	case ActionCassation:
		return "cassation"
	case ActionReset:
		return "reset"
	case ActionRelease:
		return "release"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Audience says who must be told about a committed transition.
type Audience int

const (
	AudienceNone      Audience = iota
	AudienceReviewers          // the checking group
	AudienceOwners             // doc/law employees of the client
)

// Policy holds the configurable escalation ceilings.
type Policy struct {
	AppealLimit    int // maximum number of appeals per ticket
	CassationLimit int // maximum number of cassations per ticket
}

// DefaultPolicy mirrors production: two appeals, one cassation.
func DefaultPolicy() Policy {
	return Policy{AppealLimit: 2, CassationLimit: 1} //nolint:mnd // production ceilings
}

// Request describes an action together with everything the machine needs to judge it.
type Request struct {
	Action         Action
	Exists         bool          // whether a ticket row exists
	Current        models.Status // current status, ignored when Exists is false
	Actor          models.Role
	IsOwner        bool // actor is the doc or law owner of the client
	HoldsClaim     bool // actor is the reviewer who claimed the ticket
	AppealsUsed    int  // history entries with APPEAL_PENDING
	CassationsUsed int  // history entries with CASSATION_PENDING
}

// Decision is the outcome of a legal transition.
type Decision struct {
	From         []models.Status // statuses the conditional write may start from
	To           models.Status
	Audience     Audience
	KeepComment  bool // the transition leaves the stored comment untouched
	ClearComment bool // the transition wipes the stored comment
	StartsReview bool // a reviewer session is bound to the ticket
	EndsReview   bool // the reviewer session is released after commit
}

// Machine evaluates requests against the transition table.
type Machine struct {
	policy Policy
}

// NewMachine creates a machine with the given policy. Non-positive ceilings fall back to defaults.
func NewMachine(policy Policy) *Machine {
	def := DefaultPolicy()
	if policy.AppealLimit <= 0 {
		policy.AppealLimit = def.AppealLimit
	}
	if policy.CassationLimit <= 0 {
		policy.CassationLimit = def.CassationLimit
	}
	return &Machine{policy: policy}
}

// Policy returns the effective policy.
func (m *Machine) Policy() Policy {
	return m.policy
}

var (
	claimTargets = map[models.Status]models.Status{
		models.StatusNew:              models.StatusInReview,
		models.StatusAppealPending:    models.StatusAppealInReview,
		models.StatusCassationPending: models.StatusCassationInReview,
	}
	approveTargets = map[models.Status]models.Status{
		models.StatusInReview:          models.StatusApproved,
		models.StatusAppealInReview:    models.StatusAppealApproved,
		models.StatusCassationInReview: models.StatusCassationApproved,
	}
	rejectTargets = map[models.Status]models.Status{
		models.StatusInReview:          models.StatusRejected,
		models.StatusAppealInReview:    models.StatusAppealRejected,
		models.StatusCassationInReview: models.StatusCassationRejected,
	}
	releaseTargets = map[models.Status]models.Status{
		models.StatusInReview:          models.StatusNew,
		models.StatusAppealInReview:    models.StatusAppealPending,
		models.StatusCassationInReview: models.StatusCassationPending,
	}
)

// Next judges req. Errors are ErrNotFound, ErrUnauthorized or a *StatusError wrapping
// ErrInvalidTransition / ErrAlreadyClaimed.
func (m *Machine) Next(req Request) (Decision, error) {
	if req.Action == ActionSubmit {
		return m.submit(req)
	}
	if !req.Exists {
		return Decision{}, ErrNotFound
	}

	switch req.Action {
	case ActionClaim:
		return m.claim(req)
	case ActionApprove:
		return m.decide(req, approveTargets)
	case ActionReject:
		return m.decide(req, rejectTargets)
	case ActionAppeal:
		return m.escalate(req, models.StatusRejected, models.StatusAppealPending, req.AppealsUsed, m.policy.AppealLimit)
	case ActionCassation:
		return m.escalate(
			req, models.StatusAppealRejected, models.StatusCassationPending, req.CassationsUsed, m.policy.CassationLimit,
		)
	case ActionReset:
		if req.Actor != models.RoleAdmin {
			return Decision{}, ErrUnauthorized
		}
		return Decision{
			From:         models.AllStatuses(),
			To:           models.StatusReset,
			ClearComment: true,
			EndsReview:   true,
		}, nil
	case ActionRelease:
		return m.release(req)
	default:
		return Decision{}, fmt.Errorf("%w: unknown action %s", ErrInvalidTransition, req.Action)
	}
}

func (m *Machine) submit(req Request) (Decision, error) {
	if req.Actor != models.RoleSubmitter {
		return Decision{}, ErrUnauthorized
	}
	if !req.IsOwner {
		return Decision{}, ErrUnauthorized
	}
	if req.Exists && req.Current != models.StatusReset {
		return Decision{}, rejectIn(ErrInvalidTransition, req.Current)
	}
	dec := Decision{To: models.StatusNew, Audience: AudienceReviewers, ClearComment: true}
	if req.Exists {
		dec.From = []models.Status{models.StatusReset}
	}
	return dec, nil
}

func (m *Machine) claim(req Request) (Decision, error) {
	if req.Actor != models.RoleReviewer {
		return Decision{}, ErrUnauthorized
	}
	if req.Current.IsInReview() {
		return Decision{}, rejectIn(ErrAlreadyClaimed, req.Current)
	}
	target, ok := claimTargets[req.Current]
	if !ok {
		return Decision{}, rejectIn(ErrInvalidTransition, req.Current)
	}
	return Decision{
		From:         []models.Status{req.Current},
		To:           target,
		KeepComment:  true,
		StartsReview: true,
	}, nil
}

func (m *Machine) decide(req Request, targets map[models.Status]models.Status) (Decision, error) {
	if req.Actor != models.RoleReviewer {
		return Decision{}, ErrUnauthorized
	}
	target, ok := targets[req.Current]
	if !ok {
		return Decision{}, rejectIn(ErrInvalidTransition, req.Current)
	}
	if !req.HoldsClaim {
		return Decision{}, rejectIn(ErrAlreadyClaimed, req.Current)
	}
	return Decision{
		From:       []models.Status{req.Current},
		To:         target,
		Audience:   AudienceOwners,
		EndsReview: true,
	}, nil
}

// release puts a ticket abandoned in review back where it was claimed from, so any reviewer
// can take it again. The comment of a contested ticket survives.
func (m *Machine) release(req Request) (Decision, error) {
	if req.Actor != models.RoleAdmin {
		return Decision{}, ErrUnauthorized
	}
	target, ok := releaseTargets[req.Current]
	if !ok {
		return Decision{}, rejectIn(ErrInvalidTransition, req.Current)
	}
	return Decision{
		From:        []models.Status{req.Current},
		To:          target,
		Audience:    AudienceReviewers,
		KeepComment: true,
		EndsReview:  true,
	}, nil
}

func (m *Machine) escalate(req Request, from, to models.Status, used, limit int) (Decision, error) {
	if req.Actor != models.RoleSubmitter || !req.IsOwner {
		return Decision{}, ErrUnauthorized
	}
	if req.Current != from {
		return Decision{}, rejectIn(ErrInvalidTransition, req.Current)
	}
	if used >= limit {
		return Decision{}, rejectIn(fmt.Errorf("%w: limit of %d reached", ErrLimitReached, limit), req.Current)
	}
	return Decision{
		From:     []models.Status{from},
		To:       to,
		Audience: AudienceReviewers,
	}, nil
}

// NextOnReject returns the escalation the owner may start after a rejection, if any.
func (m *Machine) NextOnReject(status models.Status, appealsUsed, cassationsUsed int) (Action, bool) {
	switch status {
	case models.StatusRejected:
		return ActionAppeal, appealsUsed < m.policy.AppealLimit
	case models.StatusAppealRejected:
		return ActionCassation, cassationsUsed < m.policy.CassationLimit
	default:
		return 0, false
	}
}
