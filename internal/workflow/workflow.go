// Package workflow decides issue status from vote tallies and checks
// caller-requested transitions against the configured workflow table.
package workflow

import (
	"voteline/internal/config"
	"voteline/internal/domain"
)

// VoteState is the status a vote tally points at.
type VoteState int

const (
	StateNew VoteState = iota
	StateEstimate
	StateOpen
)

func (s VoteState) String() string {
	switch s {
	case StateEstimate:
		return "estimate"
	case StateOpen:
		return "open"
	default:
		return "new"
	}
}

// ReadyForOpen reports whether there is enough agreement relative to the
// estimated points, or a strict majority of core members agrees.
func ReadyForOpen(agreeTotal int, points *float64, coreMembers int) bool {
	return ready(agreeTotal, points, coreMembers)
}

// ReadyForAccepted is ReadyForOpen over the accept tally.
func ReadyForAccepted(acceptTotal int, points *float64, coreMembers int) bool {
	return ready(acceptTotal, points, coreMembers)
}

func ready(total int, points *float64, coreMembers int) bool {
	if points == nil || total < 1 {
		return false
	}
	if float64(total) >= *points {
		return true
	}
	if total > coreMembers/2 {
		return true
	}
	return false
}

// DeriveStatus maps an agreement tally to a vote state. The ordering is
// load-bearing: once ReadyForOpen holds the estimate branch is never reached,
// and when it does not hold any positive tally lands on estimate.
func DeriveStatus(agreeTotal int, points *float64, coreMembers int) VoteState {
	if agreeTotal < 1 {
		return StateNew
	}
	if ReadyForOpen(agreeTotal, points, coreMembers) {
		return StateOpen
	}
	if agreeTotal > 0 {
		return StateEstimate
	}
	return StateNew
}

// Workflow binds the pure rules to a status catalog and transition table.
type Workflow struct {
	Config *config.Config
}

func New(cfg *config.Config) Workflow {
	return Workflow{Config: cfg}
}

// StatusFor resolves a vote state to a configured status id.
func (w Workflow) StatusFor(s VoteState) string {
	switch s {
	case StateOpen:
		return w.Config.VoteStatuses.Open
	case StateEstimate:
		return w.Config.VoteStatuses.Estimate
	default:
		return w.Config.VoteStatuses.New
	}
}

// VoteManaged reports whether votes drive the given status.
func (w Workflow) VoteManaged(statusID string) bool {
	vs := w.Config.VoteStatuses
	return statusID == vs.New || statusID == vs.Estimate || statusID == vs.Open
}

// NextVoteStatus returns the status an issue should hold after its tallies
// changed. Issues outside the vote-managed statuses keep their status.
func (w Workflow) NextVoteStatus(issue domain.Issue, coreMembers int) string {
	if !w.VoteManaged(issue.StatusID) {
		return issue.StatusID
	}
	if issue.StatusID == w.Config.VoteStatuses.Open && ReadyForAccepted(issue.AcceptTotal, issue.Points, coreMembers) {
		return w.Config.VoteStatuses.Accepted
	}
	return w.StatusFor(DeriveStatus(issue.AgreeTotal, issue.Points, coreMembers))
}

// AllowedStatuses returns the statuses the roles may set from current,
// always including current, ordered by position. Blocked issues cannot be closed.
func (w Workflow) AllowedStatuses(current, trackerID string, roles []string, blocked bool) []config.Status {
	allowed := map[string]bool{current: true}
	for _, role := range roles {
		for _, id := range w.Config.Transitions(trackerID, role, current) {
			allowed[id] = true
		}
	}
	var out []config.Status
	for _, s := range w.Config.SortedStatuses() {
		if !allowed[s.ID] {
			continue
		}
		if blocked && s.Closed {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Allowed reports whether next is among AllowedStatuses.
func (w Workflow) Allowed(current, next, trackerID string, roles []string, blocked bool) bool {
	for _, s := range w.AllowedStatuses(current, trackerID, roles, blocked) {
		if s.ID == next {
			return true
		}
	}
	return false
}

// IsReopen reports a move from a closed status to an open one.
func (w Workflow) IsReopen(prev, next string) bool {
	if prev == "" || prev == next {
		return false
	}
	return w.Config.StatusClosed(prev) && !w.Config.StatusClosed(next)
}

// IsClose reports a move from an open status to a closed one.
func (w Workflow) IsClose(prev, next string) bool {
	return !w.Config.StatusClosed(prev) && w.Config.StatusClosed(next)
}
