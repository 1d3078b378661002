package engine

import (
	"context"

	"voteline/internal/domain"
	"voteline/internal/journal"
	"voteline/internal/relations"
	"voteline/internal/repo"
)

// propagate runs the cascades that follow a saved change, in order:
// successor rescheduling over precedes relations, then duplicate closure
// when the issue moved from open to closed. Each precedes edge is followed
// once and each duplicate closed once, so cyclic graphs terminate. Any
// failure surfaces as a CascadeError and aborts the whole transaction.
func (e Engine) propagate(ctx context.Context, q repo.Querier, root savedIssue, actorID, notes string) error {
	rootID := root.after.ID
	edges := map[string]bool{}
	closed := map[string]bool{rootID: true}
	queue := []savedIssue{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		next, err := e.rescheduleSuccessors(ctx, q, rootID, cur.after, actorID, edges)
		if err != nil {
			return err
		}
		queue = append(queue, next...)

		if e.workflow().IsClose(cur.before.StatusID, cur.after.StatusID) {
			next, err := e.closeDuplicates(ctx, q, rootID, cur.after, actorID, notes, closed)
			if err != nil {
				return err
			}
			queue = append(queue, next...)
		}
	}
	return nil
}

// rescheduleSuccessors moves successors that would start before the
// predecessor allows. A successor keeps its duration.
func (e Engine) rescheduleSuccessors(ctx context.Context, q repo.Querier, rootID string, from domain.Issue, actorID string, edges map[string]bool) ([]savedIssue, error) {
	rels, err := e.Repo.RelationsFrom(ctx, q, from.ID)
	if err != nil {
		return nil, err
	}
	var out []savedIssue
	for _, rel := range rels {
		if rel.Kind != domain.RelPrecedes || edges[rel.ID] {
			continue
		}
		edges[rel.ID] = true
		soonest := relations.SuccessorSoonestStart(rel, from)
		if soonest == nil {
			continue
		}
		to, err := e.Repo.GetIssue(ctx, q, rel.ToID)
		if err != nil {
			return nil, &CascadeError{IssueID: rootID, DependentID: rel.ToID, Err: err}
		}
		if to.StartDate != nil && !domain.DateBefore(*to.StartDate, *soonest) {
			continue
		}
		after := cloneIssue(to)
		start := *soonest
		due := domain.AddDays(start, to.Duration())
		after.StartDate = &start
		after.DueDate = &due
		res, err := e.persist(ctx, q, change{
			before: to,
			after:  after,
			scope:  journal.Begin(to, actorID, ""),
		})
		if err != nil {
			return nil, &CascadeError{IssueID: rootID, DependentID: to.ID, Err: err}
		}
		e.logger().Debug("rescheduled successor", "issue", to.ID, "predecessor", from.ID, "start", start, "due", due)
		out = append(out, res)
	}
	return out, nil
}

// closeDuplicates gives every open duplicate of the issue the same closed
// status, journaled with the same actor and notes.
func (e Engine) closeDuplicates(ctx context.Context, q repo.Querier, rootID string, original domain.Issue, actorID, notes string, seen map[string]bool) ([]savedIssue, error) {
	dups, err := relations.DuplicatesOf(ctx, e.Repo.RelationSource(q), original.ID)
	if err != nil {
		return nil, err
	}
	var out []savedIssue
	for _, id := range dups {
		if seen[id] {
			continue
		}
		seen[id] = true
		dup, err := e.Repo.GetIssue(ctx, q, id)
		if err != nil {
			return nil, &CascadeError{IssueID: rootID, DependentID: id, Err: err}
		}
		if e.Config.StatusClosed(dup.StatusID) {
			continue
		}
		after := cloneIssue(dup)
		after.StatusID = original.StatusID
		res, err := e.persist(ctx, q, change{
			before: dup,
			after:  after,
			scope:  journal.Begin(dup, actorID, notes),
		})
		if err != nil {
			return nil, &CascadeError{IssueID: rootID, DependentID: dup.ID, Err: err}
		}
		e.logger().Debug("closed duplicate", "issue", dup.ID, "original", original.ID, "status", original.StatusID)
		out = append(out, res)
	}
	return out, nil
}
