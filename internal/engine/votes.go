package engine

import (
	"context"
	"database/sql"
	"fmt"

	"voteline/internal/config"
	"voteline/internal/domain"
	"voteline/internal/events"
	"voteline/internal/journal"
	"voteline/internal/repo"
	"voteline/internal/votes"
)

type CastVoteOptions struct {
	IssueID string
	ActorID string
	Kind    domain.VoteKind
	Points  int
}

// CastVote records the actor's vote, replacing an earlier vote of the same
// kind, and recomputes the issue in the same transaction.
func (e Engine) CastVote(ctx context.Context, opts CastVoteOptions) (domain.Issue, error) {
	var out domain.Issue
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		issue, err := e.Repo.GetIssue(ctx, tx, opts.IssueID)
		if err != nil {
			return fmt.Errorf("issue %s: %w", opts.IssueID, err)
		}
		if err := e.Auth.Require(ctx, tx, issue.ProjectID, opts.ActorID, config.PermVote); err != nil {
			return err
		}
		var v validator
		switch {
		case !opts.Kind.IsValid():
			v.add("kind", string(opts.Kind), RuleInclusion)
		case opts.Kind.Binary() && opts.Points != 1 && opts.Points != -1:
			v.add("points", opts.Points, RuleBinaryVote)
		case opts.Kind == domain.VoteEstimate && opts.Points < 0:
			v.add("points", opts.Points, RuleNegativeEstimate)
		}
		if err := v.err(issue.ID); err != nil {
			return err
		}
		vote := domain.Vote{
			ID:        newID(),
			IssueID:   issue.ID,
			ActorID:   opts.ActorID,
			Kind:      opts.Kind,
			Points:    opts.Points,
			CreatedAt: e.timestamp(),
		}
		if err := e.Repo.UpsertVote(ctx, tx, vote); err != nil {
			return err
		}
		if err := e.event(ctx, tx, events.VoteCast, issue.ProjectID, "issue", issue.ID, opts.ActorID, events.EventPayload{
			"kind": string(opts.Kind), "points": opts.Points,
		}); err != nil {
			return err
		}
		out, err = e.recompute(ctx, tx, issue.ID, opts.ActorID)
		return err
	})
	return out, err
}

// RetractVote removes the actor's vote of that kind and recomputes the issue.
func (e Engine) RetractVote(ctx context.Context, issueID, actorID string, kind domain.VoteKind) (domain.Issue, error) {
	var out domain.Issue
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		issue, err := e.Repo.GetIssue(ctx, tx, issueID)
		if err != nil {
			return fmt.Errorf("issue %s: %w", issueID, err)
		}
		if kind == domain.VoteJoin && actorID == issue.AuthorID {
			var v validator
			v.add("kind", string(kind), RuleInvalid)
			return v.err(issue.ID)
		}
		removed, err := e.Repo.DeleteVote(ctx, tx, issueID, actorID, kind)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("vote %s by %s: %w", kind, actorID, repo.ErrNotFound)
		}
		if err := e.event(ctx, tx, events.VoteRetracted, issue.ProjectID, "issue", issue.ID, actorID, events.EventPayload{"kind": string(kind)}); err != nil {
			return err
		}
		out, err = e.recompute(ctx, tx, issue.ID, actorID)
		return err
	})
	return out, err
}

// RecomputeVotes refreshes the cached tallies from the stored votes and
// moves the issue along the vote-managed statuses.
func (e Engine) RecomputeVotes(ctx context.Context, issueID, actorID string) (domain.Issue, error) {
	var out domain.Issue
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = e.recompute(ctx, tx, issueID, actorID)
		return err
	})
	return out, err
}

// recompute saves new tallies. A vote-driven status change bypasses the
// workflow table and is journaled with the acting user; a tally-only change
// is not journaled.
func (e Engine) recompute(ctx context.Context, q repo.Querier, issueID, actorID string) (domain.Issue, error) {
	before, err := e.Repo.GetIssue(ctx, q, issueID)
	if err != nil {
		return domain.Issue{}, err
	}
	vs, err := e.Repo.ListVotes(ctx, q, issueID)
	if err != nil {
		return domain.Issue{}, err
	}
	core, err := e.Auth.CoreMembers(ctx, q, before.ProjectID)
	if err != nil {
		return domain.Issue{}, err
	}
	after := cloneIssue(before)
	votes.Compute(vs).Apply(&after)
	after.StatusID = e.workflow().NextVoteStatus(after, core)

	c := change{before: before, after: after, actorID: actorID}
	if after.StatusID != before.StatusID {
		c.scope = journal.Begin(before, actorID, "")
		e.logger().Info("vote-driven status change", "issue", issueID, "from", before.StatusID, "to", after.StatusID, "core_members", core)
	}
	res, err := e.persist(ctx, q, c)
	if err != nil {
		return domain.Issue{}, err
	}
	if err := e.propagate(ctx, q, res, actorID, ""); err != nil {
		return domain.Issue{}, err
	}
	return e.Repo.GetIssue(ctx, q, issueID)
}

// Votes lists the votes cast on an issue.
func (e Engine) Votes(ctx context.Context, issueID string) ([]domain.Vote, error) {
	return e.Repo.ListVotes(ctx, nil, issueID)
}
