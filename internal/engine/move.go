package engine

import (
	"context"
	"database/sql"
	"fmt"

	"voteline/internal/config"
	"voteline/internal/domain"
	"voteline/internal/events"
	"voteline/internal/journal"
	"voteline/internal/versions"
	"voteline/internal/votes"
)

// MoveOptions describe a move or copy of an issue to a project and tracker.
type MoveOptions struct {
	IssueID   string
	ProjectID string
	// TrackerID is optional; empty keeps the tracker.
	TrackerID string
	Copy      bool
	// Attributes are applied after the move or copy.
	Attributes IssueChanges
	ActorID    string
	Notes      string
}

// MoveOrCopy reassigns project and tracker, or clones the issue when Copy is
// set. On a project change relations are severed unless cross project
// relations are enabled, and a fixed version that is not shared with the new
// project is cleared. A move re-points time entries. Nothing is kept when any
// step fails.
func (e Engine) MoveOrCopy(ctx context.Context, opts MoveOptions) (domain.Issue, error) {
	var out domain.Issue
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		src, err := e.Repo.GetIssue(ctx, tx, opts.IssueID)
		if err != nil {
			return fmt.Errorf("issue %s: %w", opts.IssueID, err)
		}
		target := opts.ProjectID
		if target == "" {
			target = src.ProjectID
		}
		if _, err := e.Repo.GetProject(ctx, tx, target); err != nil {
			return fmt.Errorf("project %s: %w", target, err)
		}
		perm := config.PermMoveIssues
		if opts.Copy {
			perm = config.PermAddIssues
		}
		if err := e.Auth.Require(ctx, tx, src.ProjectID, opts.ActorID, perm); err != nil {
			return err
		}
		if target != src.ProjectID {
			if err := e.Auth.Require(ctx, tx, target, opts.ActorID, config.PermAddIssues); err != nil {
				return err
			}
		}

		issue := cloneIssue(src)
		projectChanged := target != src.ProjectID
		if projectChanged {
			if issue.FixedVersionID != nil {
				shared, err := e.versionSharedWith(ctx, tx, *issue.FixedVersionID, target)
				if err != nil {
					return err
				}
				if !shared {
					issue.FixedVersionID = nil
				}
			}
			issue.ProjectID = target
		}
		if opts.TrackerID != "" {
			issue.TrackerID = opts.TrackerID
		}

		if opts.Copy {
			out, err = e.copyIssue(ctx, tx, src, issue, opts)
			return err
		}

		if projectChanged && !e.Config.Settings.CrossProjectRelations {
			n, err := e.Repo.DeleteRelationsOf(ctx, tx, src.ID)
			if err != nil {
				return err
			}
			if n > 0 {
				e.logger().Debug("severed relations on move", "issue", src.ID, "count", n)
			}
		}
		explicit := opts.Attributes.apply(&issue)
		res, err := e.persist(ctx, tx, change{
			before:         src,
			after:          issue,
			scope:          journal.Begin(src, opts.ActorID, opts.Notes),
			checkWorkflow:  opts.Attributes.StatusID != nil,
			explicitCustom: explicit,
			eventType:      events.IssueMoved,
		})
		if err != nil {
			return err
		}
		if projectChanged {
			if err := e.Repo.MoveTimeEntries(ctx, tx, src.ID, target); err != nil {
				return err
			}
		}
		if err := e.propagate(ctx, tx, res, opts.ActorID, opts.Notes); err != nil {
			return err
		}
		out, err = e.Repo.GetIssue(ctx, tx, src.ID)
		return err
	})
	if err != nil {
		return domain.Issue{}, err
	}
	return out, nil
}

// copyIssue inserts a new issue from the moved attributes. Custom values are
// cloned. Votes are not: the copy starts from its author's join, so unless the
// attributes name a status, a vote-managed status is re-derived from that
// tally. The source and its relations are left untouched.
func (e Engine) copyIssue(ctx context.Context, tx *sql.Tx, src, issue domain.Issue, opts MoveOptions) (domain.Issue, error) {
	now := e.timestamp()
	issue.ID = newID()
	issue.LockVersion = 0
	issue.CreatedAt = now
	issue.UpdatedAt = now
	issue.CustomValues = make(map[string]string, len(src.CustomValues))
	for k, v := range src.CustomValues {
		issue.CustomValues[k] = v
	}
	explicit := opts.Attributes.apply(&issue)
	if opts.Attributes.StatusID == nil {
		core, err := e.Auth.CoreMembers(ctx, tx, issue.ProjectID)
		if err != nil {
			return domain.Issue{}, err
		}
		fresh := cloneIssue(issue)
		votes.Compute([]domain.Vote{{ActorID: issue.AuthorID, Kind: domain.VoteJoin, Points: 1}}).Apply(&fresh)
		issue.StatusID = e.workflow().NextVoteStatus(fresh, core)
	}
	if err := e.validateIssue(ctx, tx, issueCheck{issue: issue, explicitCustom: explicit}); err != nil {
		return domain.Issue{}, err
	}
	e.syncDoneRatio(&issue)
	saved, err := e.insertIssue(ctx, tx, issue)
	if err != nil {
		return domain.Issue{}, err
	}
	if opts.Notes != "" {
		j := &domain.Journal{IssueID: saved.ID, ActorID: opts.ActorID, Notes: opts.Notes}
		if err := e.saveJournal(ctx, tx, j); err != nil {
			return domain.Issue{}, err
		}
	}
	if err := e.event(ctx, tx, events.IssueCopied, saved.ProjectID, "issue", saved.ID, opts.ActorID, events.EventPayload{
		"source": src.ID, "source_project": src.ProjectID,
	}); err != nil {
		return domain.Issue{}, err
	}
	return saved, nil
}

func (e Engine) versionSharedWith(ctx context.Context, q *sql.Tx, versionID, projectID string) (bool, error) {
	v, err := e.Repo.GetVersion(ctx, q, versionID)
	if err != nil {
		return false, err
	}
	tree, err := e.projectTree(ctx, q)
	if err != nil {
		return false, err
	}
	return versions.SharedWith(v, projectID, tree), nil
}
