package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"voteline/internal/config"
	"voteline/internal/domain"
	"voteline/internal/events"
	"voteline/internal/journal"
	"voteline/internal/repo"
	"voteline/internal/votes"
)

// CreateIssueOptions are parameters for creating an issue.
type CreateIssueOptions struct {
	ProjectID      string
	TrackerID      string
	Subject        string
	Description    string
	StatusID       string
	Priority       domain.Priority
	AssigneeID     string
	FixedVersionID string
	StartDate      string
	DueDate        string
	ExpectedDate   string
	DoneRatio      int
	EstimatedHours *float64
	CustomValues   map[string]string
	ActorID        string
}

// CreateIssue inserts a new issue in the default status unless one is given.
// The author is recorded as the first join vote.
func (e Engine) CreateIssue(ctx context.Context, opts CreateIssueOptions) (domain.Issue, error) {
	var out domain.Issue
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetProject(ctx, tx, opts.ProjectID); err != nil {
			return fmt.Errorf("project %s: %w", opts.ProjectID, err)
		}
		if err := e.Auth.Require(ctx, tx, opts.ProjectID, opts.ActorID, config.PermAddIssues); err != nil {
			return err
		}
		now := e.timestamp()
		i := domain.Issue{
			ID:             newID(),
			ProjectID:      opts.ProjectID,
			TrackerID:      opts.TrackerID,
			Subject:        opts.Subject,
			Description:    opts.Description,
			StatusID:       opts.StatusID,
			Priority:       opts.Priority,
			AuthorID:       opts.ActorID,
			AssigneeID:     optionalString(opts.AssigneeID),
			FixedVersionID: optionalString(opts.FixedVersionID),
			StartDate:      optionalString(opts.StartDate),
			DueDate:        optionalString(opts.DueDate),
			ExpectedDate:   optionalString(opts.ExpectedDate),
			DoneRatio:      opts.DoneRatio,
			EstimatedHours: opts.EstimatedHours,
			CustomValues:   map[string]string{},
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if i.StatusID == "" {
			i.StatusID = e.Config.DefaultStatus().ID
		}
		if i.Priority == 0 {
			i.Priority = domain.PriorityNormal
		}
		var explicit []string
		for k, v := range opts.CustomValues {
			i.CustomValues[k] = v
			explicit = append(explicit, k)
		}
		if err := e.validateIssue(ctx, tx, issueCheck{issue: i, explicitCustom: explicit}); err != nil {
			return err
		}
		e.syncDoneRatio(&i)
		saved, err := e.insertIssue(ctx, tx, i)
		if err != nil {
			return err
		}
		if err := e.event(ctx, tx, events.IssueCreated, saved.ProjectID, "issue", saved.ID, opts.ActorID, events.EventPayload{
			"subject": saved.Subject, "status": saved.StatusID, "tracker": saved.TrackerID,
		}); err != nil {
			return err
		}
		out = saved
		return nil
	})
	return out, err
}

// insertIssue stores a validated new issue with its author's join vote and
// stamps the project.
func (e Engine) insertIssue(ctx context.Context, q repo.Querier, i domain.Issue) (domain.Issue, error) {
	if err := e.Repo.EnsureActor(ctx, q, i.AuthorID, i.CreatedAt); err != nil {
		return i, err
	}
	join := domain.Vote{ID: newID(), IssueID: i.ID, ActorID: i.AuthorID, Kind: domain.VoteJoin, Points: 1, CreatedAt: i.CreatedAt}
	votes.Compute([]domain.Vote{join}).Apply(&i)
	e.filterCustomValues(&i)
	if err := e.Repo.InsertIssue(ctx, q, i); err != nil {
		return i, fmt.Errorf("insert issue: %w", err)
	}
	if err := e.Repo.ReplaceCustomValues(ctx, q, i.ID, i.CustomValues); err != nil {
		return i, err
	}
	if err := e.Repo.UpsertVote(ctx, q, join); err != nil {
		return i, err
	}
	if err := e.Repo.TouchProject(ctx, q, i.ProjectID, i.UpdatedAt); err != nil {
		return i, err
	}
	return i, nil
}

// MutationOptions describe one caller-driven change to an issue.
type MutationOptions struct {
	IssueID string
	ActorID string
	Notes   string
	Changes IssueChanges
	// LockVersion, when set, must match the stored issue.
	LockVersion *int
}

// ApplyMutation applies the changes, validates and saves the issue, then runs
// the post-save hooks in one transaction. The journal is nil when nothing was
// recorded.
func (e Engine) ApplyMutation(ctx context.Context, opts MutationOptions) (domain.Issue, *domain.Journal, error) {
	var (
		out domain.Issue
		jnl *domain.Journal
	)
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		before, err := e.Repo.GetIssue(ctx, tx, opts.IssueID)
		if err != nil {
			return fmt.Errorf("issue %s: %w", opts.IssueID, err)
		}
		if opts.LockVersion != nil && *opts.LockVersion != before.LockVersion {
			return &ConflictError{IssueID: before.ID, Expected: *opts.LockVersion, Actual: before.LockVersion}
		}
		if err := e.Auth.Require(ctx, tx, before.ProjectID, opts.ActorID, config.PermEditIssues); err != nil {
			return err
		}
		scope := journal.Begin(before, opts.ActorID, opts.Notes)
		after := cloneIssue(before)
		explicit := opts.Changes.apply(&after)
		res, err := e.persist(ctx, tx, change{
			before:         before,
			after:          after,
			scope:          scope,
			checkWorkflow:  opts.Changes.StatusID != nil,
			explicitCustom: explicit,
		})
		if err != nil {
			return err
		}
		if err := e.propagate(ctx, tx, res, opts.ActorID, opts.Notes); err != nil {
			return err
		}
		// Cascades may have touched the issue again through a relation cycle.
		out, err = e.Repo.GetIssue(ctx, tx, res.after.ID)
		if err != nil {
			return err
		}
		jnl = res.journal
		return nil
	})
	if err != nil {
		e.logger().Debug("mutation rejected", "issue", opts.IssueID, "actor", opts.ActorID, "kind", KindOf(err), "err", err)
		return domain.Issue{}, nil, err
	}
	return out, jnl, nil
}

type change struct {
	before         domain.Issue
	after          domain.Issue
	scope          *journal.Scope
	checkWorkflow  bool
	explicitCustom []string
	eventType      string
	// actorID attributes unjournaled changes.
	actorID string
}

type savedIssue struct {
	before  domain.Issue
	after   domain.Issue
	journal *domain.Journal
}

// persist validates and saves one issue and runs its own hooks: the journal
// and the project activity stamp. Cascades to other issues run in propagate.
func (e Engine) persist(ctx context.Context, q repo.Querier, c change) (savedIssue, error) {
	before, after := c.before, c.after
	statusChanged := before.StatusID != after.StatusID

	if err := e.validateIssue(ctx, q, issueCheck{
		issue:           after,
		previousVersion: before.FixedVersionID,
		previousStatus:  before.StatusID,
		explicitCustom:  c.explicitCustom,
	}); err != nil {
		return savedIssue{}, err
	}
	if c.checkWorkflow && statusChanged {
		if err := e.checkTransition(ctx, q, before, after.StatusID, c.scope.ActorID()); err != nil {
			return savedIssue{}, err
		}
	}

	e.syncDoneRatio(&after)
	e.filterCustomValues(&after)
	after.LockVersion = before.LockVersion + 1
	after.UpdatedAt = e.timestamp()

	ok, err := e.Repo.UpdateIssue(ctx, q, after, before.LockVersion)
	if err != nil {
		return savedIssue{}, fmt.Errorf("update issue %s: %w", after.ID, err)
	}
	if !ok {
		e.logger().Info("optimistic lock conflict", "issue", after.ID, "lock_version", before.LockVersion)
		return savedIssue{}, &ConflictError{IssueID: after.ID, Expected: before.LockVersion, Actual: -1}
	}
	if err := e.Repo.ReplaceCustomValues(ctx, q, after.ID, after.CustomValues); err != nil {
		return savedIssue{}, err
	}

	res := savedIssue{before: before, after: after}
	if c.scope != nil {
		j, err := c.scope.Commit(after)
		if err != nil {
			return savedIssue{}, err
		}
		if j != nil {
			if err := e.saveJournal(ctx, q, j); err != nil {
				return savedIssue{}, err
			}
			res.journal = j
		}
	}
	if err := e.Repo.TouchProject(ctx, q, after.ProjectID, after.UpdatedAt); err != nil {
		return savedIssue{}, err
	}
	if before.ProjectID != after.ProjectID {
		if err := e.Repo.TouchProject(ctx, q, before.ProjectID, after.UpdatedAt); err != nil {
			return savedIssue{}, err
		}
	}
	evt := c.eventType
	if evt == "" {
		evt = events.IssueUpdated
	}
	actor := c.actorID
	if c.scope != nil {
		actor = c.scope.ActorID()
	}
	if actor == "" {
		actor = after.AuthorID
	}
	payload := events.EventPayload{"lock_version": after.LockVersion}
	if statusChanged {
		payload["status_from"] = before.StatusID
		payload["status_to"] = after.StatusID
	}
	if err := e.event(ctx, q, evt, after.ProjectID, "issue", after.ID, actor, payload); err != nil {
		return savedIssue{}, err
	}
	return res, nil
}

func (e Engine) saveJournal(ctx context.Context, q repo.Querier, j *domain.Journal) error {
	j.ID = newID()
	j.CreatedAt = e.timestamp()
	if j.Details == nil {
		j.Details = []domain.JournalDetail{}
	}
	if err := e.Repo.InsertJournal(ctx, q, *j); err != nil {
		return fmt.Errorf("insert journal: %w", err)
	}
	return nil
}

func (e Engine) checkTransition(ctx context.Context, q repo.Querier, before domain.Issue, next, actorID string) error {
	roles, err := e.Auth.RolesFor(ctx, q, before.ProjectID, actorID)
	if err != nil {
		return err
	}
	blocked, err := e.blocked(ctx, q, before.ID)
	if err != nil {
		return err
	}
	if !e.workflow().Allowed(before.StatusID, next, before.TrackerID, roles, blocked) {
		return &WorkflowError{IssueID: before.ID, From: before.StatusID, To: next, Roles: roles}
	}
	return nil
}

// DeleteIssue removes the issue with its relations, journals, votes, custom
// values, attachments and time entries.
func (e Engine) DeleteIssue(ctx context.Context, issueID, actorID string) error {
	return e.inTx(ctx, func(tx *sql.Tx) error {
		i, err := e.Repo.GetIssue(ctx, tx, issueID)
		if err != nil {
			return err
		}
		if err := e.Auth.Require(ctx, tx, i.ProjectID, actorID, config.PermDeleteIssues); err != nil {
			return err
		}
		if err := e.Repo.DeleteIssue(ctx, tx, issueID); err != nil {
			return err
		}
		return e.event(ctx, tx, events.IssueDeleted, i.ProjectID, "issue", i.ID, actorID, events.EventPayload{"subject": i.Subject})
	})
}

func (e Engine) GetIssue(ctx context.Context, issueID string) (domain.Issue, error) {
	i, err := e.Repo.GetIssue(ctx, nil, issueID)
	if errors.Is(err, repo.ErrNotFound) {
		return i, fmt.Errorf("issue %s: %w", issueID, err)
	}
	return i, err
}

func (e Engine) ListIssues(ctx context.Context, f repo.IssueFilters) ([]domain.Issue, error) {
	return e.Repo.ListIssues(ctx, nil, f)
}
