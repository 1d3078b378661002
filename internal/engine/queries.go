package engine

import (
	"context"
	"fmt"

	"voteline/internal/config"
	"voteline/internal/domain"
	"voteline/internal/repo"
	"voteline/internal/versions"
	"voteline/internal/votes"
)

func (e Engine) IsClosed(ctx context.Context, issueID string) (bool, error) {
	i, err := e.GetIssue(ctx, issueID)
	if err != nil {
		return false, err
	}
	return e.Config.StatusClosed(i.StatusID), nil
}

// IsBlocked reports whether an open issue blocks this one.
func (e Engine) IsBlocked(ctx context.Context, issueID string) (bool, error) {
	return e.blocked(ctx, e.DB, issueID)
}

// IsOverdue reports an open issue whose due date has passed.
func (e Engine) IsOverdue(ctx context.Context, issueID string) (bool, error) {
	i, err := e.GetIssue(ctx, issueID)
	if err != nil {
		return false, err
	}
	if i.DueDate == nil || e.Config.StatusClosed(i.StatusID) {
		return false, nil
	}
	return domain.DateBefore(*i.DueDate, e.today()), nil
}

// DueBefore is the date the issue should be finished by: its due date, else
// the effective date of its fixed version.
func (e Engine) DueBefore(ctx context.Context, issueID string) (*string, error) {
	i, err := e.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if i.DueDate != nil {
		return i.DueDate, nil
	}
	if i.FixedVersionID == nil {
		return nil, nil
	}
	v, err := e.Repo.GetVersion(ctx, nil, *i.FixedVersionID)
	if err != nil {
		return nil, fmt.Errorf("version %s: %w", *i.FixedVersionID, err)
	}
	return v.EffectiveDate, nil
}

// HasTeam reports whether anyone besides the author joined the issue.
func (e Engine) HasTeam(ctx context.Context, issueID string) (bool, error) {
	if _, err := e.GetIssue(ctx, issueID); err != nil {
		return false, err
	}
	vs, err := e.Repo.ListVotes(ctx, nil, issueID)
	if err != nil {
		return false, err
	}
	return votes.Compute(vs).HasTeam(), nil
}

// PushAllowed reports whether the actor may offer the issue to others or
// take up such an offer. The assignee always may. Anyone else needs the
// push_commitment permission, an expected date that is unset or already
// past, and an unassigned issue.
func (e Engine) PushAllowed(ctx context.Context, issueID, actorID string) (bool, error) {
	if actorID == "" {
		return false, nil
	}
	i, err := e.GetIssue(ctx, issueID)
	if err != nil {
		return false, err
	}
	if i.AssigneeID != nil && *i.AssigneeID == actorID {
		return true, nil
	}
	if i.AssigneeID != nil {
		return false, nil
	}
	if i.ExpectedDate != nil && !domain.DateBefore(*i.ExpectedDate, e.today()) {
		return false, nil
	}
	return e.Auth.Allowed(ctx, e.DB, i.ProjectID, actorID, config.PermPushCommitment)
}

// AllowedNextStatuses lists the statuses the actor may move the issue to,
// the current one included.
func (e Engine) AllowedNextStatuses(ctx context.Context, issueID, actorID string) ([]config.Status, error) {
	i, err := e.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	roles, err := e.Auth.RolesFor(ctx, e.DB, i.ProjectID, actorID)
	if err != nil {
		return nil, err
	}
	blocked, err := e.blocked(ctx, e.DB, i.ID)
	if err != nil {
		return nil, err
	}
	return e.workflow().AllowedStatuses(i.StatusID, i.TrackerID, roles, blocked), nil
}

// Journals returns the issue's history, oldest first.
func (e Engine) Journals(ctx context.Context, issueID string) ([]domain.Journal, error) {
	if _, err := e.GetIssue(ctx, issueID); err != nil {
		return nil, err
	}
	return e.Repo.ListJournals(ctx, nil, issueID)
}

func (e Engine) GetProject(ctx context.Context, projectID string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, nil, projectID)
	if err != nil {
		return p, fmt.Errorf("project %s: %w", projectID, err)
	}
	return p, nil
}

func (e Engine) ListProjects(ctx context.Context) ([]domain.Project, error) {
	return e.Repo.ListProjects(ctx, nil)
}

func (e Engine) ListVersions(ctx context.Context, projectID string) ([]domain.Version, error) {
	return e.Repo.ListVersions(ctx, nil, projectID)
}

// SharedVersions lists every version usable by the project under its
// sharing policy, closed ones included.
func (e Engine) SharedVersions(ctx context.Context, projectID string) ([]domain.Version, error) {
	all, tree, err := e.versionCatalog(ctx)
	if err != nil {
		return nil, err
	}
	return versions.Shared(projectID, all, tree), nil
}

// AssignableVersions lists the versions an issue may be given: open shared
// versions plus the one it already has.
func (e Engine) AssignableVersions(ctx context.Context, issueID string) ([]domain.Version, error) {
	i, err := e.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	all, tree, err := e.versionCatalog(ctx)
	if err != nil {
		return nil, err
	}
	return versions.Assignable(i.ProjectID, all, tree, i.FixedVersionID), nil
}

func (e Engine) versionCatalog(ctx context.Context) ([]domain.Version, versions.Tree, error) {
	all, err := e.Repo.ListVersions(ctx, nil, "")
	if err != nil {
		return nil, versions.Tree{}, err
	}
	tree, err := e.projectTree(ctx, e.DB)
	if err != nil {
		return nil, versions.Tree{}, err
	}
	return all, tree, nil
}

func (e Engine) Events(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, nil, f)
}
