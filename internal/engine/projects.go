package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"voteline/internal/config"
	"voteline/internal/domain"
	"voteline/internal/events"
	"voteline/internal/journal"
	"voteline/internal/repo"
	"voteline/internal/versions"
)

type CreateProjectOptions struct {
	ID       string
	Name     string
	ParentID string
	ActorID  string
}

// CreateProject adds a project. The creator holds the core role on it; a
// subproject additionally needs manage_projects on its parent.
func (e Engine) CreateProject(ctx context.Context, opts CreateProjectOptions) (domain.Project, error) {
	var out domain.Project
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		var v validator
		if strings.TrimSpace(opts.Name) == "" {
			v.add("name", nil, RuleRequired)
		}
		if opts.ActorID == "" {
			v.add("actor_id", nil, RuleRequired)
		}
		if err := v.err(""); err != nil {
			return err
		}
		if opts.ParentID != "" {
			if _, err := e.Repo.GetProject(ctx, tx, opts.ParentID); err != nil {
				return fmt.Errorf("parent project %s: %w", opts.ParentID, err)
			}
			if err := e.Auth.Require(ctx, tx, opts.ParentID, opts.ActorID, config.PermManageProjects); err != nil {
				return err
			}
		}
		now := e.timestamp()
		p := domain.Project{
			ID:        opts.ID,
			Name:      opts.Name,
			ParentID:  optionalString(opts.ParentID),
			Status:    "active",
			CreatedAt: now,
		}
		if p.ID == "" {
			p.ID = newID()
		}
		if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		if err := e.Repo.EnsureActor(ctx, tx, opts.ActorID, now); err != nil {
			return err
		}
		if err := e.Repo.AssignRole(ctx, tx, p.ID, opts.ActorID, e.Config.Roles.Core); err != nil {
			return err
		}
		if err := e.event(ctx, tx, events.ProjectCreated, p.ID, "project", p.ID, opts.ActorID, events.EventPayload{
			"name": p.Name, "parent_id": opts.ParentID,
		}); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// SetProjectParent moves a project in the hierarchy and clears fixed
// versions that are no longer shared with the issues' projects. An empty
// parentID makes the project a root.
func (e Engine) SetProjectParent(ctx context.Context, projectID, parentID, actorID string) error {
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetProject(ctx, tx, projectID); err != nil {
			return fmt.Errorf("project %s: %w", projectID, err)
		}
		if err := e.Auth.Require(ctx, tx, projectID, actorID, config.PermManageProjects); err != nil {
			return err
		}
		if parentID != "" {
			if _, err := e.Repo.GetProject(ctx, tx, parentID); err != nil {
				return fmt.Errorf("parent project %s: %w", parentID, err)
			}
			if err := e.Auth.Require(ctx, tx, parentID, actorID, config.PermManageProjects); err != nil {
				return err
			}
			tree, err := e.projectTree(ctx, tx)
			if err != nil {
				return err
			}
			if parentID == projectID || tree.WouldCycle(projectID, parentID) {
				var v validator
				v.add("parent_id", parentID, RuleCircular)
				return v.err("")
			}
		}
		if err := e.Repo.SetProjectParent(ctx, tx, projectID, optionalString(parentID)); err != nil {
			return err
		}
		if err := e.event(ctx, tx, events.ProjectReparent, projectID, "project", projectID, actorID, events.EventPayload{"parent_id": parentID}); err != nil {
			return err
		}
		return e.repairVersions(ctx, tx, "", actorID)
	})
}

type CreateVersionOptions struct {
	ProjectID     string
	Name          string
	Status        string
	Sharing       string
	EffectiveDate string
	ActorID       string
}

func (e Engine) CreateVersion(ctx context.Context, opts CreateVersionOptions) (domain.Version, error) {
	v := domain.Version{
		ID:            newID(),
		ProjectID:     opts.ProjectID,
		Name:          opts.Name,
		Status:        opts.Status,
		Sharing:       opts.Sharing,
		EffectiveDate: optionalString(opts.EffectiveDate),
	}
	if v.Status == "" {
		v.Status = domain.VersionOpen
	}
	if v.Sharing == "" {
		v.Sharing = domain.SharingNone
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetProject(ctx, tx, opts.ProjectID); err != nil {
			return fmt.Errorf("project %s: %w", opts.ProjectID, err)
		}
		if err := e.Auth.Require(ctx, tx, opts.ProjectID, opts.ActorID, config.PermManageVersions); err != nil {
			return err
		}
		if err := validateVersion(v); err != nil {
			return err
		}
		v.CreatedAt = e.timestamp()
		if err := e.Repo.InsertVersion(ctx, tx, v); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
		return e.event(ctx, tx, events.VersionCreated, v.ProjectID, "version", v.ID, opts.ActorID, events.EventPayload{
			"name": v.Name, "sharing": v.Sharing,
		})
	})
	if err != nil {
		return domain.Version{}, err
	}
	return v, nil
}

func validateVersion(ver domain.Version) error {
	var v validator
	if strings.TrimSpace(ver.Name) == "" {
		v.add("name", nil, RuleRequired)
	}
	switch ver.Status {
	case domain.VersionOpen, domain.VersionLocked, domain.VersionClosed:
	default:
		v.add("status", ver.Status, RuleInclusion)
	}
	switch ver.Sharing {
	case domain.SharingNone, domain.SharingDescendants, domain.SharingHierarchy, domain.SharingTree, domain.SharingSystem:
	default:
		v.add("sharing", ver.Sharing, RuleInclusion)
	}
	if ver.EffectiveDate != nil && !domain.ValidDate(*ver.EffectiveDate) {
		v.add("effective_date", *ver.EffectiveDate, RuleNotADate)
	}
	return v.err("")
}

// SetVersionSharing changes the sharing policy and clears the version from
// issues of projects that lose access to it.
func (e Engine) SetVersionSharing(ctx context.Context, versionID, sharing, actorID string) (domain.Version, error) {
	var out domain.Version
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		v, err := e.Repo.GetVersion(ctx, tx, versionID)
		if err != nil {
			return fmt.Errorf("version %s: %w", versionID, err)
		}
		if err := e.Auth.Require(ctx, tx, v.ProjectID, actorID, config.PermManageVersions); err != nil {
			return err
		}
		previous := v.Sharing
		v.Sharing = sharing
		if err := validateVersion(v); err != nil {
			return err
		}
		if err := e.Repo.UpdateVersion(ctx, tx, v); err != nil {
			return err
		}
		if err := e.event(ctx, tx, events.VersionSharing, v.ProjectID, "version", v.ID, actorID, events.EventPayload{
			"from": previous, "to": sharing,
		}); err != nil {
			return err
		}
		out = v
		return e.repairVersions(ctx, tx, v.ID, actorID)
	})
	return out, err
}

// UpdateVersionStatus opens, locks or closes a version.
func (e Engine) UpdateVersionStatus(ctx context.Context, versionID, status, actorID string) (domain.Version, error) {
	var out domain.Version
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		v, err := e.Repo.GetVersion(ctx, tx, versionID)
		if err != nil {
			return fmt.Errorf("version %s: %w", versionID, err)
		}
		if err := e.Auth.Require(ctx, tx, v.ProjectID, actorID, config.PermManageVersions); err != nil {
			return err
		}
		v.Status = status
		if err := validateVersion(v); err != nil {
			return err
		}
		out = v
		return e.Repo.UpdateVersion(ctx, tx, v)
	})
	return out, err
}

// repairVersions clears fixed versions no longer shared with the issue's
// project, one journal per issue. An empty versionID checks every foreign
// assignment.
func (e Engine) repairVersions(ctx context.Context, q repo.Querier, versionID, actorID string) error {
	ids, err := e.Repo.IssuesWithForeignVersion(ctx, q, versionID)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	tree, err := e.projectTree(ctx, q)
	if err != nil {
		return err
	}
	for _, id := range ids {
		issue, err := e.Repo.GetIssue(ctx, q, id)
		if err != nil {
			return err
		}
		v, err := e.Repo.GetVersion(ctx, q, *issue.FixedVersionID)
		if err != nil {
			return err
		}
		if versions.SharedWith(v, issue.ProjectID, tree) {
			continue
		}
		after := cloneIssue(issue)
		after.FixedVersionID = nil
		if _, err := e.persist(ctx, q, change{
			before: issue,
			after:  after,
			scope:  journal.Begin(issue, actorID, ""),
		}); err != nil {
			return fmt.Errorf("clear version on %s: %w", issue.ID, err)
		}
		e.logger().Info("cleared unshared fixed version", "issue", issue.ID, "version", v.ID, "project", issue.ProjectID)
	}
	return nil
}

// AssignRole grants roleID on the project to member.
func (e Engine) AssignRole(ctx context.Context, projectID, member, roleID, actorID string) error {
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetProject(ctx, tx, projectID); err != nil {
			return fmt.Errorf("project %s: %w", projectID, err)
		}
		if err := e.Auth.Require(ctx, tx, projectID, actorID, config.PermManageMembers); err != nil {
			return err
		}
		if len(e.Config.Roles.Catalog) > 0 {
			if _, ok := e.Config.Roles.Catalog[roleID]; !ok {
				var v validator
				v.add("role", roleID, RuleInclusion)
				return v.err("")
			}
		}
		if err := e.Repo.EnsureActor(ctx, tx, member, e.timestamp()); err != nil {
			return err
		}
		if err := e.Repo.AssignRole(ctx, tx, projectID, member, roleID); err != nil {
			return err
		}
		return e.event(ctx, tx, events.RoleAssigned, projectID, "actor", member, actorID, events.EventPayload{"role": roleID})
	})
}

// RevokeRole removes roleID on the project from member.
func (e Engine) RevokeRole(ctx context.Context, projectID, member, roleID, actorID string) error {
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Auth.Require(ctx, tx, projectID, actorID, config.PermManageMembers); err != nil {
			return err
		}
		return e.Repo.RevokeRole(ctx, tx, projectID, member, roleID)
	})
}
