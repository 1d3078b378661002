package auth

import (
	"context"
	"errors"
	"fmt"

	"voteline/internal/config"
	"voteline/internal/repo"
	"voteline/internal/versions"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
	ProjectID  string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required on project %s", e.Permission, e.ProjectID)
}

// Service resolves actor roles and permissions per project.
type Service struct {
	Repo   repo.Repo
	Config *config.Config
}

// RolesFor returns the actor's roles on the project, including roles held on
// ancestor projects.
func (s Service) RolesFor(ctx context.Context, q repo.Querier, projectID, actorID string) ([]string, error) {
	if actorID == "" {
		return nil, errors.New("actor_id required")
	}
	projects, err := s.Repo.ListProjects(ctx, q)
	if err != nil {
		return nil, err
	}
	tree := versions.NewTree(projects)
	seen := map[string]bool{}
	var roles []string
	for _, pid := range append([]string{projectID}, tree.Ancestors(projectID)...) {
		rs, err := s.Repo.ActorRoles(ctx, q, pid, actorID)
		if err != nil {
			return nil, err
		}
		for _, r := range rs {
			if !seen[r] {
				seen[r] = true
				roles = append(roles, r)
			}
		}
	}
	return roles, nil
}

// Allowed reports whether the actor may perform perm on the project.
func (s Service) Allowed(ctx context.Context, q repo.Querier, projectID, actorID, perm string) (bool, error) {
	roles, err := s.RolesFor(ctx, q, projectID, actorID)
	if err != nil {
		return false, err
	}
	return s.Config.RoleAllows(roles, perm), nil
}

// Require returns ForbiddenError unless the actor holds perm.
func (s Service) Require(ctx context.Context, q repo.Querier, projectID, actorID, perm string) error {
	ok, err := s.Allowed(ctx, q, projectID, actorID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{Permission: perm, ProjectID: projectID}
	}
	return nil
}

// CoreMembers counts the actors holding the core role on the project's root.
func (s Service) CoreMembers(ctx context.Context, q repo.Querier, projectID string) (int, error) {
	projects, err := s.Repo.ListProjects(ctx, q)
	if err != nil {
		return 0, err
	}
	root := versions.NewTree(projects).Root(projectID)
	return s.Repo.CountRoleHolders(ctx, q, root, s.Config.Roles.Core)
}
