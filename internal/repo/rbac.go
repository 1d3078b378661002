package repo

import (
	"context"
)

func (r Repo) EnsureActor(ctx context.Context, q Querier, actorID string, now string) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, created_at) VALUES (?,?)`, actorID, now)
	return err
}

func (r Repo) AssignRole(ctx context.Context, q Querier, projectID, actorID, roleID string) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT OR IGNORE INTO actor_roles(project_id, actor_id, role_id) VALUES (?,?,?)`, projectID, actorID, roleID)
	return err
}

func (r Repo) RevokeRole(ctx context.Context, q Querier, projectID, actorID, roleID string) error {
	_, err := r.q(q).ExecContext(ctx, `DELETE FROM actor_roles WHERE project_id=? AND actor_id=? AND role_id=?`, projectID, actorID, roleID)
	return err
}

func (r Repo) ActorRoles(ctx context.Context, q Querier, projectID, actorID string) ([]string, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT role_id FROM actor_roles WHERE project_id=? AND actor_id=? ORDER BY role_id`, projectID, actorID)
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}

// CountRoleHolders counts distinct actors holding the role in the project.
func (r Repo) CountRoleHolders(ctx context.Context, q Querier, projectID, roleID string) (int, error) {
	var n int
	err := r.q(q).QueryRowContext(ctx, `SELECT COUNT(DISTINCT actor_id) FROM actor_roles WHERE project_id=? AND role_id=?`, projectID, roleID).Scan(&n)
	return n, err
}
