package repo

import (
	"context"
	"database/sql"

	"voteline/internal/domain"
)

const projectCols = `id,name,parent_id,status,last_item_updated_at,created_at`

func scanProject(row scanner) (domain.Project, error) {
	var p domain.Project
	var parent, stamp sql.NullString
	if err := row.Scan(&p.ID, &p.Name, &parent, &p.Status, &stamp, &p.CreatedAt); err != nil {
		return p, notFound(err)
	}
	p.ParentID = stringPtr(parent)
	p.LastItemUpdatedAt = stringPtr(stamp)
	return p, nil
}

func (r Repo) InsertProject(ctx context.Context, q Querier, p domain.Project) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO projects(id,name,parent_id,status,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Name, nullableStringPtr(p.ParentID), p.Status, p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, q Querier, id string) (domain.Project, error) {
	return scanProject(r.q(q).QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE id=?`, id))
}

func (r Repo) ListProjects(ctx context.Context, q Querier) ([]domain.Project, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT `+projectCols+` FROM projects ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) SetProjectParent(ctx context.Context, q Querier, id string, parentID *string) error {
	res, err := r.q(q).ExecContext(ctx, `UPDATE projects SET parent_id=? WHERE id=?`, nullableStringPtr(parentID), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchProject stamps the project's last item activity.
func (r Repo) TouchProject(ctx context.Context, q Querier, id, ts string) error {
	_, err := r.q(q).ExecContext(ctx, `UPDATE projects SET last_item_updated_at=? WHERE id=?`, ts, id)
	return err
}

const versionCols = `id,project_id,name,status,sharing,effective_date,created_at`

func scanVersion(row scanner) (domain.Version, error) {
	var v domain.Version
	var eff sql.NullString
	if err := row.Scan(&v.ID, &v.ProjectID, &v.Name, &v.Status, &v.Sharing, &eff, &v.CreatedAt); err != nil {
		return v, notFound(err)
	}
	v.EffectiveDate = stringPtr(eff)
	return v, nil
}

func (r Repo) InsertVersion(ctx context.Context, q Querier, v domain.Version) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO versions(`+versionCols+`) VALUES (?,?,?,?,?,?,?)`,
		v.ID, v.ProjectID, v.Name, v.Status, v.Sharing, nullableStringPtr(v.EffectiveDate), v.CreatedAt)
	return err
}

func (r Repo) GetVersion(ctx context.Context, q Querier, id string) (domain.Version, error) {
	return scanVersion(r.q(q).QueryRowContext(ctx, `SELECT `+versionCols+` FROM versions WHERE id=?`, id))
}

func (r Repo) UpdateVersion(ctx context.Context, q Querier, v domain.Version) error {
	res, err := r.q(q).ExecContext(ctx, `UPDATE versions SET name=?, status=?, sharing=?, effective_date=? WHERE id=?`,
		v.Name, v.Status, v.Sharing, nullableStringPtr(v.EffectiveDate), v.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListVersions returns every version; an empty projectID lists all projects.
func (r Repo) ListVersions(ctx context.Context, q Querier, projectID string) ([]domain.Version, error) {
	query := `SELECT ` + versionCols + ` FROM versions`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id=?`
		args = append(args, projectID)
	}
	query += ` ORDER BY created_at, id`
	rows, err := r.q(q).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}
