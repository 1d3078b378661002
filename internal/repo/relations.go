package repo

import (
	"context"
	"database/sql"

	"voteline/internal/domain"
	"voteline/internal/relations"
)

const relationCols = `id,from_id,to_id,kind,delay,created_at`

func (r Repo) InsertRelation(ctx context.Context, q Querier, rel domain.Relation) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO relations(`+relationCols+`) VALUES (?,?,?,?,?,?)`,
		rel.ID, rel.FromID, rel.ToID, string(rel.Kind), nullableIntPtr(rel.Delay), rel.CreatedAt)
	return err
}

func (r Repo) GetRelation(ctx context.Context, q Querier, id string) (domain.Relation, error) {
	rels, err := r.queryRelations(ctx, q, `WHERE id=?`, id)
	if err != nil {
		return domain.Relation{}, err
	}
	if len(rels) == 0 {
		return domain.Relation{}, ErrNotFound
	}
	return rels[0], nil
}

func (r Repo) DeleteRelation(ctx context.Context, q Querier, id string) error {
	res, err := r.q(q).ExecContext(ctx, `DELETE FROM relations WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRelationsOf severs every relation touching the issue.
func (r Repo) DeleteRelationsOf(ctx context.Context, q Querier, issueID string) (int64, error) {
	res, err := r.q(q).ExecContext(ctx, `DELETE FROM relations WHERE from_id=? OR to_id=?`, issueID, issueID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) RelationsFrom(ctx context.Context, q Querier, issueID string) ([]domain.Relation, error) {
	return r.queryRelations(ctx, q, `WHERE from_id=?`, issueID)
}

func (r Repo) RelationsTo(ctx context.Context, q Querier, issueID string) ([]domain.Relation, error) {
	return r.queryRelations(ctx, q, `WHERE to_id=?`, issueID)
}

// RelationsOf lists relations in either direction.
func (r Repo) RelationsOf(ctx context.Context, q Querier, issueID string) ([]domain.Relation, error) {
	return r.queryRelations(ctx, q, `WHERE from_id=? OR to_id=?`, issueID, issueID)
}

// RelationExists reports whether the directed edge is already stored.
func (r Repo) RelationExists(ctx context.Context, q Querier, fromID, toID string, kind domain.RelationKind) (bool, error) {
	var n int
	err := r.q(q).QueryRowContext(ctx, `SELECT 1 FROM relations WHERE kind=? AND from_id=? AND to_id=? LIMIT 1`,
		string(kind), fromID, toID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) queryRelations(ctx context.Context, q Querier, where string, args ...any) ([]domain.Relation, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT `+relationCols+` FROM relations `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Relation
	for rows.Next() {
		var rel domain.Relation
		var kind string
		var delay sql.NullInt64
		if err := rows.Scan(&rel.ID, &rel.FromID, &rel.ToID, &kind, &delay, &rel.CreatedAt); err != nil {
			return nil, err
		}
		rel.Kind = domain.RelationKind(kind)
		rel.Delay = intPtr(delay)
		res = append(res, rel)
	}
	return res, rows.Err()
}

// RelationSource exposes the stored graph to the relations package, reading
// through the given querier.
func (r Repo) RelationSource(q Querier) relations.Source {
	return relationSource{repo: r, q: q}
}

type relationSource struct {
	repo Repo
	q    Querier
}

func (s relationSource) RelationsFrom(ctx context.Context, issueID string) ([]domain.Relation, error) {
	return s.repo.RelationsFrom(ctx, s.q, issueID)
}

func (s relationSource) RelationsTo(ctx context.Context, issueID string) ([]domain.Relation, error) {
	return s.repo.RelationsTo(ctx, s.q, issueID)
}
