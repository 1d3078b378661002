package repo

import (
	"context"

	"voteline/internal/domain"
)

// UpsertVote stores the actor's vote of that kind, replacing any earlier one.
func (r Repo) UpsertVote(ctx context.Context, q Querier, v domain.Vote) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO votes(id,issue_id,actor_id,kind,points,created_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(issue_id,actor_id,kind) DO UPDATE SET points=excluded.points, created_at=excluded.created_at`,
		v.ID, v.IssueID, v.ActorID, string(v.Kind), v.Points, v.CreatedAt)
	return err
}

func (r Repo) DeleteVote(ctx context.Context, q Querier, issueID, actorID string, kind domain.VoteKind) (bool, error) {
	res, err := r.q(q).ExecContext(ctx, `DELETE FROM votes WHERE issue_id=? AND actor_id=? AND kind=?`, issueID, actorID, string(kind))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) ListVotes(ctx context.Context, q Querier, issueID string) ([]domain.Vote, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT id,issue_id,actor_id,kind,points,created_at FROM votes WHERE issue_id=? ORDER BY created_at, id`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Vote
	for rows.Next() {
		var v domain.Vote
		var kind string
		if err := rows.Scan(&v.ID, &v.IssueID, &v.ActorID, &kind, &v.Points, &v.CreatedAt); err != nil {
			return nil, err
		}
		v.Kind = domain.VoteKind(kind)
		res = append(res, v)
	}
	return res, rows.Err()
}
