package engine

import (
	"context"
	"database/sql"
	"fmt"

	"voteline/internal/config"
	"voteline/internal/domain"
	"voteline/internal/events"
	"voteline/internal/relations"
	"voteline/internal/repo"
)

type AddRelationOptions struct {
	FromID  string
	ToID    string
	Kind    domain.RelationKind
	Delay   *int
	ActorID string
}

// AddRelation links two issues. A new precedes relation reschedules its
// successor in the same transaction.
func (e Engine) AddRelation(ctx context.Context, opts AddRelationOptions) (domain.Relation, error) {
	rel := domain.Relation{
		ID:     newID(),
		FromID: opts.FromID,
		ToID:   opts.ToID,
		Kind:   opts.Kind,
		Delay:  opts.Delay,
	}
	if rel.Kind == domain.RelPrecedes && rel.Delay == nil {
		zero := 0
		rel.Delay = &zero
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		from, err := e.Repo.GetIssue(ctx, tx, opts.FromID)
		if err != nil {
			return fmt.Errorf("issue %s: %w", opts.FromID, err)
		}
		to, err := e.Repo.GetIssue(ctx, tx, opts.ToID)
		if err != nil {
			return fmt.Errorf("issue %s: %w", opts.ToID, err)
		}
		if err := e.Auth.Require(ctx, tx, from.ProjectID, opts.ActorID, config.PermManageRelations); err != nil {
			return err
		}
		if err := e.validateRelation(ctx, tx, rel, from, to); err != nil {
			return err
		}
		rel.CreatedAt = e.timestamp()
		if err := e.Repo.InsertRelation(ctx, tx, rel); err != nil {
			return fmt.Errorf("insert relation: %w", err)
		}
		if err := e.event(ctx, tx, events.RelationAdded, from.ProjectID, "relation", rel.ID, opts.ActorID, events.EventPayload{
			"from": rel.FromID, "to": rel.ToID, "kind": string(rel.Kind),
		}); err != nil {
			return err
		}
		return e.propagate(ctx, tx, savedIssue{before: from, after: from}, opts.ActorID, "")
	})
	if err != nil {
		return domain.Relation{}, err
	}
	return rel, nil
}

func (e Engine) validateRelation(ctx context.Context, q repo.Querier, rel domain.Relation, from, to domain.Issue) error {
	var v validator
	if err := relations.Validate(rel); err != nil {
		v.add("relation", string(rel.Kind), err.Error())
		return v.err(from.ID)
	}
	if !e.Config.Settings.CrossProjectRelations && from.ProjectID != to.ProjectID {
		v.add("to_id", to.ID, RuleCrossProject)
	}
	taken, err := e.Repo.RelationExists(ctx, q, from.ID, to.ID, rel.Kind)
	if err != nil {
		return err
	}
	if taken {
		v.add("to_id", to.ID, RuleTaken)
	}
	if rel.Kind == domain.RelPrecedes || rel.Kind == domain.RelBlocks {
		dependents, err := relations.AllDependentIssues(ctx, e.Repo.RelationSource(q), to.ID)
		if err != nil {
			return err
		}
		for _, id := range dependents {
			if id == from.ID {
				v.add("to_id", to.ID, RuleCircular)
				break
			}
		}
	}
	return v.err(from.ID)
}

func (e Engine) RemoveRelation(ctx context.Context, relationID, actorID string) error {
	return e.inTx(ctx, func(tx *sql.Tx) error {
		rel, err := e.Repo.GetRelation(ctx, tx, relationID)
		if err != nil {
			return fmt.Errorf("relation %s: %w", relationID, err)
		}
		from, err := e.Repo.GetIssue(ctx, tx, rel.FromID)
		if err != nil {
			return err
		}
		if err := e.Auth.Require(ctx, tx, from.ProjectID, actorID, config.PermManageRelations); err != nil {
			return err
		}
		if err := e.Repo.DeleteRelation(ctx, tx, relationID); err != nil {
			return err
		}
		return e.event(ctx, tx, events.RelationRemoved, from.ProjectID, "relation", rel.ID, actorID, events.EventPayload{
			"from": rel.FromID, "to": rel.ToID, "kind": string(rel.Kind),
		})
	})
}

// Relations lists the relations touching an issue in either direction.
func (e Engine) Relations(ctx context.Context, issueID string) ([]domain.Relation, error) {
	return e.Repo.RelationsOf(ctx, nil, issueID)
}

// DependentIssues returns every issue reachable over outgoing relations.
func (e Engine) DependentIssues(ctx context.Context, issueID string) ([]string, error) {
	return relations.AllDependentIssues(ctx, e.Repo.RelationSource(e.DB), issueID)
}

// SoonestStart is the earliest start date the issue's predecessors allow.
func (e Engine) SoonestStart(ctx context.Context, issueID string) (*string, error) {
	return relations.SoonestStart(ctx, e.Repo.RelationSource(e.DB), issueID, e.issueLookup(e.DB))
}
