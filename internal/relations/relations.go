// Package relations answers graph questions over directed issue relations.
// Every traversal keeps a visited set so cyclic graphs terminate.
package relations

import (
	"context"
	"fmt"

	"voteline/internal/domain"
)

// Source yields the relation edges touching an issue.
type Source interface {
	RelationsFrom(ctx context.Context, issueID string) ([]domain.Relation, error)
	RelationsTo(ctx context.Context, issueID string) ([]domain.Relation, error)
}

// IssueLookup resolves an issue by id.
type IssueLookup func(ctx context.Context, id string) (domain.Issue, error)

// ClosedFunc reports whether an issue is in a closed status.
type ClosedFunc func(ctx context.Context, id string) (bool, error)

// Graph is an in-memory Source.
type Graph struct {
	from map[string][]domain.Relation
	to   map[string][]domain.Relation
}

func NewGraph(rels ...domain.Relation) *Graph {
	g := &Graph{from: map[string][]domain.Relation{}, to: map[string][]domain.Relation{}}
	for _, r := range rels {
		g.from[r.FromID] = append(g.from[r.FromID], r)
		g.to[r.ToID] = append(g.to[r.ToID], r)
	}
	return g
}

func (g *Graph) RelationsFrom(_ context.Context, id string) ([]domain.Relation, error) {
	return g.from[id], nil
}

func (g *Graph) RelationsTo(_ context.Context, id string) ([]domain.Relation, error) {
	return g.to[id], nil
}

// Validate checks a new relation for self references and unknown kinds.
func Validate(r domain.Relation) error {
	if !r.Kind.IsValid() {
		return fmt.Errorf("invalid relation kind %q", r.Kind)
	}
	if r.FromID == "" || r.ToID == "" {
		return fmt.Errorf("relation requires both issues")
	}
	if r.FromID == r.ToID {
		return fmt.Errorf("issue cannot be related to itself")
	}
	if r.Delay != nil && r.Kind != domain.RelPrecedes {
		return fmt.Errorf("delay only applies to %s relations", domain.RelPrecedes)
	}
	if r.Delay != nil && *r.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	return nil
}

// SuccessorSoonestStart is the earliest date the successor of a precedes
// relation may start: the predecessor's due (or start) date plus one day plus
// the delay. It is nil for other kinds or when the predecessor is unscheduled.
func SuccessorSoonestStart(r domain.Relation, from domain.Issue) *string {
	if r.Kind != domain.RelPrecedes {
		return nil
	}
	base := from.DueDate
	if base == nil {
		base = from.StartDate
	}
	if base == nil {
		return nil
	}
	delay := 0
	if r.Delay != nil {
		delay = *r.Delay
	}
	d := domain.AddDays(*base, 1+delay)
	return &d
}

// SoonestStart is the minimum SuccessorSoonestStart over the relations ending
// at the issue, nil when none applies.
func SoonestStart(ctx context.Context, src Source, issueID string, lookup IssueLookup) (*string, error) {
	rels, err := src.RelationsTo(ctx, issueID)
	if err != nil {
		return nil, err
	}
	var soonest *string
	for _, r := range rels {
		if r.Kind != domain.RelPrecedes {
			continue
		}
		from, err := lookup(ctx, r.FromID)
		if err != nil {
			return nil, fmt.Errorf("load predecessor %s: %w", r.FromID, err)
		}
		d := SuccessorSoonestStart(r, from)
		if d == nil {
			continue
		}
		if soonest == nil || domain.DateBefore(*d, *soonest) {
			soonest = d
		}
	}
	return soonest, nil
}

// Blocked reports whether an open issue blocks this one.
func Blocked(ctx context.Context, src Source, issueID string, closed ClosedFunc) (bool, error) {
	rels, err := src.RelationsTo(ctx, issueID)
	if err != nil {
		return false, err
	}
	for _, r := range rels {
		if r.Kind != domain.RelBlocks {
			continue
		}
		c, err := closed(ctx, r.FromID)
		if err != nil {
			return false, err
		}
		if !c {
			return true, nil
		}
	}
	return false, nil
}

// DuplicatesOf returns the issues declaring themselves duplicates of this one.
func DuplicatesOf(ctx context.Context, src Source, issueID string) ([]string, error) {
	rels, err := src.RelationsTo(ctx, issueID)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, r := range rels {
		if r.Kind == domain.RelDuplicates {
			out = append(out, r.FromID)
		}
	}
	return out, nil
}

// AllDependentIssues returns every issue reachable over outgoing relations,
// breadth first, each once, excluding the start issue.
func AllDependentIssues(ctx context.Context, src Source, issueID string) ([]string, error) {
	visited := map[string]bool{issueID: true}
	queue := []string{issueID}
	var out []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		rels, err := src.RelationsFrom(ctx, cur)
		if err != nil {
			return nil, err
		}
		for _, r := range rels {
			if visited[r.ToID] {
				continue
			}
			visited[r.ToID] = true
			out = append(out, r.ToID)
			queue = append(queue, r.ToID)
		}
	}
	return out, nil
}
