package relations_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voteline/internal/domain"
	"voteline/internal/relations"
)

func date(s string) *string { return &s }
func delay(n int) *int      { return &n }

func lookupFrom(issues ...domain.Issue) relations.IssueLookup {
	byID := map[string]domain.Issue{}
	for _, i := range issues {
		byID[i.ID] = i
	}
	return func(_ context.Context, id string) (domain.Issue, error) {
		i, ok := byID[id]
		if !ok {
			return domain.Issue{}, fmt.Errorf("issue %s not found", id)
		}
		return i, nil
	}
}

func TestSoonestStartWithoutPredecessors(t *testing.T) {
	g := relations.NewGraph(domain.Relation{FromID: "a", ToID: "b", Kind: domain.RelRelates})
	got, err := relations.SoonestStart(context.Background(), g, "b", lookupFrom())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSoonestStartTakesMinimum(t *testing.T) {
	a := domain.Issue{ID: "a", StartDate: date("2024-01-01"), DueDate: date("2024-01-10")}
	b := domain.Issue{ID: "b", StartDate: date("2024-01-03")}
	c := domain.Issue{ID: "c"}
	g := relations.NewGraph(
		domain.Relation{FromID: "a", ToID: "x", Kind: domain.RelPrecedes, Delay: delay(2)},
		domain.Relation{FromID: "b", ToID: "x", Kind: domain.RelPrecedes},
		domain.Relation{FromID: "c", ToID: "x", Kind: domain.RelPrecedes},
	)
	got, err := relations.SoonestStart(context.Background(), g, "x", lookupFrom(a, b, c))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "2024-01-04", *got)
}

func TestSuccessorSoonestStart(t *testing.T) {
	from := domain.Issue{DueDate: date("2024-02-28")}
	r := domain.Relation{Kind: domain.RelPrecedes, Delay: delay(1)}
	assert.Equal(t, "2024-03-01", *relations.SuccessorSoonestStart(r, from))
	assert.Nil(t, relations.SuccessorSoonestStart(domain.Relation{Kind: domain.RelBlocks}, from))
	assert.Nil(t, relations.SuccessorSoonestStart(r, domain.Issue{}))
}

func TestBlocked(t *testing.T) {
	g := relations.NewGraph(
		domain.Relation{FromID: "open-blocker", ToID: "x", Kind: domain.RelBlocks},
		domain.Relation{FromID: "closed-blocker", ToID: "y", Kind: domain.RelBlocks},
		domain.Relation{FromID: "open-blocker", ToID: "z", Kind: domain.RelRelates},
	)
	closed := func(_ context.Context, id string) (bool, error) { return id == "closed-blocker", nil }
	ctx := context.Background()

	blocked, err := relations.Blocked(ctx, g, "x", closed)
	require.NoError(t, err)
	assert.True(t, blocked)

	blocked, err = relations.Blocked(ctx, g, "y", closed)
	require.NoError(t, err)
	assert.False(t, blocked)

	blocked, err = relations.Blocked(ctx, g, "z", closed)
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestDuplicatesOf(t *testing.T) {
	g := relations.NewGraph(
		domain.Relation{FromID: "d1", ToID: "orig", Kind: domain.RelDuplicates},
		domain.Relation{FromID: "d2", ToID: "orig", Kind: domain.RelDuplicates},
		domain.Relation{FromID: "orig", ToID: "d1", Kind: domain.RelRelates},
	)
	got, err := relations.DuplicatesOf(context.Background(), g, "orig")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"d1", "d2"}, got)
}

func TestAllDependentIssuesTerminatesOnCycles(t *testing.T) {
	g := relations.NewGraph(
		domain.Relation{FromID: "a", ToID: "b", Kind: domain.RelBlocks},
		domain.Relation{FromID: "b", ToID: "c", Kind: domain.RelPrecedes},
		domain.Relation{FromID: "c", ToID: "a", Kind: domain.RelRelates},
		domain.Relation{FromID: "b", ToID: "d", Kind: domain.RelDuplicates},
	)
	got, err := relations.AllDependentIssues(context.Background(), g, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d"}, got)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, relations.Validate(domain.Relation{FromID: "a", ToID: "b", Kind: domain.RelPrecedes, Delay: delay(0)}))
	assert.Error(t, relations.Validate(domain.Relation{FromID: "a", ToID: "a", Kind: domain.RelBlocks}))
	assert.Error(t, relations.Validate(domain.Relation{FromID: "a", ToID: "b", Kind: "follows"}))
	assert.Error(t, relations.Validate(domain.Relation{FromID: "a", ToID: "b", Kind: domain.RelBlocks, Delay: delay(1)}))
	assert.Error(t, relations.Validate(domain.Relation{FromID: "a", ToID: "b", Kind: domain.RelPrecedes, Delay: delay(-1)}))
}
