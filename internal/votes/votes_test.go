package votes_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voteline/internal/domain"
	"voteline/internal/votes"
)

func sampleVotes() []domain.Vote {
	return []domain.Vote{
		{ActorID: "a", Kind: domain.VoteJoin, Points: 1},
		{ActorID: "b", Kind: domain.VoteJoin, Points: 1},
		{ActorID: "a", Kind: domain.VoteAgree, Points: 1},
		{ActorID: "b", Kind: domain.VoteAgree, Points: 1},
		{ActorID: "c", Kind: domain.VoteAgree, Points: -1},
		{ActorID: "a", Kind: domain.VoteAccept, Points: -1},
		{ActorID: "b", Kind: domain.VoteAccept, Points: 1},
		{ActorID: "c", Kind: domain.VoteAccept, Points: 1},
		{ActorID: "a", Kind: domain.VoteEstimate, Points: 3},
		{ActorID: "b", Kind: domain.VoteEstimate, Points: 4},
		{ActorID: "c", Kind: domain.VoteEstimate, Points: 8},
		{ActorID: "a", Kind: domain.VotePriority, Points: 2},
		{ActorID: "b", Kind: domain.VotePriority, Points: -1},
	}
}

func TestComputeTallies(t *testing.T) {
	tally := votes.Compute(sampleVotes())
	assert.Equal(t, 2, tally.Agree)
	assert.Equal(t, 1, tally.Disagree)
	assert.Equal(t, 1, tally.AgreeTotal)
	assert.Equal(t, 2, tally.Accept)
	assert.Equal(t, 1, tally.Reject)
	assert.Equal(t, 1, tally.AcceptTotal)
	assert.Equal(t, 1, tally.Pri)
	require.NotNil(t, tally.Points)
	assert.InDelta(t, 5.0, *tally.Points, 1e-9)
	assert.True(t, tally.HasTeam())
}

func TestComputeWithoutEstimates(t *testing.T) {
	tally := votes.Compute([]domain.Vote{{ActorID: "a", Kind: domain.VoteJoin, Points: 1}})
	assert.Nil(t, tally.Points)
	assert.False(t, tally.HasTeam(), "author alone is not a team")
	assert.Zero(t, tally.AgreeTotal)
}

func TestComputeIsOrderIndependent(t *testing.T) {
	base := sampleVotes()
	want := votes.Compute(base)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		shuffled := append([]domain.Vote(nil), base...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		require.Equal(t, want, votes.Compute(shuffled))
	}
}

func TestApplyDoesNotAlias(t *testing.T) {
	tally := votes.Compute(sampleVotes())
	var issue domain.Issue
	tally.Apply(&issue)
	require.NotNil(t, issue.Points)
	*issue.Points = 42
	assert.InDelta(t, 5.0, *tally.Points, 1e-9)
	assert.Equal(t, 1, issue.AgreeTotal)
	assert.Equal(t, 1, issue.Pri)
}
