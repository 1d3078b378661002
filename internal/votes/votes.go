// Package votes aggregates participant votes into the tallies cached on an issue.
package votes

import "voteline/internal/domain"

// Tally is the aggregate of every vote cast on one issue.
type Tally struct {
	Agree       int
	Disagree    int
	AgreeTotal  int
	Accept      int
	Reject      int
	AcceptTotal int
	// Points is the mean estimate, nil when nobody estimated.
	Points *float64
	Pri    int
	// JoinSum includes the author's implicit join.
	JoinSum int
}

// HasTeam reports whether someone besides the author joined.
func (t Tally) HasTeam() bool {
	return t.JoinSum > 1
}

// Compute folds the votes into a Tally. Only sums and counts are used so the
// result does not depend on vote order.
func Compute(vs []domain.Vote) Tally {
	var t Tally
	estimates, estimateSum := 0, 0
	for _, v := range vs {
		switch v.Kind {
		case domain.VoteAgree:
			switch v.Points {
			case 1:
				t.Agree++
			case -1:
				t.Disagree++
			}
		case domain.VoteAccept:
			switch v.Points {
			case 1:
				t.Accept++
			case -1:
				t.Reject++
			}
		case domain.VoteEstimate:
			estimates++
			estimateSum += v.Points
		case domain.VotePriority:
			t.Pri += v.Points
		case domain.VoteJoin:
			t.JoinSum += v.Points
		}
	}
	t.AgreeTotal = t.Agree - t.Disagree
	t.AcceptTotal = t.Accept - t.Reject
	if estimates > 0 {
		mean := float64(estimateSum) / float64(estimates)
		t.Points = &mean
	}
	return t
}

// Apply copies the tally onto the issue's cached aggregate fields.
func (t Tally) Apply(issue *domain.Issue) {
	issue.Agree = t.Agree
	issue.Disagree = t.Disagree
	issue.AgreeTotal = t.AgreeTotal
	issue.Accept = t.Accept
	issue.Reject = t.Reject
	issue.AcceptTotal = t.AcceptTotal
	issue.Pri = t.Pri
	if t.Points == nil {
		issue.Points = nil
	} else {
		p := *t.Points
		issue.Points = &p
	}
}
