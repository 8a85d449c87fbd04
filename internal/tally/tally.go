// Package tally counts votes per option and finds the winner set.
package tally

import (
	"sort"

	"github.com/park285/dicey-decisions/internal/domain"
)

// Standing is one row of the sorted results.
type Standing struct {
	Option domain.Option `json:"option"`
	Count  int           `json:"count"`
}

// Result is the outcome of Compute. It is derived fresh from each snapshot and
// never cached across snapshots.
type Result struct {
	// Counts holds every option id, including options with no votes.
	Counts map[string]int `json:"counts"`
	// Standings is sorted by count descending; equal counts keep option order.
	Standings []Standing `json:"standings"`
	MaxCount  int        `json:"max_count"`
	// Winners are the options whose count equals MaxCount, in option order.
	// With zero votes every option is a winner.
	Winners    []domain.Option `json:"winners"`
	TotalVotes int             `json:"total_votes"`
	// Ignored counts votes naming an option that is not in the option list.
	Ignored int `json:"ignored,omitempty"`
}

// Compute tallies votes against options. Options are taken in the order given;
// the order of votes has no influence on the result.
func Compute(options []domain.Option, votes []domain.Vote) Result {
	res := Result{
		Counts:    make(map[string]int, len(options)),
		Standings: make([]Standing, 0, len(options)),
		Winners:   []domain.Option{},
	}
	for _, o := range options {
		res.Counts[o.ID] = 0
	}
	for _, v := range votes {
		if _, ok := res.Counts[v.OptionID]; !ok {
			res.Ignored++
			continue
		}
		res.Counts[v.OptionID]++
		res.TotalVotes++
	}

	for _, o := range options {
		c := res.Counts[o.ID]
		res.Standings = append(res.Standings, Standing{Option: o, Count: c})
		if c > res.MaxCount {
			res.MaxCount = c
		}
	}
	sort.SliceStable(res.Standings, func(i, j int) bool {
		return res.Standings[i].Count > res.Standings[j].Count
	})

	for _, o := range options {
		if res.Counts[o.ID] == res.MaxCount {
			res.Winners = append(res.Winners, o)
		}
	}
	return res
}

// IsTie reports whether more than one option shares the top count. With zero
// votes and two or more options this is true: a tiebreaker may then roll among
// all options.
func (r Result) IsTie() bool { return len(r.Winners) > 1 }

// NoVotes reports whether nothing was counted.
func (r Result) NoVotes() bool { return r.TotalVotes == 0 }

// Winner returns the single winner when there is no tie.
func (r Result) Winner() (domain.Option, bool) {
	if len(r.Winners) != 1 {
		return domain.Option{}, false
	}
	return r.Winners[0], true
}

// IsWinner reports whether optionID is in the winner set.
func (r Result) IsWinner(optionID string) bool {
	for _, w := range r.Winners {
		if w.ID == optionID {
			return true
		}
	}
	return false
}

// FromSnapshot tallies a room snapshot. Options in a snapshot are already in
// Seq order.
func FromSnapshot(s *domain.RoomSnapshot) Result {
	if s == nil {
		return Compute(nil, nil)
	}
	return Compute(s.Options, s.Votes)
}
