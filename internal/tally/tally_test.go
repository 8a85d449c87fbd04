package tally

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/park285/dicey-decisions/internal/domain"
)

func opts(texts ...string) []domain.Option {
	out := make([]domain.Option, 0, len(texts))
	for i, t := range texts {
		out = append(out, domain.Option{ID: t, Text: t, Seq: int64(i + 1)})
	}
	return out
}

func votes(optionIDs ...string) []domain.Vote {
	out := make([]domain.Vote, 0, len(optionIDs))
	for i, id := range optionIDs {
		out = append(out, domain.Vote{ID: id + string(rune('a'+i)), UserID: string(rune('a' + i)), OptionID: id})
	}
	return out
}

func winnerTexts(r Result) []string {
	out := []string{}
	for _, w := range r.Winners {
		out = append(out, w.Text)
	}
	return out
}

func TestCleanMajority(t *testing.T) {
	r := Compute(opts("Pizza", "Tacos", "Sushi"), votes("Pizza", "Tacos", "Pizza"))

	if diff := cmp.Diff(map[string]int{"Pizza": 2, "Tacos": 1, "Sushi": 0}, r.Counts); diff != "" {
		t.Fatalf("counts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Pizza"}, winnerTexts(r)); diff != "" {
		t.Fatalf("winners mismatch (-want +got):\n%s", diff)
	}
	if r.IsTie() {
		t.Fatalf("expected no tie")
	}
	if r.MaxCount != 2 || r.TotalVotes != 3 {
		t.Fatalf("max=%d total=%d", r.MaxCount, r.TotalVotes)
	}
	w, ok := r.Winner()
	if !ok || w.Text != "Pizza" {
		t.Fatalf("Winner() = %v, %v", w, ok)
	}
	order := []string{r.Standings[0].Option.Text, r.Standings[1].Option.Text, r.Standings[2].Option.Text}
	if diff := cmp.Diff([]string{"Pizza", "Tacos", "Sushi"}, order); diff != "" {
		t.Fatalf("standings mismatch (-want +got):\n%s", diff)
	}
}

func TestTwoWayTie(t *testing.T) {
	r := Compute(opts("A", "B"), votes("A", "B"))
	if diff := cmp.Diff(map[string]int{"A": 1, "B": 1}, r.Counts); diff != "" {
		t.Fatalf("counts mismatch (-want +got):\n%s", diff)
	}
	if !r.IsTie() {
		t.Fatalf("expected tie")
	}
	if diff := cmp.Diff([]string{"A", "B"}, winnerTexts(r)); diff != "" {
		t.Fatalf("winners mismatch (-want +got):\n%s", diff)
	}
	if _, ok := r.Winner(); ok {
		t.Fatalf("Winner() should fail on a tie")
	}
}

func TestZeroVotesEveryOptionWins(t *testing.T) {
	o := opts("A", "B", "C")
	r := Compute(o, nil)
	for _, opt := range o {
		if r.Counts[opt.ID] != 0 {
			t.Fatalf("count for %s = %d", opt.ID, r.Counts[opt.ID])
		}
	}
	if diff := cmp.Diff(o, r.Winners); diff != "" {
		t.Fatalf("winners mismatch (-want +got):\n%s", diff)
	}
	if !r.NoVotes() {
		t.Fatalf("expected NoVotes")
	}
	// zero votes with several options is treated as a tie: a tiebreaker may
	// roll among all of them
	if !r.IsTie() {
		t.Fatalf("zero votes over three options must report a tie")
	}
}

func TestSingleOptionZeroVotesIsNotATie(t *testing.T) {
	r := Compute(opts("Only"), nil)
	if r.IsTie() {
		t.Fatalf("one option cannot tie")
	}
	if w, ok := r.Winner(); !ok || w.ID != "Only" {
		t.Fatalf("Winner() = %v, %v", w, ok)
	}
}

func TestVoteOrderDoesNotMatter(t *testing.T) {
	o := opts("A", "B", "C", "D")
	v := votes("B", "C", "A", "C", "B", "D", "A")
	want := Compute(o, v)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		shuffled := append([]domain.Vote(nil), v...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		if diff := cmp.Diff(want, Compute(o, shuffled)); diff != "" {
			t.Fatalf("shuffle %d changed result (-want +got):\n%s", i, diff)
		}
	}
	// A, B, C tie at 2; original option order survives the sort
	order := []string{want.Standings[0].Option.ID, want.Standings[1].Option.ID, want.Standings[2].Option.ID, want.Standings[3].Option.ID}
	if diff := cmp.Diff([]string{"A", "B", "C", "D"}, order); diff != "" {
		t.Fatalf("standings mismatch (-want +got):\n%s", diff)
	}
}

func TestComputeIsIdempotent(t *testing.T) {
	o := opts("X", "Y", "Z")
	v := votes("Z", "Y", "Z")
	first := Compute(o, v)
	second := Compute(o, v)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("results differ (-first +second):\n%s", diff)
	}
}

func TestUnknownOptionVotesAreIgnored(t *testing.T) {
	r := Compute(opts("A"), votes("A", "ghost"))
	if r.Counts["A"] != 1 || r.TotalVotes != 1 || r.Ignored != 1 {
		t.Fatalf("unexpected result: %+v", r)
	}
	if _, ok := r.Counts["ghost"]; ok {
		t.Fatalf("unknown option must not be counted")
	}
}

func TestFromSnapshot(t *testing.T) {
	snap := &domain.RoomSnapshot{Options: opts("A", "B"), Votes: votes("B")}
	r := FromSnapshot(snap)
	if !r.IsWinner("B") || r.IsWinner("A") {
		t.Fatalf("unexpected winners: %v", winnerTexts(r))
	}
	if empty := FromSnapshot(nil); len(empty.Winners) != 0 || empty.IsTie() {
		t.Fatalf("nil snapshot should produce an empty result: %+v", empty)
	}
}
