package roster

import (
	"fmt"
	"math/rand"
	"reflect"
	"testing"

	"elsa-quiz-live/internal/domain"
)

func TestApplyRosterIsLastWriteWins(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		var p Projection
		var last []domain.Participant
		pushes := 1 + rnd.Intn(8)
		for i := 0; i < pushes; i++ {
			last = randomRoster(rnd)
			p, _ = p.ApplyRoster(last)
		}
		if !reflect.DeepEqual(p.Roster(), last) {
			t.Fatalf("round %d: expected roster %+v, got %+v", round, last, p.Roster())
		}
		if p.Updates() != pushes {
			t.Fatalf("round %d: expected %d updates, got %d", round, pushes, p.Updates())
		}
	}
}

func TestApplyRosterDropsMembersMissingFromPush(t *testing.T) {
	var p Projection
	p, _ = p.ApplyRoster([]domain.Participant{{ID: "a"}, {ID: "b"}, {ID: "c"}})
	p, _ = p.ApplyRoster([]domain.Participant{{ID: "c"}})
	if p.Size() != 1 || p.Roster()[0].ID != "c" {
		t.Fatalf("expected only c to remain, got %+v", p.Roster())
	}
}

func TestProjectionDoesNotAliasPushedSlice(t *testing.T) {
	entries := []domain.Participant{{ID: "a", Score: 10}}
	var p Projection
	p, _ = p.ApplyProgress(entries)
	entries[0].Score = 999

	if got := p.Progress()[0].Score; got != 10 {
		t.Fatalf("expected projection to keep its own copy, got score %d", got)
	}
}

func TestAnsweredFlagsComeOnlyFromProgressPushes(t *testing.T) {
	var p Projection
	p, _ = p.ApplyRoster([]domain.Participant{{ID: "a"}, {ID: "b"}})
	if p.HasAnswered("a") {
		t.Fatalf("roster pushes must not mark answers")
	}
	p, _ = p.ApplyProgress([]domain.Participant{{ID: "a", Answered: true}, {ID: "b"}})
	if !p.HasAnswered("a") || p.HasAnswered("b") {
		t.Fatalf("unexpected answered flags %+v", p.Progress())
	}
	if p.AnsweredCount() != 1 {
		t.Fatalf("expected 1 answered, got %d", p.AnsweredCount())
	}
}

func TestScoreRegressionIsReported(t *testing.T) {
	var p Projection
	p, _ = p.ApplyProgress([]domain.Participant{{ID: "a", Score: 700}, {ID: "b", Score: 300}})
	p, regressions := p.ApplyProgress([]domain.Participant{{ID: "a", Score: 500}, {ID: "b", Score: 900}})

	if len(regressions) != 1 {
		t.Fatalf("expected one regression, got %+v", regressions)
	}
	if regressions[0] != (Regression{ParticipantID: "a", Previous: 700, Current: 500}) {
		t.Fatalf("unexpected regression %+v", regressions[0])
	}
	if p.Progress()[0].Score != 500 {
		t.Fatalf("server value must still win, got %d", p.Progress()[0].Score)
	}
}

func TestTrackScalesWithLeader(t *testing.T) {
	var p Projection
	p, _ = p.ApplyProgress([]domain.Participant{{ID: "a", Score: 500}, {ID: "b", Score: 0}})
	track := p.Track()
	if track[0].Percent != 47.5 || track[1].Percent != 0 {
		t.Fatalf("unexpected positions below scale %+v", track)
	}

	p, _ = p.ApplyProgress([]domain.Participant{{ID: "a", Score: 2000}, {ID: "b", Score: 1000}})
	track = p.Track()
	if track[0].Percent != 95 || track[1].Percent != 47.5 {
		t.Fatalf("unexpected positions above scale %+v", track)
	}
}

func randomRoster(rnd *rand.Rand) []domain.Participant {
	n := rnd.Intn(6)
	out := make([]domain.Participant, 0, n)
	for i := 0; i < n; i++ {
		status := domain.StatusOnline
		if rnd.Intn(3) == 0 {
			status = domain.StatusOffline
		}
		out = append(out, domain.Participant{
			ID:          fmt.Sprintf("p%d", rnd.Intn(10)),
			DisplayName: fmt.Sprintf("player-%d", i),
			Status:      status,
			Score:       rnd.Intn(3000),
		})
	}
	return out
}
