package cli

import (
	"fmt"
	"io"
	"strings"

	"elsa-quiz-live/internal/domain"
	"elsa-quiz-live/internal/session"
)

var optionLabels = [domain.OptionCount]string{"A", "B", "C", "D"}

// renderer prints what changed between consecutive session snapshots.
type renderer struct {
	out  io.Writer
	last session.State
	seen bool
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out}
}

func (r *renderer) render(s session.State) {
	prev := r.last
	r.last = s
	first := !r.seen
	r.seen = true

	if s.Connection != prev.Connection && !first {
		fmt.Fprintf(r.out, "connection: %s\n", s.Connection)
	}
	if s.LastError != nil && s.LastError != prev.LastError {
		fmt.Fprintf(r.out, "error: %v\n", s.LastError)
	}

	switch {
	case s.Phase != prev.Phase || first:
		r.enter(s)
	case s.Phase == domain.PhaseQuestionActive && s.Generation != prev.Generation:
		r.enter(s)
	default:
		r.update(prev, s)
	}
}

func (r *renderer) enter(s session.State) {
	switch s.Phase {
	case domain.PhaseLobby:
		fmt.Fprintf(r.out, "room %s (%s)\n", s.Session.RoomCode, s.Session.Role)
		r.roster(s)
		if s.Session.IsHost() {
			fmt.Fprintln(r.out, "type 'start' when everyone is in")
		}
	case domain.PhaseQuestionActive:
		q := s.Question
		fmt.Fprintf(r.out, "\nquestion %d/%d (%ds): %s\n", q.Ordinal, q.Total, q.TimeLimitSeconds, q.Text)
		for i, option := range q.Options {
			fmt.Fprintf(r.out, "  %s) %s\n", optionLabels[i], option)
		}
	case domain.PhaseReviewing:
		fmt.Fprintf(r.out, "answer: %s) %s\n", optionLabels[s.Reveal.CorrectIndex], s.Question.Options[s.Reveal.CorrectIndex])
		if !s.Session.IsHost() {
			switch {
			case s.Attempt == nil:
				fmt.Fprintln(r.out, "no answer given")
			case s.Correct():
				fmt.Fprintln(r.out, "correct!")
			default:
				fmt.Fprintln(r.out, "wrong")
			}
		}
		r.track(s)
	case domain.PhaseGameOver:
		r.final(s.Final)
		fmt.Fprintln(r.out, "type 'mail' to email the results, 'quit' to leave")
	case domain.PhaseTerminated:
		reason := s.EndReason
		if reason == "" {
			reason = "session ended"
		}
		fmt.Fprintf(r.out, "session over: %s\n", reason)
	}
}

func (r *renderer) update(prev, s session.State) {
	switch s.Phase {
	case domain.PhaseLobby:
		if s.Projection.Updates() != prev.Projection.Updates() {
			r.roster(s)
		}
	case domain.PhaseQuestionActive:
		if s.Accepted && !prev.Accepted {
			fmt.Fprintf(r.out, "answer %s locked in\n", optionLabels[s.Attempt.OptionIndex])
		}
		if s.Remaining != prev.Remaining && (s.Remaining <= 5 || s.Remaining%10 == 0) {
			fmt.Fprintf(r.out, "%ds left (%d/%d answered)\n", s.Remaining, s.Projection.AnsweredCount(), s.Projection.Size())
		}
	}
}

func (r *renderer) roster(s session.State) {
	names := make([]string, 0, s.Projection.Size())
	for _, p := range s.Projection.Roster() {
		names = append(names, p.DisplayName)
	}
	fmt.Fprintf(r.out, "players (%d): %s\n", len(names), strings.Join(names, ", "))
}

func (r *renderer) track(s session.State) {
	for _, pos := range s.Projection.Track() {
		width := int(pos.Percent / 5)
		fmt.Fprintf(r.out, "  %-12s |%s\n", pos.DisplayName, strings.Repeat("=", width))
	}
}

func (r *renderer) final(result *domain.FinalResult) {
	if result == nil {
		return
	}
	fmt.Fprintf(r.out, "\nwinner: %s with %d points\n", result.WinnerName, result.WinnerScore)
	for _, entry := range result.Leaderboard {
		fmt.Fprintf(r.out, "  %d. %-12s %d\n", entry.Rank, entry.DisplayName, entry.Score)
	}
}
