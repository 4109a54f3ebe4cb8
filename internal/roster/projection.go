// Package roster projects the room membership and live progress pushed by the
// coordination service. It never mutates entries on its own.
package roster

import (
	"slices"

	"elsa-quiz-live/internal/domain"
)

const (
	// trackScale is the minimum score that spans the full progress track.
	trackScale = 1000
	trackWidth = 95.0
	trackCap   = 98.0
)

// Regression records a participant whose pushed score went down.
type Regression struct {
	ParticipantID string
	Previous      int
	Current       int
}

// Projection is the latest server view of the room. The zero value is an
// empty projection. Values are copied on write so a Projection can be held in
// immutable state snapshots.
type Projection struct {
	roster   []domain.Participant
	progress []domain.Participant
	updates  int
}

// ApplyRoster replaces the roster wholesale with the pushed entries and
// returns any score regressions against the previous view.
func (p Projection) ApplyRoster(entries []domain.Participant) (Projection, []Regression) {
	regressions := regressionsBetween(scoreIndex(p.roster), entries)
	p.roster = slices.Clone(entries)
	p.updates++
	return p, regressions
}

// ApplyProgress replaces the live progress view wholesale.
func (p Projection) ApplyProgress(entries []domain.Participant) (Projection, []Regression) {
	regressions := regressionsBetween(scoreIndex(p.progress), entries)
	p.progress = slices.Clone(entries)
	p.updates++
	return p, regressions
}

// Roster returns the room members in join order.
func (p Projection) Roster() []domain.Participant {
	return slices.Clone(p.roster)
}

// Progress returns the latest progress push.
func (p Projection) Progress() []domain.Participant {
	return slices.Clone(p.progress)
}

// Updates counts the pushes applied so far.
func (p Projection) Updates() int {
	return p.updates
}

// Size is the number of participants in the room.
func (p Projection) Size() int {
	return len(p.roster)
}

// HasAnswered reports whether the server has echoed an answer from id.
func (p Projection) HasAnswered(id string) bool {
	for _, entry := range p.progress {
		if entry.ID == id {
			return entry.Answered
		}
	}
	return false
}

// AnsweredCount is the number of participants the server reports as answered.
func (p Projection) AnsweredCount() int {
	n := 0
	for _, entry := range p.progress {
		if entry.Answered {
			n++
		}
	}
	return n
}

// Position is one participant on the race track, as a percentage of width.
type Position struct {
	ParticipantID string
	DisplayName   string
	AvatarRef     string
	Percent       float64
}

// Track places each participant from the progress view on a race track. The
// scale grows with the leader once scores pass trackScale.
func (p Projection) Track() []Position {
	source := p.progress
	if len(source) == 0 {
		source = p.roster
	}
	scale := trackScale
	for _, entry := range source {
		scale = max(scale, entry.Score)
	}
	positions := make([]Position, 0, len(source))
	for _, entry := range source {
		percent := float64(entry.Score) / float64(scale) * trackWidth
		positions = append(positions, Position{
			ParticipantID: entry.ID,
			DisplayName:   entry.DisplayName,
			AvatarRef:     entry.AvatarRef,
			Percent:       min(trackCap, max(0, percent)),
		})
	}
	return positions
}

func scoreIndex(entries []domain.Participant) map[string]int {
	scores := make(map[string]int, len(entries))
	for _, entry := range entries {
		scores[entry.ID] = entry.Score
	}
	return scores
}

func regressionsBetween(previous map[string]int, entries []domain.Participant) []Regression {
	var out []Regression
	for _, entry := range entries {
		if prev, ok := previous[entry.ID]; ok && entry.Score < prev {
			out = append(out, Regression{ParticipantID: entry.ID, Previous: prev, Current: entry.Score})
		}
	}
	return out
}
