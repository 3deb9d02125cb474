package starboard

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/NotiFansly/starboard/internal/models"
)

func voters(emoji string, users ...string) []models.Voter {
	out := make([]models.Voter, 0, len(users))
	for _, u := range users {
		out = append(out, models.Voter{Emoji: emoji, UserID: u})
	}
	return out
}

func TestCountPoints(t *testing.T) {
	sb := models.NewStarboard("S", "G")
	sb.StarEmojis = []string{"⭐", "123"}

	vs := append(voters("⭐", "u1", "u2", "A"), voters("123", "u1", "u3")...)
	vs = append(vs, voters("🔥", "u4")...)

	assert.Equal(t, 3, CountPoints(vs, "A", sb), "author excluded, u1 counted once, other emoji ignored")

	sb.SelfStar = true
	assert.Equal(t, 4, CountPoints(vs, "A", sb))
	assert.Equal(t, 0, CountPoints(nil, "A", sb))
}

func TestDecide(t *testing.T) {
	mirror := &models.StarboardMessage{ID: "m", OrigID: "M", StarboardID: "S", Points: 3}

	tests := []struct {
		name     string
		edit     func(c *Candidate)
		existing *models.StarboardMessage
		points   int
		want     Action
		trashed  bool
	}{
		{name: "below threshold without mirror", points: 2, want: ActionNone},
		{name: "reaches threshold", points: 3, want: ActionCreate},
		{name: "above threshold with mirror", points: 5, existing: mirror, want: ActionUpdate},
		{name: "between thresholds with mirror", points: 1, existing: mirror, want: ActionUpdate},
		{name: "at required_remove", points: 0, existing: mirror, want: ActionDelete},
		{name: "at required_remove without mirror", points: 0, want: ActionNone},
		{
			name:   "forced below threshold",
			points: 0,
			edit:   func(c *Candidate) { c.Message.Forced = []string{"S"} },
			want:   ActionCreate,
		},
		{
			name:     "frozen never writes",
			points:   10,
			existing: mirror,
			edit:     func(c *Candidate) { c.Message.Frozen = true },
			want:     ActionNone,
		},
		{
			name:     "trashed with mirror",
			points:   10,
			existing: mirror,
			edit:     func(c *Candidate) { c.Message.Trashed = true },
			want:     ActionUpdate,
			trashed:  true,
		},
		{
			name:    "trashed never creates",
			points:  10,
			edit:    func(c *Candidate) { c.Message.Trashed = true },
			want:    ActionNone,
			trashed: true,
		},
		{
			name:     "blacklisted channel",
			points:   10,
			existing: mirror,
			edit:     func(c *Candidate) { c.Starboard.ChannelBL = []string{"C"} },
			want:     ActionDelete,
		},
		{
			name:   "whitelist wins over forced",
			points: 10,
			edit: func(c *Candidate) {
				c.Starboard.ChannelWL = []string{"other"}
				c.Message.Forced = []string{"S"}
			},
			want: ActionNone,
		},
		{
			name:   "bot author on a starboard without bots",
			points: 10,
			edit: func(c *Candidate) {
				c.AuthorIsBot = true
				c.Starboard.AllowBots = false
			},
			want: ActionNone,
		},
		{
			name:     "ineligible content",
			points:   10,
			existing: mirror,
			edit:     func(c *Candidate) { c.Eligible = false },
			want:     ActionDelete,
		},
		{
			name:     "source deleted with link_deletes",
			points:   10,
			existing: mirror,
			edit: func(c *Candidate) {
				c.SourceGone = true
				c.Starboard.LinkDeletes = true
			},
			want: ActionDelete,
		},
		{
			name:   "source deleted cannot be created",
			points: 10,
			edit:   func(c *Candidate) { c.SourceGone = true },
			want:   ActionNone,
		},
		{
			name:   "required_remove -1 never deletes",
			points: 0,
			edit: func(c *Candidate) {
				c.Starboard.RequiredRemove = -1
			},
			existing: mirror,
			want:     ActionUpdate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Candidate{
				Message:   &models.Message{ID: "M", ChannelID: "C", AuthorID: "A"},
				Starboard: models.NewStarboard("S", "G"),
				Existing:  tt.existing,
				Points:    tt.points,
				Eligible:  true,
			}
			if tt.edit != nil {
				tt.edit(&c)
			}
			d := Decide(c)
			assert.Equal(t, tt.want, d.Action)
			assert.Equal(t, tt.points, d.Points)
			assert.Equal(t, tt.trashed, d.Trashed)
		})
	}
}

func TestDecideThresholdEdges(t *testing.T) {
	// required = required_remove + 1 leaves no dead band.
	sb := models.NewStarboard("S", "G")
	sb.Required, sb.RequiredRemove = 4, 3
	mirror := &models.StarboardMessage{ID: "m"}
	msg := &models.Message{ID: "M", ChannelID: "C"}

	at := func(points int, existing *models.StarboardMessage) Action {
		return Decide(Candidate{Message: msg, Starboard: sb, Existing: existing, Points: points, Eligible: true}).Action
	}
	assert.Equal(t, ActionCreate, at(4, nil))
	assert.Equal(t, ActionNone, at(3, nil))
	assert.Equal(t, ActionUpdate, at(4, mirror))
	assert.Equal(t, ActionDelete, at(3, mirror))
}

func TestNeedsWrite(t *testing.T) {
	ex := &models.StarboardMessage{Points: 3}
	assert.False(t, NeedsWrite(Decision{Points: 3}, ex))
	assert.True(t, NeedsWrite(Decision{Points: 4}, ex))
	assert.True(t, NeedsWrite(Decision{Points: 3, Refresh: true}, ex))
	assert.True(t, NeedsWrite(Decision{Points: 3, Trashed: true}, ex))
	assert.True(t, NeedsWrite(Decision{Points: 3}, nil))
}
