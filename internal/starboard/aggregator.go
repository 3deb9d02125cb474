package starboard

import (
	"github.com/NotiFansly/starboard/internal/models"
)

type Action int

const (
	ActionNone Action = iota
	ActionCreate
	ActionUpdate
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return "none"
	}
}

// Candidate is everything Decide needs about one message on one starboard.
type Candidate struct {
	Message   *models.Message
	Starboard *models.Starboard
	// Existing is the current mirror, nil when there is none.
	Existing *models.StarboardMessage
	Points   int

	AuthorIsBot bool
	// SourceGone is set when the platform reports the original as deleted.
	SourceGone bool
	// Eligible is false when a content rule (regex, exclude regex, images
	// only) or the author's on_starboard permission rejects the message.
	Eligible bool
	// Refresh forces an UPDATE to rewrite the mirror even if points did not change.
	Refresh bool
}

type Decision struct {
	Action  Action
	Points  int
	Trashed bool
	Refresh bool
}

// CountPoints counts the distinct voters that used one of the starboard's
// star emojis. The author only counts on self-star starboards.
func CountPoints(voters []models.Voter, authorID string, sb *models.Starboard) int {
	seen := make(map[string]struct{}, len(voters))
	for _, v := range voters {
		if !sb.IsStarEmoji(v.Emoji) {
			continue
		}
		if v.UserID == authorID && !sb.SelfStar {
			continue
		}
		seen[v.UserID] = struct{}{}
	}
	return len(seen)
}

// Decide picks what should happen to the mirror of c.Message on c.Starboard.
func Decide(c Candidate) Decision {
	d := Decision{Points: c.Points, Refresh: c.Refresh}
	exists := c.Existing != nil
	sb := c.Starboard

	whenExists := func(a Action) Decision {
		if exists {
			d.Action = a
		}
		return d
	}

	if c.SourceGone && sb.LinkDeletes {
		return whenExists(ActionDelete)
	}

	switch {
	case c.Message.Trashed:
		d.Trashed = true
		d.Refresh = false
		return whenExists(ActionUpdate)
	case c.Message.Frozen:
		return d
	}

	if !sb.AllowsChannel(c.Message.ChannelID) || (c.AuthorIsBot && !sb.AllowBots) || !c.Eligible {
		return whenExists(ActionDelete)
	}

	upsert := func() Decision {
		if exists {
			d.Action = ActionUpdate
		} else if !c.SourceGone {
			d.Action = ActionCreate
		}
		return d
	}

	switch {
	case c.Message.IsForced(sb.ID):
		return upsert()
	case c.Points >= sb.Required:
		return upsert()
	case c.Points <= sb.RequiredRemove:
		return whenExists(ActionDelete)
	default:
		return whenExists(ActionUpdate)
	}
}

// NeedsWrite reports whether an UPDATE would change the visible mirror.
func NeedsWrite(d Decision, existing *models.StarboardMessage) bool {
	if existing == nil {
		return true
	}
	return d.Refresh || existing.Points != d.Points || existing.Trashed != d.Trashed
}
