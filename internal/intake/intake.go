// Package intake turns gateway events into normalized records and feeds
// them to a fixed pool of workers.
package intake

import (
	"github.com/bwmarrin/discordgo"

	"github.com/NotiFansly/starboard/internal/platform"
)

type Kind int

const (
	ReactionAdd Kind = iota + 1
	ReactionRemove
	MessageCreate
	MessageEdit
	MessageDelete
	ChannelDelete
	RoleDelete
	GuildDelete
)

func (k Kind) String() string {
	switch k {
	case ReactionAdd:
		return "reaction_add"
	case ReactionRemove:
		return "reaction_remove"
	case MessageCreate:
		return "message_create"
	case MessageEdit:
		return "message_edit"
	case MessageDelete:
		return "message_delete"
	case ChannelDelete:
		return "channel_delete"
	case RoleDelete:
		return "role_delete"
	case GuildDelete:
		return "guild_delete"
	default:
		return "unknown"
	}
}

// Event is one inbound gateway event. Fields not meaningful for Kind are empty.
type Event struct {
	Kind      Kind
	GuildID   string
	ChannelID string
	MessageID string
	UserID    string
	RoleID    string

	// Emoji is the stored emoji token of a reaction.
	Emoji     string
	UserIsBot bool
	// Member is the reacting member when the gateway supplied it.
	Member *discordgo.Member
	// Message is the posted or edited message.
	Message *discordgo.Message
	// Name is the deleted channel's name.
	Name string
}

func FromReactionAdd(r *discordgo.MessageReactionAdd) Event {
	ev := Event{
		Kind:      ReactionAdd,
		GuildID:   r.GuildID,
		ChannelID: r.ChannelID,
		MessageID: r.MessageID,
		UserID:    r.UserID,
		Emoji:     platform.EmojiToken(r.Emoji),
		Member:    r.Member,
	}
	if r.Member != nil && r.Member.User != nil {
		ev.UserIsBot = r.Member.User.Bot
	}
	return ev
}

func FromReactionRemove(r *discordgo.MessageReactionRemove) Event {
	return Event{
		Kind:      ReactionRemove,
		GuildID:   r.GuildID,
		ChannelID: r.ChannelID,
		MessageID: r.MessageID,
		UserID:    r.UserID,
		Emoji:     platform.EmojiToken(r.Emoji),
	}
}

func FromMessageCreate(m *discordgo.MessageCreate) Event {
	ev := Event{
		Kind:      MessageCreate,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		Message:   m.Message,
	}
	if m.Author != nil {
		ev.UserID = m.Author.ID
		ev.UserIsBot = m.Author.Bot
	}
	return ev
}

func FromMessageUpdate(m *discordgo.MessageUpdate) Event {
	ev := Event{
		Kind:      MessageEdit,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		Message:   m.Message,
	}
	if m.Author != nil {
		ev.UserID = m.Author.ID
		ev.UserIsBot = m.Author.Bot
	}
	return ev
}

func FromMessageDelete(m *discordgo.MessageDelete) Event {
	return Event{
		Kind:      MessageDelete,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
	}
}

func FromChannelDelete(c *discordgo.ChannelDelete) Event {
	return Event{
		Kind:      ChannelDelete,
		GuildID:   c.GuildID,
		ChannelID: c.ID,
		Name:      c.Name,
	}
}

func FromRoleDelete(r *discordgo.GuildRoleDelete) Event {
	return Event{
		Kind:    RoleDelete,
		GuildID: r.GuildID,
		RoleID:  r.RoleID,
	}
}

func FromGuildDelete(g *discordgo.GuildDelete) Event {
	return Event{
		Kind:    GuildDelete,
		GuildID: g.ID,
	}
}
