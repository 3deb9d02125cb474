// Package platform is the boundary to the chat platform. Components depend
// on Client; Discord implements it over discordgo and platformtest fakes it.
package platform

import (
	"context"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// Client is every chat platform read and write the core performs.
type Client interface {
	Message(ctx context.Context, channelID, messageID string) (*discordgo.Message, error)
	Channel(ctx context.Context, channelID string) (*discordgo.Channel, error)
	Member(ctx context.Context, guildID, userID string) (*discordgo.Member, error)
	GuildRoles(ctx context.Context, guildID string) ([]*discordgo.Role, error)
	MemberPermissions(ctx context.Context, guildID, channelID, userID string) (int64, error)

	SendMessage(ctx context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error)
	// EditMessage replaces the content. A nil embed leaves the embed untouched.
	EditMessage(ctx context.Context, channelID, messageID, content string, embed *discordgo.MessageEmbed) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	SendDM(ctx context.Context, userID string, msg *discordgo.MessageSend) error

	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
	RemoveReaction(ctx context.Context, channelID, messageID, emoji, userID string) error
	ReactionUsers(ctx context.Context, channelID, messageID, emoji string) ([]*discordgo.User, error)

	AddRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error
}

// EmojiToken is the stored form of a reaction emoji: the numeric id for
// custom emoji, the glyph otherwise.
func EmojiToken(e discordgo.Emoji) string {
	if e.ID != "" {
		return e.ID
	}
	return e.Name
}

// IsCustomEmoji reports whether token is a custom emoji id.
func IsCustomEmoji(token string) bool {
	if token == "" {
		return false
	}
	for _, r := range token {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// APIEmoji converts a stored token to the form the reaction endpoints take.
func APIEmoji(token string) string {
	if IsCustomEmoji(token) {
		return "_:" + token
	}
	return token
}

// DisplayEmoji renders a stored token inside message text.
func DisplayEmoji(token string) string {
	if IsCustomEmoji(token) {
		return "<:_:" + token + ">"
	}
	return token
}

// ParseEmoji accepts a glyph or a custom emoji mention and returns its token.
func ParseEmoji(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">") {
		parts := strings.Split(strings.Trim(s, "<>"), ":")
		return parts[len(parts)-1]
	}
	return s
}

// JumpURL links to a message.
func JumpURL(guildID, channelID, messageID string) string {
	return "https://discord.com/channels/" + guildID + "/" + channelID + "/" + messageID
}
