package platform

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/NotiFansly/starboard/internal/apperr"
)

// Discord implements Client over a discordgo session, reading from the
// gateway state before falling back to REST.
type Discord struct {
	s *discordgo.Session
}

func NewDiscord(s *discordgo.Session) *Discord {
	return &Discord{s: s}
}

func (d *Discord) Message(ctx context.Context, channelID, messageID string) (*discordgo.Message, error) {
	if m, err := d.s.State.Message(channelID, messageID); err == nil {
		return m, nil
	}
	m, err := d.s.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	return m, Translate("fetch message", err)
}

func (d *Discord) Channel(ctx context.Context, channelID string) (*discordgo.Channel, error) {
	if c, err := d.s.State.Channel(channelID); err == nil {
		return c, nil
	}
	c, err := d.s.Channel(channelID, discordgo.WithContext(ctx))
	return c, Translate("fetch channel", err)
}

func (d *Discord) Member(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	if m, err := d.s.State.Member(guildID, userID); err == nil {
		return m, nil
	}
	m, err := d.s.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	return m, Translate("fetch member", err)
}

func (d *Discord) GuildRoles(ctx context.Context, guildID string) ([]*discordgo.Role, error) {
	if g, err := d.s.State.Guild(guildID); err == nil && len(g.Roles) > 0 {
		return g.Roles, nil
	}
	roles, err := d.s.GuildRoles(guildID, discordgo.WithContext(ctx))
	return roles, Translate("fetch roles", err)
}

func (d *Discord) MemberPermissions(ctx context.Context, guildID, channelID, userID string) (int64, error) {
	perms, err := d.s.UserChannelPermissions(userID, channelID, discordgo.WithContext(ctx))
	return perms, Translate("permissions", err)
}

func (d *Discord) SendMessage(ctx context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error) {
	m, err := d.s.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx))
	return m, Translate("send message", err)
}

func (d *Discord) EditMessage(ctx context.Context, channelID, messageID, content string, embed *discordgo.MessageEmbed) error {
	edit := discordgo.NewMessageEdit(channelID, messageID).SetContent(content)
	if embed != nil {
		edit.SetEmbed(embed)
	}
	_, err := d.s.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	return Translate("edit message", err)
}

func (d *Discord) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return Translate("delete message", d.s.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)))
}

func (d *Discord) SendDM(ctx context.Context, userID string, msg *discordgo.MessageSend) error {
	ch, err := d.s.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return Translate("open dm", err)
	}
	_, err = d.s.ChannelMessageSendComplex(ch.ID, msg, discordgo.WithContext(ctx))
	return Translate("send dm", err)
}

func (d *Discord) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	return Translate("add reaction", d.s.MessageReactionAdd(channelID, messageID, APIEmoji(emoji), discordgo.WithContext(ctx)))
}

func (d *Discord) RemoveReaction(ctx context.Context, channelID, messageID, emoji, userID string) error {
	return Translate("remove reaction", d.s.MessageReactionRemove(channelID, messageID, APIEmoji(emoji), userID, discordgo.WithContext(ctx)))
}

// ReactionUsers pages through every user who reacted with emoji.
func (d *Discord) ReactionUsers(ctx context.Context, channelID, messageID, emoji string) ([]*discordgo.User, error) {
	var all []*discordgo.User
	after := ""
	for {
		page, err := d.s.MessageReactions(channelID, messageID, APIEmoji(emoji), 100, "", after, discordgo.WithContext(ctx))
		if err != nil {
			return nil, Translate("reaction users", err)
		}
		all = append(all, page...)
		if len(page) < 100 {
			return all, nil
		}
		after = page[len(page)-1].ID
	}
}

func (d *Discord) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	return Translate("add role", d.s.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx)))
}

func (d *Discord) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	return Translate("remove role", d.s.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx)))
}

// Translate classifies discordgo failures.
func Translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		switch code := rest.Response.StatusCode; {
		case code == http.StatusNotFound:
			return apperr.Wrap(apperr.NotFound, op, err)
		case code == http.StatusForbidden:
			return apperr.Wrap(apperr.PermissionDenied, op, err)
		case code == http.StatusTooManyRequests || code >= 500:
			return apperr.Wrap(apperr.TransientInfra, op, err)
		}
		return apperr.Wrap(apperr.Input, op, err)
	}
	if errors.Is(err, discordgo.ErrStateNotFound) {
		return apperr.Wrap(apperr.NotFound, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.TransientInfra, op, err)
	}
	return apperr.Wrap(apperr.KindUnknown, op, err)
}
