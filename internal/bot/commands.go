package bot

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/NotiFansly/starboard/internal/apperr"
	"github.com/NotiFansly/starboard/internal/ctxzap"
	"github.com/NotiFansly/starboard/internal/starboard"
)

var (
	messageLinkRegex = regexp.MustCompile(`channels/(?:\d+|@me)/(\d+)/(\d+)`)
	idPairRegex      = regexp.MustCompile(`^(\d+)-(\d+)$`)
	snowflakeRegex   = regexp.MustCompile(`^\d+$`)
)

var manageMessages int64 = discordgo.PermissionManageMessages

func messageOption(desc string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "message",
		Description: desc,
		Required:    true,
	}
}

func commandDefinitions() []*discordgo.ApplicationCommand {
	cmd := func(name, desc string, extra ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommand {
		return &discordgo.ApplicationCommand{
			Name:                     name,
			Description:              desc,
			DefaultMemberPermissions: &manageMessages,
			Options:                  append([]*discordgo.ApplicationCommandOption{messageOption("Link or ID of the message")}, extra...),
		}
	}
	return []*discordgo.ApplicationCommand{
		cmd("force", "Force a message onto every starboard"),
		cmd("unforce", "Stop forcing a message onto the starboards"),
		cmd("trash", "Hide a message on every starboard", &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "reason",
			Description: "Why the message was trashed",
			Required:    false,
		}),
		cmd("untrash", "Show a trashed message again"),
		cmd("freeze", "Stop updating the starboard copies of a message"),
		cmd("unfreeze", "Resume updating the starboard copies of a message"),
		cmd("recount", "Recount the stars on a message"),
	}
}

func (b *Bot) registerCommands(s *discordgo.Session) {
	_, err := s.ApplicationCommandBulkOverwrite(s.State.User.ID, "", commandDefinitions())
	if err != nil {
		b.log.Errorw("error registering commands", "error", err)
	}
}

// Commands runs the moderator slash commands against the starboard service.
type Commands struct {
	sb *starboard.Service
}

func NewCommands(sb *starboard.Service) *Commands {
	return &Commands{sb: sb}
}

// ParseMessageRef accepts a message link, a "channel-message" id pair or a
// bare message id, which is looked up in channelID.
func ParseMessageRef(ref, channelID string) (string, string, error) {
	ref = strings.TrimSpace(ref)
	if m := messageLinkRegex.FindStringSubmatch(ref); m != nil {
		return m[1], m[2], nil
	}
	if m := idPairRegex.FindStringSubmatch(ref); m != nil {
		return m[1], m[2], nil
	}
	if snowflakeRegex.MatchString(ref) {
		return channelID, ref, nil
	}
	return "", "", apperr.Newf(apperr.Input, "`%s` is not a message link or ID.", ref)
}

// Run executes the named command and returns the reply for the moderator.
// User mistakes come back as the reply, not as an error.
func (c *Commands) Run(ctx context.Context, guildID, channelID, name string, opts map[string]string) (string, error) {
	chID, msgID, err := ParseMessageRef(opts["message"], channelID)
	if err == nil {
		var reply string
		reply, err = c.run(ctx, guildID, chID, msgID, name, opts)
		if err == nil {
			return reply, nil
		}
	}

	switch apperr.KindOf(err) {
	case apperr.Input, apperr.ConfigurationViolation:
		var e *apperr.Error
		if errors.As(err, &e) && e.Msg != "" {
			return e.Msg, nil
		}
		return err.Error(), nil
	case apperr.NotFound:
		return "I couldn't find that message.", nil
	case apperr.PermissionDenied:
		return "I don't have permission to read that message.", nil
	}
	return "", err
}

func (c *Commands) run(ctx context.Context, guildID, channelID, messageID, name string, opts map[string]string) (string, error) {
	var err error
	switch name {
	case "force":
		_, err = c.sb.Force(ctx, guildID, channelID, messageID)
		return "Message forced to all starboards.", err
	case "unforce":
		_, err = c.sb.Unforce(ctx, guildID, channelID, messageID)
		return "Message unforced from all starboards.", err
	case "trash":
		_, err = c.sb.Trash(ctx, guildID, channelID, messageID, true, opts["reason"])
		return "Message trashed.", err
	case "untrash":
		_, err = c.sb.Trash(ctx, guildID, channelID, messageID, false, "")
		return "Message untrashed.", err
	case "freeze":
		_, err = c.sb.Freeze(ctx, guildID, channelID, messageID, true)
		return "Message frozen.", err
	case "unfreeze":
		_, err = c.sb.Freeze(ctx, guildID, channelID, messageID, false)
		return "Message unfrozen.", err
	case "recount":
		_, err = c.sb.Recount(ctx, guildID, channelID, messageID)
		return "Recounted stars on that message.", err
	}
	return "", apperr.Newf(apperr.Input, "Unknown command `%s`.", name)
}

func (b *Bot) interactionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if !b.isModerator(i) {
		b.respondToInteraction(s, i, "You need the Manage Messages permission to use this command.", true)
		return
	}

	data := i.ApplicationCommandData()
	opts := make(map[string]string, len(data.Options))
	for _, o := range data.Options {
		opts[o.Name] = o.StringValue()
	}

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		b.log.Warnw("error deferring interaction", "error", err)
		return
	}

	go func() {
		log := b.log.With("command", data.Name, "guild_id", i.GuildID)
		ctx := ctxzap.ToContext(b.ctx, log)
		reply, err := b.commands.Run(ctx, i.GuildID, i.ChannelID, data.Name, opts)
		if err != nil {
			log.Errorw("command failed", "error", err)
			reply = "Something went wrong while running that command."
		}
		b.editInteractionResponse(s, i, reply)
	}()
}

// isModerator reports whether the invoking member may manage messages.
func (b *Bot) isModerator(i *discordgo.InteractionCreate) bool {
	if i.GuildID == "" || i.Member == nil {
		return false
	}
	if b.cfg.IsOwner(i.Member.User.ID) {
		return true
	}
	const mod = discordgo.PermissionAdministrator | discordgo.PermissionManageGuild | discordgo.PermissionManageMessages
	return i.Member.Permissions&mod != 0
}

func (b *Bot) respondToInteraction(s *discordgo.Session, i *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
	if err != nil {
		b.log.Debugw("error responding to interaction", "error", err)
	}
}

func (b *Bot) editInteractionResponse(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	_, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &content,
	})
	if err != nil {
		b.log.Warnw("error editing interaction response", "error", err)
	}
}
