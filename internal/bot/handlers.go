package bot

import (
	"github.com/bwmarrin/discordgo"

	"github.com/NotiFansly/starboard/internal/intake"
)

func (b *Bot) registerHandlers(s *discordgo.Session) {
	s.AddHandler(b.ready)
	s.AddHandler(b.interactionCreate)
	s.AddHandler(b.guildCreate)
	s.AddHandler(b.guildDelete)
	s.AddHandler(b.messageReactionAdd)
	s.AddHandler(b.messageReactionRemove)
	s.AddHandler(b.messageCreate)
	s.AddHandler(b.messageUpdate)
	s.AddHandler(b.messageDelete)
	s.AddHandler(b.channelDelete)
	s.AddHandler(b.guildRoleDelete)
}

// submit hands ev to the worker pool. Gateway handlers never block on the
// event being processed.
func (b *Bot) submit(ev intake.Event) {
	if !b.pool.Submit(b.ctx, ev) {
		b.log.Debugw("event dropped during shutdown", "event", ev.Kind.String())
	}
}

func (b *Bot) ready(s *discordgo.Session, event *discordgo.Ready) {
	b.log.Infow("shard ready", "shard_id", s.ShardID, "guilds", len(event.Guilds))
	if s == b.sessions[0] {
		b.registerCommands(s)
	}
	b.updateBotStatus()
}

func (b *Bot) guildCreate(s *discordgo.Session, event *discordgo.GuildCreate) {
	b.log.Debugw("guild available", "guild_id", event.ID, "name", event.Name)
	b.updateBotStatus()
}

func (b *Bot) guildDelete(s *discordgo.Session, event *discordgo.GuildDelete) {
	if event.Unavailable {
		b.log.Infow("guild became unavailable", "guild_id", event.ID)
		return
	}
	b.submit(intake.FromGuildDelete(event))
	b.updateBotStatus()
}

func (b *Bot) messageReactionAdd(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
	b.submit(intake.FromReactionAdd(r))
}

func (b *Bot) messageReactionRemove(_ *discordgo.Session, r *discordgo.MessageReactionRemove) {
	b.submit(intake.FromReactionRemove(r))
}

func (b *Bot) messageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.GuildID == "" {
		return
	}
	b.submit(intake.FromMessageCreate(m))
}

func (b *Bot) messageUpdate(_ *discordgo.Session, m *discordgo.MessageUpdate) {
	if m.GuildID == "" {
		return
	}
	b.submit(intake.FromMessageUpdate(m))
}

func (b *Bot) messageDelete(_ *discordgo.Session, m *discordgo.MessageDelete) {
	b.submit(intake.FromMessageDelete(m))
}

func (b *Bot) channelDelete(_ *discordgo.Session, c *discordgo.ChannelDelete) {
	b.submit(intake.FromChannelDelete(c))
}

func (b *Bot) guildRoleDelete(_ *discordgo.Session, r *discordgo.GuildRoleDelete) {
	b.submit(intake.FromRoleDelete(r))
}
