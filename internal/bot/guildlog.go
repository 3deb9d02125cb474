package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/NotiFansly/starboard/internal/ctxzap"
	"github.com/NotiFansly/starboard/internal/database"
	"github.com/NotiFansly/starboard/internal/embed"
	"github.com/NotiFansly/starboard/internal/intake"
	"github.com/NotiFansly/starboard/internal/platform"
)

// GuildLog posts notices to the log channel a guild configured. Guilds
// without one only get the process log.
type GuildLog struct {
	store      *database.Store
	client     platform.Client
	themeColor int
	errorColor int
}

func NewGuildLog(store *database.Store, client platform.Client, themeColor, errorColor int) *GuildLog {
	return &GuildLog{store: store, client: client, themeColor: themeColor, errorColor: errorColor}
}

func (g *GuildLog) GuildLog(ctx context.Context, guildID, level, msg string) {
	log := ctxzap.Extract(ctx).With("guild_id", guildID, "level", level)
	log.Infow("guild log", "message", msg)

	guild, err := g.store.Guilds.Get(ctx, guildID)
	if err != nil || guild == nil || guild.LogChannelID == nil || *guild.LogChannelID == "" {
		return
	}

	eb := embed.NewBuilder().Description(embed.Truncate(msg, embed.MaxDescription)).Timestamp(time.Now())
	if level == "error" {
		eb.Title("Error").Color(g.errorColor)
	} else {
		eb.Color(g.themeColor)
	}
	_, err = g.client.SendMessage(ctx, *guild.LogChannelID, &discordgo.MessageSend{
		Embed:           eb.Finalize(),
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	})
	if err != nil {
		log.Debugw("guild log not delivered", "channel_id", *guild.LogChannelID, "error", err)
	}
}

// ReportFatal is the intake fatal hook: the failure goes to the guild log.
func (g *GuildLog) ReportFatal(ctx context.Context, ev intake.Event, err error) {
	if ev.GuildID == "" {
		return
	}
	g.GuildLog(ctx, ev.GuildID, "error", fmt.Sprintf("An error occurred while handling `%s`:\n```%v```", ev.Kind, err))
}
