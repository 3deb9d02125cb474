package starboard

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/NotiFansly/starboard/internal/apperr"
	"github.com/NotiFansly/starboard/internal/ctxzap"
	"github.com/NotiFansly/starboard/internal/database"
	"github.com/NotiFansly/starboard/internal/models"
	"github.com/NotiFansly/starboard/internal/platform"
)

// GuildLogger posts operator-facing notices to a guild's log channel.
type GuildLogger interface {
	GuildLog(ctx context.Context, guildID, level, msg string)
}

type nopGuildLog struct{}

func (nopGuildLog) GuildLog(context.Context, string, string, string) {}

var mirrorWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "starboard",
	Name:      "mirror_writes_total",
	Help:      "Platform writes made for starboard mirrors, by action.",
}, []string{"action"})

func init() {
	prometheus.MustRegister(mirrorWrites)
}

// Job is one decided action for one message on one starboard.
type Job struct {
	Decision  Decision
	Message   *models.Message
	Starboard *models.Starboard
	Existing  *models.StarboardMessage
	// Source is the original as fetched from the platform, nil if unavailable.
	Source *discordgo.Message
}

// Materializer applies decisions to the platform and records the result.
type Materializer struct {
	store    *database.Store
	client   platform.Client
	composer *Composer
	guildLog GuildLogger
}

func NewMaterializer(store *database.Store, client platform.Client, composer *Composer, guildLog GuildLogger) *Materializer {
	if guildLog == nil {
		guildLog = nopGuildLog{}
	}
	return &Materializer{store: store, client: client, composer: composer, guildLog: guildLog}
}

func (m *Materializer) Apply(ctx context.Context, j Job) error {
	switch j.Decision.Action {
	case ActionCreate:
		return m.create(ctx, j)
	case ActionUpdate:
		return m.update(ctx, j)
	case ActionDelete:
		return m.delete(ctx, j)
	}
	return nil
}

func (m *Materializer) create(ctx context.Context, j Job) error {
	if j.Source == nil {
		return nil
	}
	sb := j.Starboard
	send := &discordgo.MessageSend{
		Content:         Header(sb, j.Decision.Points, j.Message.ChannelID),
		Embeds:          []*discordgo.MessageEmbed{m.composer.Compose(ctx, j.Source, j.Message.IsNSFW, sb)},
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	if sb.Ping {
		send.Content += " <@" + j.Message.AuthorID + ">"
		send.AllowedMentions.Users = []string{j.Message.AuthorID}
	}

	sent, err := m.client.SendMessage(ctx, sb.ID, send)
	switch {
	case apperr.IsForbidden(err):
		m.guildLog.GuildLog(ctx, sb.GuildID, "error", fmt.Sprintf(
			"I tried to send a starboard message to <#%s>, but I'm missing the proper permissions. "+
				"Please make sure I have the `Send Messages` and `Embed Links` permissions.", sb.ID))
		return nil
	case apperr.IsNotFound(err):
		return nil
	case err != nil:
		return err
	}
	mirrorWrites.WithLabelValues("create").Inc()

	existed, err := m.store.SBMessages.Create(ctx, &models.StarboardMessage{
		ID:          sent.ID,
		OrigID:      j.Message.ID,
		StarboardID: sb.ID,
		Points:      j.Decision.Points,
	})
	if err != nil || existed {
		// Another reconcile already recorded a mirror for this pair.
		if derr := m.client.DeleteMessage(ctx, sb.ID, sent.ID); derr != nil && !apperr.IsNotFound(derr) {
			ctxzap.Extract(ctx).Warnw("failed to remove duplicate mirror", "message_id", sent.ID, "error", derr)
		}
		return err
	}

	if sb.Autoreact {
		m.autoreact(ctx, sb, sent.ID)
	}
	return nil
}

func (m *Materializer) autoreact(ctx context.Context, sb *models.Starboard, messageID string) {
	for _, e := range sb.StarEmojis {
		err := m.client.AddReaction(ctx, sb.ID, messageID, platform.APIEmoji(e))
		switch {
		case err == nil, apperr.IsNotFound(err):
		case apperr.IsForbidden(err):
			m.guildLog.GuildLog(ctx, sb.GuildID, "error", fmt.Sprintf(
				"I tried to autoreact to a message on <#%s>, but I'm missing the proper permissions. "+
					"If you don't want me to autoreact, turn the autoreact setting off for that starboard.", sb.ID))
			return
		default:
			ctxzap.Extract(ctx).Warnw("autoreact failed", "starboard_id", sb.ID, "emoji", e, "error", err)
		}
	}
}

func (m *Materializer) update(ctx context.Context, j Job) error {
	d, sb, ex := j.Decision, j.Starboard, j.Existing
	if ex == nil || !NeedsWrite(d, ex) {
		return nil
	}

	var body *discordgo.MessageEmbed
	switch {
	case d.Trashed:
		body = TrashedEmbed(j.Message.TrashReason)
	case j.Source != nil && (sb.LinkEdits || ex.Trashed):
		body = m.composer.Compose(ctx, j.Source, j.Message.IsNSFW, sb)
	}

	err := m.client.EditMessage(ctx, sb.ID, ex.ID, Header(sb, d.Points, j.Message.ChannelID), body)
	switch {
	case apperr.IsNotFound(err):
		// The mirror is gone; forget it rather than recreate it.
		return m.store.SBMessages.Delete(ctx, ex.ID)
	case apperr.IsForbidden(err):
		ctxzap.Extract(ctx).Debugw("not allowed to edit mirror", "message_id", ex.ID)
		return nil
	case err != nil:
		return err
	}
	mirrorWrites.WithLabelValues("update").Inc()
	return m.store.SBMessages.Update(ctx, ex.ID, d.Points, d.Trashed)
}

func (m *Materializer) delete(ctx context.Context, j Job) error {
	ex := j.Existing
	if ex == nil {
		return nil
	}
	err := m.client.DeleteMessage(ctx, j.Starboard.ID, ex.ID)
	switch {
	case err == nil:
		mirrorWrites.WithLabelValues("delete").Inc()
	case apperr.IsNotFound(err):
	case apperr.IsForbidden(err):
		m.guildLog.GuildLog(ctx, j.Starboard.GuildID, "error", fmt.Sprintf(
			"I tried to remove a message from <#%s>, but I'm missing the proper permissions.", j.Starboard.ID))
		return nil
	default:
		return err
	}
	return m.store.SBMessages.Delete(ctx, ex.ID)
}
