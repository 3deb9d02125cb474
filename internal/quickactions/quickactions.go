// Package quickactions lets moderators manage a message by reacting to it
// with the emoji the guild bound to each action.
package quickactions

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/NotiFansly/starboard/internal/apperr"
	"github.com/NotiFansly/starboard/internal/ctxzap"
	"github.com/NotiFansly/starboard/internal/database"
	"github.com/NotiFansly/starboard/internal/intake"
	"github.com/NotiFansly/starboard/internal/models"
	"github.com/NotiFansly/starboard/internal/platform"
	"github.com/NotiFansly/starboard/internal/starboard"
)

const trashReason = "Used QuickActions to trash"

var used = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "starboard",
	Name:      "quick_actions_total",
	Help:      "Quick actions run, by action.",
}, []string{"action"})

func init() {
	prometheus.MustRegister(used)
}

type Handler struct {
	store  *database.Store
	client platform.Client
	sb     *starboard.Service
}

func New(store *database.Store, client platform.Client, sb *starboard.Service) *Handler {
	return &Handler{store: store, client: client, sb: sb}
}

// HandleReactionAdd runs the quick action bound to the reaction's emoji.
// The reaction is removed once the action ran. It reports whether the
// reaction was a quick action.
func (h *Handler) HandleReactionAdd(ctx context.Context, ev intake.Event) (bool, error) {
	if ev.GuildID == "" || ev.UserIsBot {
		return false, nil
	}
	guild, err := h.store.Guilds.Ensure(ctx, ev.GuildID)
	if err != nil || !guild.QAEnabled {
		return false, err
	}
	action, ok := guild.QuickActionFor(ev.Emoji)
	if !ok {
		return false, nil
	}
	// A star emoji is always a vote.
	if star, err := h.sb.IsStarEmoji(ctx, ev.GuildID, ev.Emoji); err != nil || star {
		return false, err
	}

	orig, err := h.sb.EnsureMessage(ctx, ev.GuildID, ev.ChannelID, ev.MessageID)
	switch {
	case apperr.IsNotFound(err), apperr.IsForbidden(err):
		return true, nil
	case err != nil:
		return true, err
	}

	mod, err := h.isModerator(ctx, ev)
	if err != nil {
		return true, err
	}
	done, err := h.run(ctx, action, orig, ev.UserID, mod)
	if err != nil || !done {
		return true, err
	}
	used.WithLabelValues(string(action)).Inc()

	err = h.client.RemoveReaction(ctx, ev.ChannelID, ev.MessageID, platform.APIEmoji(ev.Emoji), ev.UserID)
	if err != nil && !apperr.IsForbidden(err) && !apperr.IsNotFound(err) {
		return true, err
	}
	return true, nil
}

func (h *Handler) isModerator(ctx context.Context, ev intake.Event) (bool, error) {
	perms, err := h.client.MemberPermissions(ctx, ev.GuildID, ev.ChannelID, ev.UserID)
	if err != nil {
		return false, err
	}
	return perms&(discordgo.PermissionManageMessages|discordgo.PermissionAdministrator) != 0, nil
}

// run reports whether the action was carried out.
func (h *Handler) run(ctx context.Context, action models.QuickAction, orig *models.Message, userID string, mod bool) (bool, error) {
	if action == models.QAActionSave {
		return h.save(ctx, orig, userID, mod)
	}
	if !mod {
		return false, nil
	}

	var err error
	switch action {
	case models.QAActionForce:
		_, err = h.sb.Force(ctx, orig.GuildID, orig.ChannelID, orig.ID)
	case models.QAActionUnforce:
		_, err = h.sb.Unforce(ctx, orig.GuildID, orig.ChannelID, orig.ID)
	case models.QAActionFreeze:
		_, err = h.sb.Freeze(ctx, orig.GuildID, orig.ChannelID, orig.ID, !orig.Frozen)
	case models.QAActionTrash:
		_, err = h.sb.Trash(ctx, orig.GuildID, orig.ChannelID, orig.ID, !orig.Trashed, trashReason)
	case models.QAActionRecount:
		_, err = h.sb.Recount(ctx, orig.GuildID, orig.ChannelID, orig.ID)
	}
	return err == nil, err
}

// save sends the member a copy of the message. Trashed messages are only
// saved for moderators.
func (h *Handler) save(ctx context.Context, orig *models.Message, userID string, mod bool) (bool, error) {
	log := ctxzap.Extract(ctx)
	if orig.Trashed && !mod {
		err := h.client.SendDM(ctx, userID, &discordgo.MessageSend{Content: "You cannot save a trashed message."})
		if err != nil {
			log.Debugw("save refusal not delivered", "user_id", userID, "error", err)
		}
		return false, nil
	}

	src, err := h.client.Message(ctx, orig.ChannelID, orig.ID)
	switch {
	case apperr.IsNotFound(err), apperr.IsForbidden(err):
		return false, nil
	case err != nil:
		return false, err
	}
	e := h.sb.Composer().Compose(ctx, src, orig.IsNSFW, &models.Starboard{})
	if err := h.client.SendDM(ctx, userID, &discordgo.MessageSend{Embed: e}); err != nil {
		log.Debugw("saved message not delivered", "user_id", userID, "error", err)
	}
	return true, nil
}
