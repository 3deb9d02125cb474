// Package autostar validates posts in autostar channels and seeds the ones
// that pass with the channel's emojis.
package autostar

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/NotiFansly/starboard/internal/apperr"
	"github.com/NotiFansly/starboard/internal/ctxzap"
	"github.com/NotiFansly/starboard/internal/database"
	"github.com/NotiFansly/starboard/internal/models"
	"github.com/NotiFansly/starboard/internal/platform"
	"github.com/NotiFansly/starboard/internal/textmatch"
)

const (
	burst  = 3
	window = 10 * time.Second
)

var rejections = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "starboard",
	Name:      "autostar_rejections_total",
	Help:      "Autostar posts that failed validation, by rule.",
}, []string{"rule"})

func init() {
	prometheus.MustRegister(rejections)
}

type GuildLogger interface {
	GuildLog(ctx context.Context, guildID, level, msg string)
}

// Rule is a failed validator together with the text shown to the author.
type Rule struct {
	Name   string
	Reason string
}

type Handler struct {
	store    *database.Store
	client   platform.Client
	guildLog GuildLogger
	timeout  time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func New(store *database.Store, client platform.Client, guildLog GuildLogger, regexTimeout time.Duration) *Handler {
	if regexTimeout <= 0 {
		regexTimeout = textmatch.DefaultTimeout
	}
	return &Handler{
		store:    store,
		client:   client,
		guildLog: guildLog,
		timeout:  regexTimeout,
		limiters: map[string]*rate.Limiter{},
	}
}

// allow applies the per-channel cooldown.
func (h *Handler) allow(channelID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[channelID]
	if !ok {
		l = rate.NewLimiter(rate.Every(window/burst), burst)
		h.limiters[channelID] = l
	}
	return l.Allow()
}

// Forget drops the cooldown state of a deleted channel.
func (h *Handler) Forget(channelID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.limiters, channelID)
}

// HandleMessage processes a new post. Posts by bots, posts outside autostar
// channels and posts over the channel cooldown are ignored.
func (h *Handler) HandleMessage(ctx context.Context, msg *discordgo.Message) error {
	if msg == nil || msg.GuildID == "" || msg.Author == nil || msg.Author.Bot {
		return nil
	}
	asc, err := h.store.ASChannels.Get(ctx, msg.ChannelID)
	if err != nil || asc == nil {
		return err
	}
	if !h.allow(asc.ID) {
		ctxzap.Extract(ctx).Debugw("autostar cooldown", "channel_id", asc.ID)
		return nil
	}

	if failed := h.Validate(ctx, asc, msg); failed != nil {
		rejections.WithLabelValues(failed.Name).Inc()
		if asc.DeleteInvalid {
			return h.reject(ctx, asc, msg, failed)
		}
		return nil
	}
	h.seed(ctx, asc, msg)
	return nil
}

// Validate runs the channel's validators in order and returns the first
// that fails, or nil.
func (h *Handler) Validate(ctx context.Context, asc *models.AutoStarChannel, msg *discordgo.Message) *Rule {
	chars := utf8.RuneCountInString(msg.Content)
	switch {
	case asc.RequireImage && len(msg.Attachments) == 0:
		return &Rule{Name: "require_image", Reason: "Messages must have an image attached"}
	case chars < asc.MinChars:
		return &Rule{Name: "min_chars", Reason: fmt.Sprintf("Messages must be at least %d characters", asc.MinChars)}
	case asc.MaxChars != nil && chars > *asc.MaxChars:
		return &Rule{Name: "max_chars", Reason: fmt.Sprintf("Messages cannot be longer than %d characters", *asc.MaxChars)}
	}
	if asc.Regex != "" && !h.match(ctx, asc, asc.Regex, msg.Content) {
		return &Rule{Name: "regex", Reason: "Messages must match the pattern set for this channel"}
	}
	if asc.ExcludeRegex != "" && h.match(ctx, asc, asc.ExcludeRegex, msg.Content) {
		return &Rule{Name: "exclude_regex", Reason: "Messages cannot match the excluded pattern set for this channel"}
	}
	return nil
}

func (h *Handler) match(ctx context.Context, asc *models.AutoStarChannel, pattern, text string) bool {
	res, err := textmatch.Match(pattern, text, h.timeout)
	if err != nil {
		ctxzap.Extract(ctx).Warnw("invalid autostar regex", "channel_id", asc.ID, "error", err)
		return false
	}
	if res.TimedOut {
		ctxzap.Extract(ctx).Warnw("autostar regex timed out", "channel_id", asc.ID, "pattern", pattern)
		if h.guildLog != nil {
			h.guildLog.GuildLog(ctx, asc.GuildID, "error", fmt.Sprintf(
				"The regex `%s` on <#%s> took too long to run, so I treated it as a match.", pattern, asc.ID))
		}
	}
	return res.Matched
}

// seed reacts with every emoji, stopping quietly if reactions are forbidden.
func (h *Handler) seed(ctx context.Context, asc *models.AutoStarChannel, msg *discordgo.Message) {
	for _, e := range asc.Emojis {
		err := h.client.AddReaction(ctx, msg.ChannelID, msg.ID, platform.APIEmoji(e))
		switch {
		case err == nil:
		case apperr.IsForbidden(err), apperr.IsNotFound(err):
			return
		default:
			ctxzap.Extract(ctx).Warnw("autostar reaction failed", "channel_id", asc.ID, "emoji", e, "error", err)
		}
	}
}

func (h *Handler) reject(ctx context.Context, asc *models.AutoStarChannel, msg *discordgo.Message, failed *Rule) error {
	err := h.client.DeleteMessage(ctx, msg.ChannelID, msg.ID)
	switch {
	case apperr.IsForbidden(err):
		if h.guildLog != nil {
			h.guildLog.GuildLog(ctx, asc.GuildID, "error", fmt.Sprintf(
				"I tried to delete a message in <#%s> that did not meet the requirements, "+
					"but I'm missing the `Manage Messages` permission.", asc.ID))
		}
		return nil
	case apperr.IsNotFound(err):
		return nil
	case err != nil:
		return err
	}

	dm := &discordgo.MessageSend{Content: fmt.Sprintf(
		"Your message in <#%s> was deleted because it didn't meet the requirements:\n%s.", asc.ID, failed.Reason)}
	if err := h.client.SendDM(ctx, msg.Author.ID, dm); err != nil {
		// Closed DMs are common.
		ctxzap.Extract(ctx).Debugw("autostar dm failed", "user_id", msg.Author.ID, "error", err)
	}
	return nil
}
