// Package starboard decides which messages are mirrored on which starboards
// and keeps the mirrors in step with votes, edits and deletes.
package starboard

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/NotiFansly/starboard/internal/apperr"
	"github.com/NotiFansly/starboard/internal/ctxzap"
	"github.com/NotiFansly/starboard/internal/database"
	"github.com/NotiFansly/starboard/internal/intake"
	"github.com/NotiFansly/starboard/internal/keylock"
	"github.com/NotiFansly/starboard/internal/models"
	"github.com/NotiFansly/starboard/internal/permissions"
	"github.com/NotiFansly/starboard/internal/platform"
	"github.com/NotiFansly/starboard/internal/textmatch"
)

const reconcileTimeout = 30 * time.Second

var reconciles = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "starboard",
	Name:      "reconcile_decisions_total",
	Help:      "Decisions taken while reconciling, by action.",
}, []string{"action"})

func init() {
	prometheus.MustRegister(reconciles)
}

// Vote is a recorded change in one member's votes on another's message.
type Vote struct {
	GuildID    string
	ChannelID  string
	GiverID    string
	ReceiverID string
	Delta      int
	// XP is false when every starboard the emoji counts for has no_xp set.
	XP bool
}

type Options struct {
	Gifs         GifResolver
	ThemeColor   int
	GuildLog     GuildLogger
	RegexTimeout time.Duration
}

type Service struct {
	store    *database.Store
	client   platform.Client
	perms    *permissions.Engine
	mat      *Materializer
	composer *Composer
	locks    *keylock.KeyLock[string]
	guildLog GuildLogger

	queueMu sync.Mutex
	queued  map[string]*reconcileRequest
	regexTTL time.Duration
}

func New(store *database.Store, client platform.Client, opts Options) *Service {
	if opts.GuildLog == nil {
		opts.GuildLog = nopGuildLog{}
	}
	if opts.RegexTimeout <= 0 {
		opts.RegexTimeout = textmatch.DefaultTimeout
	}
	composer := NewComposer(client, opts.Gifs, opts.ThemeColor)
	return &Service{
		store:    store,
		client:   client,
		perms:    permissions.New(store),
		mat:      NewMaterializer(store, client, composer, opts.GuildLog),
		composer: composer,
		locks:    keylock.New[string](),
		queued:   map[string]*reconcileRequest{},
		guildLog: opts.GuildLog,
		regexTTL: opts.RegexTimeout,
	}
}

// Composer exposes the embed composer used for mirrors.
func (s *Service) Composer() *Composer {
	return s.composer
}

// Reconcile recomputes, for every starboard of the guild, whether messageID
// should be mirrored and brings the mirror in line. Calls for one message
// are serialized; calls made while another is running merge into a single
// rerun by the running one.
func (s *Service) Reconcile(ctx context.Context, messageID, guildID string) error {
	return s.request(ctx, messageID, guildID, false)
}

// reconcileRequest is a reconcile waiting for its message's lock. Later
// requests for the same message merge into it.
type reconcileRequest struct {
	refresh bool
}

func (s *Service) request(ctx context.Context, messageID, guildID string, refresh bool) error {
	s.queueMu.Lock()
	if req, ok := s.queued[messageID]; ok {
		req.refresh = req.refresh || refresh
		s.queueMu.Unlock()
		return nil
	}
	req := &reconcileRequest{refresh: refresh}
	s.queued[messageID] = req
	s.queueMu.Unlock()

	return s.locked(ctx, messageID, func(ctx context.Context) error {
		s.queueMu.Lock()
		delete(s.queued, messageID)
		refresh := req.refresh
		s.queueMu.Unlock()
		return s.reconcile(ctx, messageID, guildID, refresh)
	})
}

func (s *Service) locked(ctx context.Context, key string, fn func(context.Context) error) error {
	var err error
	lerr := s.locks.Do(key, func() {
		// A parked call may outlive its caller's context.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reconcileTimeout)
		defer cancel()
		if e := fn(rctx); e != nil {
			ctxzap.Extract(ctx).Warnw("reconcile failed", "key", key, "error", e)
			err = e
		}
	})
	if errors.Is(lerr, keylock.ErrLocked) {
		return nil
	}
	return err
}

type snapshot struct {
	msg        *models.Message
	starboards []models.Starboard
	voters     []models.Voter
	mirrors    map[string]*models.StarboardMessage
	author     *models.User
}

func (s *Service) load(ctx context.Context, messageID, guildID string) (*snapshot, error) {
	snap := &snapshot{mirrors: map[string]*models.StarboardMessage{}}
	err := s.store.Tx(ctx, func(tx *database.Store) error {
		var err error
		if snap.msg, err = tx.Messages.Get(ctx, messageID); err != nil || snap.msg == nil {
			return err
		}
		if snap.starboards, err = tx.Starboards.ForGuild(ctx, guildID); err != nil {
			return err
		}
		if snap.voters, err = tx.Reactions.Voters(ctx, messageID); err != nil {
			return err
		}
		mirrors, err := tx.SBMessages.ForOrig(ctx, messageID)
		if err != nil {
			return err
		}
		for i := range mirrors {
			snap.mirrors[mirrors[i].StarboardID] = &mirrors[i]
		}
		snap.author, err = tx.Users.Get(ctx, snap.msg.AuthorID)
		return err
	})
	return snap, err
}

func (s *Service) reconcile(ctx context.Context, messageID, guildID string, refresh bool) error {
	snap, err := s.load(ctx, messageID, guildID)
	if err != nil {
		return err
	}
	msg := snap.msg
	if msg == nil {
		return apperr.Newf(apperr.NotFound, "message %s is not tracked", messageID)
	}
	if len(snap.starboards) == 0 {
		return nil
	}

	src, gone, err := s.source(ctx, msg)
	if err != nil {
		return err
	}
	authorRoles, err := s.memberRoles(ctx, guildID, msg.AuthorID, nil)
	if err != nil {
		return err
	}

	var errs []error
	best := 0
	for i := range snap.starboards {
		sb := &snap.starboards[i]
		points := CountPoints(snap.voters, msg.AuthorID, sb)
		best = max(best, points)

		eligible, err := s.eligible(ctx, msg, sb, src, authorRoles)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		d := Decide(Candidate{
			Message:     msg,
			Starboard:   sb,
			Existing:    snap.mirrors[sb.ID],
			Points:      points,
			AuthorIsBot: snap.author != nil && snap.author.IsBot,
			SourceGone:  gone,
			Eligible:    eligible,
			Refresh:     refresh && sb.LinkEdits,
		})
		reconciles.WithLabelValues(d.Action.String()).Inc()

		job := Job{Decision: d, Message: msg, Starboard: sb, Existing: snap.mirrors[sb.ID], Source: src}
		if err := s.mat.Apply(ctx, job); err != nil {
			errs = append(errs, fmt.Errorf("starboard %s: %w", sb.ID, err))
		}
	}

	if best != msg.Points {
		if _, err := s.store.Messages.Edit(ctx, msg.ID, database.MessageUpdate{Points: database.Some(best)}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// source fetches the original. gone is set when the platform no longer has it.
func (s *Service) source(ctx context.Context, msg *models.Message) (src *discordgo.Message, gone bool, err error) {
	src, err = s.client.Message(ctx, msg.ChannelID, msg.ID)
	switch {
	case apperr.IsNotFound(err):
		return nil, true, nil
	case apperr.IsForbidden(err):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	if src.GuildID == "" {
		src.GuildID = msg.GuildID
	}
	return src, false, nil
}

// memberRoles returns the member's role ids plus the guild id, which is the
// id of the implicit everyone role. known is used instead of a fetch when set.
func (s *Service) memberRoles(ctx context.Context, guildID, userID string, known *discordgo.Member) ([]string, error) {
	m := known
	if m == nil {
		var err error
		m, err = s.client.Member(ctx, guildID, userID)
		switch {
		case apperr.IsNotFound(err):
			return []string{guildID}, nil
		case err != nil:
			return nil, err
		}
	}
	roles := slices.Clone(m.Roles)
	if !slices.Contains(roles, guildID) {
		roles = append(roles, guildID)
	}
	return roles, nil
}

// eligible applies the starboard's content rules and the author's
// on_starboard permission. Content rules are skipped when the original
// cannot be read.
func (s *Service) eligible(ctx context.Context, msg *models.Message, sb *models.Starboard, src *discordgo.Message, authorRoles []string) (bool, error) {
	perms, err := s.perms.GetPerms(ctx, authorRoles, msg.GuildID, msg.ChannelID, sb.ID)
	if err != nil {
		return false, err
	}
	if !perms.OnStarboard {
		return false, nil
	}
	if src == nil {
		return true, nil
	}
	if sb.ImagesOnly && !HasImage(src) {
		return false, nil
	}
	if sb.Regex != "" {
		if !s.match(ctx, sb, sb.Regex, src.Content) {
			return false, nil
		}
	}
	if sb.ExcludeRegex != "" {
		if s.match(ctx, sb, sb.ExcludeRegex, src.Content) {
			return false, nil
		}
	}
	return true, nil
}

func (s *Service) match(ctx context.Context, sb *models.Starboard, pattern, text string) bool {
	res, err := textmatch.Match(pattern, text, s.regexTTL)
	if err != nil {
		// Stored patterns were validated on write; a bad one never matches.
		ctxzap.Extract(ctx).Warnw("invalid starboard regex", "starboard_id", sb.ID, "error", err)
		return false
	}
	if res.TimedOut {
		ctxzap.Extract(ctx).Warnw("starboard regex timed out", "starboard_id", sb.ID, "pattern", pattern)
		s.guildLog.GuildLog(ctx, sb.GuildID, "error", fmt.Sprintf(
			"The regex `%s` on <#%s> took too long to run, so I treated it as a match.", pattern, sb.ID))
	}
	return res.Matched
}

// HasImage reports whether msg carries at least one image.
func HasImage(msg *discordgo.Message) bool {
	for _, a := range msg.Attachments {
		if isImage(a.URL) || strings.HasPrefix(a.ContentType, "image/") {
			return true
		}
	}
	for _, e := range msg.Embeds {
		if e.Type == discordgo.EmbedTypeImage || e.Type == discordgo.EmbedTypeGifv || e.Image != nil {
			return true
		}
	}
	return false
}

// OrigMessage returns the original for id, following a mirror back to its
// original. It returns (nil, nil) when id is neither.
func (s *Service) OrigMessage(ctx context.Context, id string) (*models.Message, error) {
	sbm, err := s.store.SBMessages.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sbm != nil {
		id = sbm.OrigID
	}
	return s.store.Messages.Get(ctx, id)
}

// EnsureMessage returns the original for messageID, creating its row from
// the platform copy when it is not tracked yet.
func (s *Service) EnsureMessage(ctx context.Context, guildID, channelID, messageID string) (*models.Message, error) {
	orig, err := s.OrigMessage(ctx, messageID)
	if err != nil || orig != nil {
		return orig, err
	}

	src, err := s.client.Message(ctx, channelID, messageID)
	if err != nil {
		return nil, err
	}
	if src.Author == nil {
		return nil, apperr.Newf(apperr.NotFound, "message %s has no author", messageID)
	}
	nsfw := false
	if ch, err := s.client.Channel(ctx, channelID); err == nil {
		nsfw = ch.NSFW
	}

	var out *models.Message
	err = s.store.Tx(ctx, func(tx *database.Store) error {
		if _, err := tx.Users.Ensure(ctx, src.Author.ID, src.Author.Bot); err != nil {
			return err
		}
		if _, err := tx.Members.Ensure(ctx, src.Author.ID, guildID); err != nil {
			return err
		}
		var err error
		out, err = tx.Messages.Ensure(ctx, &models.Message{
			ID:        messageID,
			GuildID:   guildID,
			ChannelID: channelID,
			AuthorID:  src.Author.ID,
			IsNSFW:    nsfw,
		})
		return err
	})
	return out, err
}

// starEmojiBoards returns the starboards of the guild that count emoji.
func (s *Service) starEmojiBoards(ctx context.Context, guildID, emoji string) ([]models.Starboard, error) {
	all, err := s.store.Starboards.ForGuild(ctx, guildID)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(slices.Clone(all), func(sb models.Starboard) bool {
		return !sb.IsStarEmoji(emoji)
	}), nil
}

// IsStarEmoji reports whether emoji is a star emoji of any starboard in the guild.
func (s *Service) IsStarEmoji(ctx context.Context, guildID, emoji string) (bool, error) {
	boards, err := s.starEmojiBoards(ctx, guildID, emoji)
	return len(boards) > 0, err
}

// HandleReactionAdd records a vote and reconciles the voted message. A vote
// the member may not give is removed from the platform instead. The
// returned vote is nil when nothing was recorded.
func (s *Service) HandleReactionAdd(ctx context.Context, ev intake.Event) (*Vote, error) {
	if ev.GuildID == "" || ev.UserIsBot {
		return nil, nil
	}
	boards, err := s.starEmojiBoards(ctx, ev.GuildID, ev.Emoji)
	if err != nil || len(boards) == 0 {
		return nil, err
	}

	if _, err := s.store.Users.Ensure(ctx, ev.UserID, false); err != nil {
		return nil, err
	}
	if _, err := s.store.Members.Ensure(ctx, ev.UserID, ev.GuildID); err != nil {
		return nil, err
	}

	orig, err := s.EnsureMessage(ctx, ev.GuildID, ev.ChannelID, ev.MessageID)
	switch {
	case apperr.IsNotFound(err), apperr.IsForbidden(err):
		return nil, nil
	case err != nil:
		return nil, err
	}

	valid, xp, err := s.canAdd(ctx, ev, orig, boards)
	if err != nil {
		return nil, err
	}
	if !valid {
		err := s.client.RemoveReaction(ctx, ev.ChannelID, ev.MessageID, platform.APIEmoji(ev.Emoji), ev.UserID)
		if err != nil && !apperr.IsForbidden(err) && !apperr.IsNotFound(err) {
			return nil, err
		}
		return nil, nil
	}

	added, err := s.store.Reactions.Add(ctx, orig.ID, ev.Emoji, ev.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.Reconcile(ctx, orig.ID, ev.GuildID); err != nil {
		return nil, err
	}
	if !added {
		return nil, nil
	}
	return &Vote{
		GuildID:    ev.GuildID,
		ChannelID:  orig.ChannelID,
		GiverID:    ev.UserID,
		ReceiverID: orig.AuthorID,
		Delta:      1,
		XP:         xp,
	}, nil
}

// canAdd reports whether the vote may stand: the message is neither frozen
// nor trashed, and for at least one starboard counting the emoji the giver
// may give stars and the author may receive them. xp is set when one of
// those starboards awards xp.
func (s *Service) canAdd(ctx context.Context, ev intake.Event, orig *models.Message, boards []models.Starboard) (valid, xp bool, err error) {
	if orig.Frozen || orig.Trashed {
		return false, false, nil
	}
	giverRoles, err := s.memberRoles(ctx, ev.GuildID, ev.UserID, ev.Member)
	if err != nil {
		return false, false, err
	}
	authorRoles, err := s.memberRoles(ctx, ev.GuildID, orig.AuthorID, nil)
	if err != nil {
		return false, false, err
	}
	for i := range boards {
		sb := &boards[i]
		giver, err := s.perms.GetPerms(ctx, giverRoles, ev.GuildID, orig.ChannelID, sb.ID)
		if err != nil {
			return false, false, err
		}
		author, err := s.perms.GetPerms(ctx, authorRoles, ev.GuildID, orig.ChannelID, sb.ID)
		if err != nil {
			return false, false, err
		}
		if giver.GiveStars && author.RecvStars {
			valid = true
			xp = xp || !sb.NoXP
		}
	}
	return valid, xp, nil
}

// HandleReactionRemove forgets a vote and reconciles the voted message.
func (s *Service) HandleReactionRemove(ctx context.Context, ev intake.Event) (*Vote, error) {
	if ev.GuildID == "" {
		return nil, nil
	}
	boards, err := s.starEmojiBoards(ctx, ev.GuildID, ev.Emoji)
	if err != nil || len(boards) == 0 {
		return nil, err
	}
	orig, err := s.OrigMessage(ctx, ev.MessageID)
	if err != nil || orig == nil {
		return nil, err
	}
	if orig.Frozen || orig.Trashed {
		return nil, nil
	}

	removed, err := s.store.Reactions.Remove(ctx, orig.ID, ev.Emoji, ev.UserID)
	if err != nil || !removed {
		return nil, err
	}
	if err := s.Reconcile(ctx, orig.ID, ev.GuildID); err != nil {
		return nil, err
	}
	xp := slices.ContainsFunc(boards, func(sb models.Starboard) bool { return !sb.NoXP })
	return &Vote{
		GuildID:    ev.GuildID,
		ChannelID:  orig.ChannelID,
		GiverID:    ev.UserID,
		ReceiverID: orig.AuthorID,
		Delta:      -1,
		XP:         xp,
	}, nil
}

// forgetter is implemented by clients that cache messages.
type forgetter interface {
	Forget(messageID string)
}

func (s *Service) forget(id string) {
	if f, ok := s.client.(forgetter); ok {
		f.Forget(id)
	}
}

// HandleMessageEdit refreshes the mirrors of an edited original.
func (s *Service) HandleMessageEdit(ctx context.Context, ev intake.Event) error {
	s.forget(ev.MessageID)
	msg, err := s.store.Messages.Get(ctx, ev.MessageID)
	if err != nil || msg == nil {
		return err
	}
	return s.request(ctx, msg.ID, msg.GuildID, true)
}

const autoTrashReason = "Starboard message was deleted, so I autotrashed it."

// HandleMessageDelete handles a deleted original or mirror. A deleted
// mirror is forgotten and its original trashed; a deleted original is
// reconciled so starboards with link_deletes drop their mirror.
func (s *Service) HandleMessageDelete(ctx context.Context, ev intake.Event) error {
	s.forget(ev.MessageID)
	sbm, err := s.store.SBMessages.Get(ctx, ev.MessageID)
	if err != nil {
		return err
	}
	if sbm != nil {
		return s.locked(ctx, sbm.OrigID, func(ctx context.Context) error {
			cur, err := s.store.SBMessages.Get(ctx, ev.MessageID)
			if err != nil || cur == nil {
				return err
			}
			if err := s.store.SBMessages.Delete(ctx, cur.ID); err != nil {
				return err
			}
			if err := s.setTrashed(ctx, cur.OrigID, true, autoTrashReason); err != nil {
				return err
			}
			return s.reconcile(ctx, cur.OrigID, ev.GuildID, false)
		})
	}

	msg, err := s.store.Messages.Get(ctx, ev.MessageID)
	if err != nil || msg == nil {
		return err
	}
	return s.Reconcile(ctx, msg.ID, msg.GuildID)
}

// HandleChannelDelete drops starboard and autostar configuration for a
// deleted channel.
func (s *Service) HandleChannelDelete(ctx context.Context, ev intake.Event) error {
	wasSB, wasASC, err := s.store.DeleteChannel(ctx, ev.GuildID, ev.ChannelID)
	if err != nil {
		return err
	}
	name := ev.Name
	if name == "" {
		name = ev.ChannelID
	}
	if wasSB {
		s.guildLog.GuildLog(ctx, ev.GuildID, "info", fmt.Sprintf("`%s` was deleted, so I removed that starboard.", name))
	}
	if wasASC {
		s.guildLog.GuildLog(ctx, ev.GuildID, "info", fmt.Sprintf("`%s` was deleted, so I removed that autostar channel.", name))
	}
	return nil
}
