// Package leveling turns recorded votes into star counts, xp and levels.
package leveling

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/NotiFansly/starboard/internal/apperr"
	"github.com/NotiFansly/starboard/internal/ctxzap"
	"github.com/NotiFansly/starboard/internal/database"
	"github.com/NotiFansly/starboard/internal/permissions"
	"github.com/NotiFansly/starboard/internal/platform"
	"github.com/NotiFansly/starboard/internal/starboard"
)

// Queue receives members whose award roles may need to change.
type Queue interface {
	Enqueue(guildID, userID string)
}

type pair struct {
	guildID, giver, receiver string
}

// sweepEvery is how often Allow drops buckets that have refilled.
const sweepEvery = 10 * time.Minute

// Cooldown holds one token bucket per (giver, receiver) pair. The rate is
// read on every check so configuration changes apply to existing buckets.
// A full bucket behaves like a new one, so refilled buckets are dropped.
type Cooldown struct {
	mu        sync.Mutex
	buckets   map[pair]*rate.Limiter
	now       func() time.Time
	lastSweep time.Time
}

func NewCooldown() *Cooldown {
	return &Cooldown{buckets: map[pair]*rate.Limiter{}, now: time.Now}
}

func (c *Cooldown) sweep(now time.Time) {
	if now.Sub(c.lastSweep) < sweepEvery {
		return
	}
	c.lastSweep = now
	for k, b := range c.buckets {
		if b.TokensAt(now) >= float64(b.Burst()) {
			delete(c.buckets, k)
		}
	}
}

// Allow reports whether the pair may earn xp now under a limit of n per
// per seconds.
func (c *Cooldown) Allow(guildID, giver, receiver string, n, per int) bool {
	if n <= 0 {
		return false
	}
	limit := rate.Inf
	if per > 0 {
		limit = rate.Limit(float64(n) / float64(per))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.sweep(now)
	k := pair{guildID, giver, receiver}
	b, ok := c.buckets[k]
	if !ok {
		b = rate.NewLimiter(limit, n)
		c.buckets[k] = b
	}
	if b.Limit() != limit {
		b.SetLimitAt(now, limit)
	}
	if b.Burst() != n {
		b.SetBurstAt(now, n)
	}
	return b.AllowN(now, 1)
}

type Engine struct {
	store    *database.Store
	client   platform.Client
	perms    *permissions.Engine
	cooldown *Cooldown
	queues   []Queue
}

func New(store *database.Store, client platform.Client, queues ...Queue) *Engine {
	return &Engine{
		store:    store,
		client:   client,
		perms:    permissions.New(store),
		cooldown: NewCooldown(),
		queues:   queues,
	}
}

// HandleVote records a vote's star counts and, when the vote earns xp,
// moves the receiver's xp by the vote's delta. Level-ups are announced in
// the guild's level channel. The receiver is always queued for role
// reconciliation.
func (e *Engine) HandleVote(ctx context.Context, v starboard.Vote) error {
	if v.Delta == 0 || v.GiverID == v.ReceiverID {
		return nil
	}
	if err := e.store.Members.IncrementStars(ctx, v.GuildID, v.GiverID, v.ReceiverID, v.Delta); err != nil {
		return err
	}
	defer e.enqueue(v.GuildID, v.ReceiverID)

	if !v.XP {
		return nil
	}
	guild, err := e.store.Guilds.Ensure(ctx, v.GuildID)
	if err != nil {
		return err
	}
	ok, err := e.gainsXP(ctx, v)
	if err != nil || !ok {
		return err
	}
	// Removing a vote always takes its xp back; only gains are rate limited.
	if v.Delta > 0 && guild.XPCooldownOn &&
		!e.cooldown.Allow(v.GuildID, v.GiverID, v.ReceiverID, guild.XPCooldown, guild.XPCooldownPer) {
		ctxzap.Extract(ctx).Debugw("xp cooldown", "giver_id", v.GiverID, "receiver_id", v.ReceiverID)
		return nil
	}

	oldLevel, m, err := e.store.Members.AddXP(ctx, v.ReceiverID, v.GuildID, v.Delta)
	if err != nil {
		return err
	}
	if m.Level > oldLevel && guild.LevelChannelID != nil && *guild.LevelChannelID != "" {
		e.announce(ctx, *guild.LevelChannelID, guild.PingUser, v.ReceiverID, m.Level)
	}
	return nil
}

func (e *Engine) gainsXP(ctx context.Context, v starboard.Vote) (bool, error) {
	roles := []string{v.GuildID}
	m, err := e.client.Member(ctx, v.GuildID, v.ReceiverID)
	switch {
	case err == nil:
		roles = append(slices.Clone(m.Roles), v.GuildID)
	case apperr.IsNotFound(err):
	default:
		return false, err
	}
	perms, err := e.perms.GetPerms(ctx, roles, v.GuildID, v.ChannelID, "")
	if err != nil {
		return false, err
	}
	return perms.GainXP, nil
}

func (e *Engine) announce(ctx context.Context, channelID string, ping bool, userID string, level int) {
	send := &discordgo.MessageSend{
		Content:         fmt.Sprintf("<@%s> reached level **%d**!", userID, level),
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	if ping {
		send.AllowedMentions.Users = []string{userID}
	}
	if _, err := e.client.SendMessage(ctx, channelID, send); err != nil {
		ctxzap.Extract(ctx).Debugw("level up message failed", "channel_id", channelID, "error", err)
	}
}

func (e *Engine) enqueue(guildID, userID string) {
	for _, q := range e.queues {
		q.Enqueue(guildID, userID)
	}
}
