// Package bot connects the gateway to the starboard core: gateway events are
// normalized and queued on the intake pool, and the background loops run
// alongside the shards until shutdown.
package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/NotiFansly/starboard/api"
	"github.com/NotiFansly/starboard/internal/config"
	"github.com/NotiFansly/starboard/internal/database"
	"github.com/NotiFansly/starboard/internal/intake"
	"github.com/NotiFansly/starboard/internal/ipc"
	"github.com/NotiFansly/starboard/internal/platform"
	"github.com/NotiFansly/starboard/internal/stats"
	"github.com/NotiFansly/starboard/internal/textmatch"
)

const (
	heartbeatInterval = 2 * time.Minute
	statusInterval    = 10 * time.Minute

	intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsMessageContent
)

type Bot struct {
	cfg      *config.Config
	store    *database.Store
	log      *zap.SugaredLogger
	sessions []*discordgo.Session
	router   *Router
	commands *Commands
	pool     *intake.Pool

	// ctx is the run context, set before the shards connect.
	ctx context.Context
}

// New prepares one gateway session per configured shard. Nothing connects
// until Run.
func New(cfg *config.Config, store *database.Store, log *zap.SugaredLogger) (*Bot, error) {
	shards := cfg.ShardIDs
	if len(shards) == 0 {
		shards = []int{0}
	}

	b := &Bot{cfg: cfg, store: store, log: log, ctx: context.Background()}
	for _, id := range shards {
		s, err := discordgo.New("Bot " + cfg.BotToken)
		if err != nil {
			return nil, err
		}
		s.ShardID = id
		s.ShardCount = max(cfg.ShardCount, 1)
		s.Identify.Intents = intents
		b.sessions = append(b.sessions, s)
	}

	client, err := platform.NewCached(platform.NewDiscord(b.sessions[0]), platform.MessageTTL)
	if err != nil {
		return nil, fmt.Errorf("message cache: %w", err)
	}

	b.router = NewRouter(store, client, RouterOptions{
		Gifs:         api.NewClient(cfg.TenorKey, cfg.GiphyKey),
		ThemeColor:   cfg.ThemeColor,
		ErrorColor:   cfg.ErrorColor,
		RegexTimeout: textmatch.DefaultTimeout,
		RoleInterval: cfg.RoleLoopInterval,
		Cluster:      cfg.ClusterName,
		Counts:       b.Counts,
	}, log)
	b.commands = NewCommands(b.router.Starboard)
	b.pool = intake.NewPool(cfg.IntakeWorkers, cfg.IntakeQueueLength, b.router.Handle, b.router.GuildLog.ReportFatal, log)

	for _, s := range b.sessions {
		b.registerHandlers(s)
	}
	return b, nil
}

// RegisterIPC answers the cluster commands and stats exchange on c.
func (b *Bot) RegisterIPC(c *ipc.Client, restart func()) {
	ipc.Commands{Guilds: b.GuildIDs, Restart: restart}.Register(c)
	b.router.Stats.Register(c)
}

// Run connects every shard and runs the intake pool and background loops
// until ctx is done. peers may be nil when the cluster runs without IPC.
func (b *Bot) Run(ctx context.Context, peers *ipc.Client) error {
	b.ctx = ctx
	for _, s := range b.sessions {
		if err := s.Open(); err != nil {
			b.closeSessions()
			return fmt.Errorf("open shard %d: %w", s.ShardID, err)
		}
	}
	defer b.closeSessions()

	var sender stats.Sender
	if peers != nil {
		sender = peers
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.pool.Run(gctx) })
	g.Go(func() error { return b.router.XPRoles.Run(gctx) })
	g.Go(func() error { return b.router.PosRoles.Run(gctx) })
	g.Go(func() error { return b.router.Stats.Run(gctx, b.cfg.StatsInterval, sender) })
	g.Go(func() error {
		return stats.Heartbeat(gctx, b.store, "cluster-"+b.cfg.ClusterName, heartbeatInterval, b.log)
	})
	g.Go(func() error { return b.updateStatusPeriodically(gctx) })
	return g.Wait()
}

func (b *Bot) closeSessions() {
	for _, s := range b.sessions {
		if err := s.Close(); err != nil {
			b.log.Debugw("error closing shard", "shard_id", s.ShardID, "error", err)
		}
	}
}

// Counts returns the guilds and members across the shards of this cluster.
func (b *Bot) Counts() (guilds, members int) {
	for _, s := range b.sessions {
		s.State.RLock()
		guilds += len(s.State.Guilds)
		for _, g := range s.State.Guilds {
			members += g.MemberCount
		}
		s.State.RUnlock()
	}
	return guilds, members
}

// GuildIDs lists the guilds hosted by this cluster.
func (b *Bot) GuildIDs() []string {
	var ids []string
	for _, s := range b.sessions {
		s.State.RLock()
		for _, g := range s.State.Guilds {
			ids = append(ids, g.ID)
		}
		s.State.RUnlock()
	}
	return ids
}

func (b *Bot) updateStatusPeriodically(ctx context.Context) error {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.updateBotStatus()
		}
	}
}

func (b *Bot) updateBotStatus() {
	guilds, _ := b.Counts()
	status := fmt.Sprintf("%d servers ⭐", guilds)
	for _, s := range b.sessions {
		err := s.UpdateStatusComplex(discordgo.UpdateStatusData{
			Activities: []*discordgo.Activity{
				{
					Name: status,
					Type: discordgo.ActivityTypeWatching,
				},
			},
		})
		if err != nil {
			b.log.Debugw("error updating status", "shard_id", s.ShardID, "error", err)
		}
	}
}
