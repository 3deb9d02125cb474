package bot

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/NotiFansly/starboard/internal/autostar"
	"github.com/NotiFansly/starboard/internal/awardroles"
	"github.com/NotiFansly/starboard/internal/ctxzap"
	"github.com/NotiFansly/starboard/internal/database"
	"github.com/NotiFansly/starboard/internal/intake"
	"github.com/NotiFansly/starboard/internal/leveling"
	"github.com/NotiFansly/starboard/internal/platform"
	"github.com/NotiFansly/starboard/internal/quickactions"
	"github.com/NotiFansly/starboard/internal/starboard"
	"github.com/NotiFansly/starboard/internal/stats"
)

// Router sends each intake event to the components that react to it.
type Router struct {
	store     *database.Store
	Starboard *starboard.Service
	Autostar  *autostar.Handler
	Leveling  *leveling.Engine
	Quick     *quickactions.Handler
	XPRoles   *awardroles.Loop
	PosRoles  *awardroles.Loop
	Stats     *stats.Aggregator
	GuildLog  *GuildLog
}

type RouterOptions struct {
	Gifs         starboard.GifResolver
	ThemeColor   int
	ErrorColor   int
	RegexTimeout time.Duration
	RoleInterval time.Duration
	Cluster      string
	Counts       stats.CountFunc
}

func NewRouter(store *database.Store, client platform.Client, opts RouterOptions, log *zap.SugaredLogger) *Router {
	guildLog := NewGuildLog(store, client, opts.ThemeColor, opts.ErrorColor)
	sb := starboard.New(store, client, starboard.Options{
		Gifs:         opts.Gifs,
		ThemeColor:   opts.ThemeColor,
		GuildLog:     guildLog,
		RegexTimeout: opts.RegexTimeout,
	})
	xpLoop, posLoop := awardroles.NewLoops(awardroles.NewReconciler(store, client), opts.RoleInterval, log)
	return &Router{
		store:     store,
		Starboard: sb,
		Autostar:  autostar.New(store, client, guildLog, opts.RegexTimeout),
		Leveling:  leveling.New(store, client, xpLoop, posLoop),
		Quick:     quickactions.New(store, client, sb),
		XPRoles:   xpLoop,
		PosRoles:  posLoop,
		Stats:     stats.NewAggregator(store, opts.Cluster, opts.Counts, log),
		GuildLog:  guildLog,
	}
}

// Handle is the intake handler.
func (r *Router) Handle(ctx context.Context, ev intake.Event) error {
	switch ev.Kind {
	case intake.ReactionAdd:
		r.Stats.RecordReaction()
		handled, err := r.Quick.HandleReactionAdd(ctx, ev)
		if err != nil || handled {
			return err
		}
		vote, err := r.Starboard.HandleReactionAdd(ctx, ev)
		if err != nil || vote == nil {
			return err
		}
		return r.Leveling.HandleVote(ctx, *vote)

	case intake.ReactionRemove:
		r.Stats.RecordReaction()
		vote, err := r.Starboard.HandleReactionRemove(ctx, ev)
		if err != nil || vote == nil {
			return err
		}
		return r.Leveling.HandleVote(ctx, *vote)

	case intake.MessageCreate:
		return r.Autostar.HandleMessage(ctx, ev.Message)

	case intake.MessageEdit:
		return r.Starboard.HandleMessageEdit(ctx, ev)

	case intake.MessageDelete:
		return r.Starboard.HandleMessageDelete(ctx, ev)

	case intake.ChannelDelete:
		r.Autostar.Forget(ev.ChannelID)
		return r.Starboard.HandleChannelDelete(ctx, ev)

	case intake.RoleDelete:
		return r.store.DeleteRole(ctx, ev.RoleID)

	case intake.GuildDelete:
		// Guild settings survive removal; only an admin deletes them.
		ctxzap.Extract(ctx).Infow("removed from guild")
		return nil
	}
	return nil
}
