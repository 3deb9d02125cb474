package ipc

import (
	"context"
	"slices"
	"time"
)

// restartDelay lets the restart response reach the broker first.
const restartDelay = 500 * time.Millisecond

// Commands answers the cluster control commands every cluster understands.
type Commands struct {
	// Guilds lists the guild ids this cluster hosts.
	Guilds func() []string
	// Restart stops the cluster so its supervisor starts it again.
	Restart func()
}

func (cmds Commands) Register(c *Client) {
	c.Handle("ping", func(context.Context, Frame) (any, error) {
		return "pong", nil
	})
	c.Handle("eval", func(context.Context, Frame) (any, error) {
		return "eval is not supported by this cluster", nil
	})
	c.Handle("restart", func(ctx context.Context, f Frame) (any, error) {
		if cmds.Restart == nil {
			return "restart is not supported by this cluster", nil
		}
		c.log.Infow("restart requested", "author", f.Author)
		time.AfterFunc(restartDelay, cmds.Restart)
		return "restarting", nil
	})
	c.Handle("get_mutual", func(_ context.Context, f Frame) (any, error) {
		var asked []string
		if err := f.Decode(&asked); err != nil {
			return nil, err
		}
		var hosted []string
		if cmds.Guilds != nil {
			hosted = cmds.Guilds()
		}
		mutual := []string{}
		for _, id := range asked {
			if slices.Contains(hosted, id) {
				mutual = append(mutual, id)
			}
		}
		return mutual, nil
	})
}
