package platform

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/singleflight"

	"github.com/NotiFansly/starboard/internal/apperr"
)

const MessageTTL = 30 * time.Second

type cachedMessage struct {
	msg     *discordgo.Message
	missing bool
}

// Cached fronts Message lookups with a short TTL cache. Concurrent fetches
// of one id share a single request and NotFound answers are cached too.
type Cached struct {
	Client
	messages *ristretto.Cache[string, cachedMessage]
	group    singleflight.Group
	ttl      time.Duration
}

func NewCached(c Client, ttl time.Duration) (*Cached, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, cachedMessage]{
		NumCounters:        100_000,
		MaxCost:            10_000,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &Cached{Client: c, messages: cache, ttl: ttl}, nil
}

func (c *Cached) Message(ctx context.Context, channelID, messageID string) (*discordgo.Message, error) {
	if v, ok := c.messages.Get(messageID); ok {
		if v.missing {
			return nil, apperr.Newf(apperr.NotFound, "message %s not found", messageID)
		}
		return v.msg, nil
	}

	v, err, _ := c.group.Do(messageID, func() (any, error) {
		m, err := c.Client.Message(ctx, channelID, messageID)
		switch {
		case apperr.IsNotFound(err):
			c.store(messageID, cachedMessage{missing: true})
			return nil, err
		case err != nil:
			return nil, err
		}
		c.store(messageID, cachedMessage{msg: m})
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*discordgo.Message), nil
}

func (c *Cached) store(id string, v cachedMessage) {
	c.messages.SetWithTTL(id, v, 1, c.ttl)
	c.messages.Wait()
}

// Forget drops messageID so the next lookup refetches it.
func (c *Cached) Forget(messageID string) {
	c.messages.Del(messageID)
}

func (c *Cached) EditMessage(ctx context.Context, channelID, messageID, content string, embed *discordgo.MessageEmbed) error {
	c.Forget(messageID)
	return c.Client.EditMessage(ctx, channelID, messageID, content, embed)
}

func (c *Cached) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	c.Forget(messageID)
	return c.Client.DeleteMessage(ctx, channelID, messageID)
}
