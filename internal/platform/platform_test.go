package platform_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NotiFansly/starboard/internal/apperr"
	"github.com/NotiFansly/starboard/internal/platform"
	"github.com/NotiFansly/starboard/internal/platform/platformtest"
)

func TestEmojiTokens(t *testing.T) {
	assert.Equal(t, "123", platform.EmojiToken(discordgo.Emoji{ID: "123", Name: "blob"}))
	assert.Equal(t, "⭐", platform.EmojiToken(discordgo.Emoji{Name: "⭐"}))

	assert.True(t, platform.IsCustomEmoji("123"))
	assert.False(t, platform.IsCustomEmoji("⭐"))
	assert.False(t, platform.IsCustomEmoji(""))

	assert.Equal(t, "_:123", platform.APIEmoji("123"))
	assert.Equal(t, "⭐", platform.APIEmoji("⭐"))
	assert.Equal(t, "<:_:123>", platform.DisplayEmoji("123"))

	assert.Equal(t, "123", platform.ParseEmoji("<:blob:123>"))
	assert.Equal(t, "456", platform.ParseEmoji("<a:dance:456>"))
	assert.Equal(t, "🔥", platform.ParseEmoji(" 🔥 "))
}

type countingClient struct {
	*platformtest.Fake
	fetches atomic.Int32
	gate    chan struct{}
}

func (c *countingClient) Message(ctx context.Context, channelID, messageID string) (*discordgo.Message, error) {
	c.fetches.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	return c.Fake.Message(ctx, channelID, messageID)
}

func TestCachedMessage(t *testing.T) {
	ctx := context.Background()
	fake := platformtest.New()
	fake.PutMessage(&discordgo.Message{ID: "m", ChannelID: "c", Content: "hello"})
	client := &countingClient{Fake: fake}

	cached, err := platform.NewCached(client, time.Minute)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		m, err := cached.Message(ctx, "c", "m")
		require.NoError(t, err)
		assert.Equal(t, "hello", m.Content)
	}
	assert.Equal(t, int32(1), client.fetches.Load())

	cached.Forget("m")
	_, err = cached.Message(ctx, "c", "m")
	require.NoError(t, err)
	assert.Equal(t, int32(2), client.fetches.Load())

	// NotFound answers are cached as well.
	for i := 0; i < 2; i++ {
		_, err = cached.Message(ctx, "c", "gone")
		assert.True(t, apperr.IsNotFound(err))
	}
	assert.Equal(t, int32(3), client.fetches.Load())
}

func TestCachedMessageSharesConcurrentFetches(t *testing.T) {
	ctx := context.Background()
	fake := platformtest.New()
	fake.PutMessage(&discordgo.Message{ID: "m", ChannelID: "c"})
	client := &countingClient{Fake: fake, gate: make(chan struct{})}

	cached, err := platform.NewCached(client, time.Minute)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cached.Message(ctx, "c", "m")
			assert.NoError(t, err)
		}()
	}
	require.Eventually(t, func() bool { return client.fetches.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(client.gate)
	wg.Wait()
	assert.LessOrEqual(t, client.fetches.Load(), int32(2))
}

func TestTranslate(t *testing.T) {
	fake := platformtest.New()
	fake.Fail["delete"] = errors.New("boom")

	err := fake.DeleteMessage(context.Background(), "c", "m")
	assert.EqualError(t, err, "boom")

	// RESTError mapping is exercised through the exported helper.
	for code, kind := range map[int]apperr.Kind{
		http.StatusNotFound:            apperr.NotFound,
		http.StatusForbidden:           apperr.PermissionDenied,
		http.StatusInternalServerError: apperr.TransientInfra,
		http.StatusTooManyRequests:     apperr.TransientInfra,
		http.StatusBadRequest:          apperr.Input,
	} {
		rest := &discordgo.RESTError{Response: &http.Response{StatusCode: code}}
		assert.Equal(t, kind, apperr.KindOf(platform.Translate("op", rest)), "status %d", code)
	}
	assert.Equal(t, apperr.NotFound, apperr.KindOf(platform.Translate("op", discordgo.ErrStateNotFound)))
	assert.Nil(t, platform.Translate("op", nil))
}
