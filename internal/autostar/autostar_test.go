package autostar

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NotiFansly/starboard/internal/apperr"
	"github.com/NotiFansly/starboard/internal/database"
	"github.com/NotiFansly/starboard/internal/database/dbtest"
	"github.com/NotiFansly/starboard/internal/models"
	"github.com/NotiFansly/starboard/internal/platform/platformtest"
)

func setup(t *testing.T, u database.ASChannelUpdate) (*Handler, *platformtest.Fake, *database.Store) {
	t.Helper()
	ctx := context.Background()
	store := dbtest.New(t)
	fake := platformtest.New()
	_, err := store.ASChannels.Create(ctx, "AC", "G")
	require.NoError(t, err)
	_, err = store.ASChannels.Edit(ctx, "AC", u)
	require.NoError(t, err)
	return New(store, fake, nil, 0), fake, store
}

func post(id, content string, attachments int) *discordgo.Message {
	m := &discordgo.Message{
		ID:        id,
		ChannelID: "AC",
		GuildID:   "G",
		Content:   content,
		Author:    &discordgo.User{ID: "A"},
	}
	for range attachments {
		m.Attachments = append(m.Attachments, &discordgo.MessageAttachment{Filename: "a.png", URL: "https://cdn/a.png"})
	}
	return m
}

func TestAutoStarValidation(t *testing.T) {
	h, fake, _ := setup(t, database.ASChannelUpdate{
		Emojis:        database.Some([]string{"⭐", "🔥"}),
		MinChars:      database.Some(10),
		RequireImage:  database.Some(true),
		DeleteInvalid: database.Some(true),
	})
	ctx := context.Background()

	bad := post("m1", "hi", 0)
	fake.PutMessage(bad)
	require.NoError(t, h.HandleMessage(ctx, bad))

	deletes := fake.WritesOf("delete")
	require.Len(t, deletes, 1)
	assert.Equal(t, "m1", deletes[0].MessageID)
	dms := fake.DMs()
	require.Len(t, dms, 1)
	assert.Equal(t, "A", dms[0].UserID)
	assert.Contains(t, dms[0].Content, "Messages must have an image attached")
	assert.Empty(t, fake.WritesOf("react"))

	good := post("m2", strings.Repeat("a", 20), 1)
	fake.PutMessage(good)
	require.NoError(t, h.HandleMessage(ctx, good))

	reacts := fake.WritesOf("react")
	require.Len(t, reacts, 2)
	assert.Equal(t, "⭐", reacts[0].Emoji)
	assert.Equal(t, "🔥", reacts[1].Emoji)
	assert.Len(t, fake.WritesOf("delete"), 1)
}

func TestValidateOrder(t *testing.T) {
	maxChars := 5
	asc := &models.AutoStarChannel{ID: "AC", GuildID: "G", MinChars: 2, MaxChars: &maxChars, RequireImage: true}
	h := New(nil, nil, nil, 0)
	ctx := context.Background()

	assert.Equal(t, "require_image", h.Validate(ctx, asc, post("m", "x", 0)).Name)
	assert.Equal(t, "min_chars", h.Validate(ctx, asc, post("m", "x", 1)).Name)
	assert.Equal(t, "max_chars", h.Validate(ctx, asc, post("m", "toolong", 1)).Name)
	assert.Nil(t, h.Validate(ctx, asc, post("m", "fine", 1)))

	asc = &models.AutoStarChannel{ID: "AC", Regex: `^\d+$`, ExcludeRegex: `666`}
	assert.Equal(t, "regex", h.Validate(ctx, asc, post("m", "abc", 0)).Name)
	assert.Equal(t, "exclude_regex", h.Validate(ctx, asc, post("m", "16660", 0)).Name)
	assert.Nil(t, h.Validate(ctx, asc, post("m", "123", 0)))

	asc = &models.AutoStarChannel{MinChars: 3}
	assert.Nil(t, h.Validate(ctx, asc, post("m", "⭐⭐⭐", 0)), "characters, not bytes")
}

type logSink struct{ msgs []string }

func (l *logSink) GuildLog(_ context.Context, _, _, msg string) { l.msgs = append(l.msgs, msg) }

func TestRegexTimeoutCountsAsMatch(t *testing.T) {
	logs := &logSink{}
	h := New(nil, nil, logs, time.Millisecond)
	asc := &models.AutoStarChannel{ID: "AC", GuildID: "G", ExcludeRegex: `(a+)+$`}

	failed := h.Validate(context.Background(), asc, post("m", strings.Repeat("a", 40)+"!", 0))
	require.NotNil(t, failed)
	assert.Equal(t, "exclude_regex", failed.Name)
	require.Len(t, logs.msgs, 1)
	assert.Contains(t, logs.msgs[0], "took too long")
}

func TestInvalidKeptWithoutDeleteInvalid(t *testing.T) {
	h, fake, _ := setup(t, database.ASChannelUpdate{RequireImage: database.Some(true)})
	require.NoError(t, h.HandleMessage(context.Background(), post("m1", "hi", 0)))
	assert.Empty(t, fake.Writes())
}

func TestIgnoresBotsAndOtherChannels(t *testing.T) {
	h, fake, _ := setup(t, database.ASChannelUpdate{})
	ctx := context.Background()

	m := post("m1", "hello", 0)
	m.Author.Bot = true
	require.NoError(t, h.HandleMessage(ctx, m))

	m = post("m2", "hello", 0)
	m.ChannelID = "elsewhere"
	require.NoError(t, h.HandleMessage(ctx, m))
	assert.Empty(t, fake.Writes())
}

func TestForbiddenReactionsAreSwallowed(t *testing.T) {
	h, fake, _ := setup(t, database.ASChannelUpdate{Emojis: database.Some([]string{"⭐", "🔥"})})
	fake.Fail["react"] = apperr.New(apperr.PermissionDenied, "missing access")

	require.NoError(t, h.HandleMessage(context.Background(), post("m1", "hello", 0)))
	assert.Len(t, fake.WritesOf("react"), 1, "stops after the first refusal")
}

func TestChannelCooldown(t *testing.T) {
	h, fake, _ := setup(t, database.ASChannelUpdate{})
	ctx := context.Background()

	for i := range 5 {
		require.NoError(t, h.HandleMessage(ctx, post(string(rune('a'+i)), "hello", 0)))
	}
	assert.Len(t, fake.WritesOf("react"), burst)
}
