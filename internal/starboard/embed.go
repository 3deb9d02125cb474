package starboard

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/NotiFansly/starboard/api"
	"github.com/NotiFansly/starboard/internal/apperr"
	"github.com/NotiFansly/starboard/internal/ctxzap"
	"github.com/NotiFansly/starboard/internal/embed"
	"github.com/NotiFansly/starboard/internal/models"
	"github.com/NotiFansly/starboard/internal/platform"
)

// GifResolver turns a gif share link into a direct media URL.
type GifResolver interface {
	GifURL(ctx context.Context, link string) (string, error)
}

var imageExts = []string{".png", ".jpg", ".jpeg", ".gif", ".gifv", ".svg", ".webp"}

var markdownEscaper = strings.NewReplacer(`\`, `\\`, `[`, `\[`, `]`, `\]`)

// EscapeMarkdown escapes backslashes and square brackets so source text
// cannot form masked links.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

// Header is the plain text posted above a mirror.
func Header(sb *models.Starboard, points int, channelID string) string {
	return fmt.Sprintf("%s %d | <#%s>", platform.DisplayEmoji(sb.DisplayEmoji), points, channelID)
}

type media struct {
	name          string
	url           string
	displayURL    string
	upload        bool
	spoiler       bool
	thumbnailOnly bool
}

type Composer struct {
	client platform.Client
	gifs   GifResolver
	color  int
}

// NewComposer returns a composer. gifs may be nil, in which case gif links
// are listed but not inlined.
func NewComposer(client platform.Client, gifs GifResolver, themeColor int) *Composer {
	return &Composer{client: client, gifs: gifs, color: themeColor}
}

// Compose renders src as the embed of a mirror on sb.
func (c *Composer) Compose(ctx context.Context, src *discordgo.Message, nsfw bool, sb *models.Starboard) *discordgo.MessageEmbed {
	eb := embed.NewBuilder()
	color := c.color
	if sb.Color != nil {
		color = *sb.Color
	}
	eb.Color(color)

	if src.Author != nil {
		eb.Author(authorName(src.Author), src.Author.AvatarURL(""), "")
	}

	var items []media
	for _, a := range src.Attachments {
		items = append(items, media{
			name:       a.Filename,
			url:        a.URL,
			displayURL: a.URL,
			upload:     true,
			spoiler:    strings.HasPrefix(a.Filename, "SPOILER_"),
		})
	}

	content := EscapeMarkdown(src.Content)
	text, embedded := c.extractEmbeds(ctx, src)
	content += text
	items = append(items, embedded...)
	items = append(items, c.contentGifs(ctx, src.Content, items)...)
	eb.Description(content)

	c.addReply(ctx, eb, src)
	eb.AddField(embed.ZWS, fmt.Sprintf("**[Jump to Message](%s)**", platform.JumpURL(src.GuildID, src.ChannelID, src.ID)))

	for _, m := range items {
		switch {
		case m.upload:
			if isImage(m.url) && !nsfw && !m.spoiler && !eb.HasImage() {
				eb.Image(m.displayURL)
			}
		case nsfw:
		case m.thumbnailOnly:
			if !eb.HasThumbnail() {
				eb.Thumbnail(m.displayURL)
			}
		case !eb.HasImage():
			eb.Image(m.displayURL)
		}
	}

	if links := attachmentLinks(items); links != "" {
		eb.AddField(embed.ZWS, links)
	}

	eb.Timestamp(src.Timestamp)
	return eb.Finalize()
}

// TrashedEmbed replaces the mirror of a trashed message.
func TrashedEmbed(reason *string) *discordgo.MessageEmbed {
	desc := "This message was trashed by a moderator."
	if reason != nil && *reason != "" {
		desc += "\nReason: " + *reason
	}
	return embed.NewBuilder().Title("Trashed Message").Description(desc).Finalize()
}

func authorName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

func (c *Composer) extractEmbeds(ctx context.Context, src *discordgo.Message) (string, []media) {
	var (
		b     strings.Builder
		items []media
	)
	for _, e := range src.Embeds {
		switch e.Type {
		case discordgo.EmbedTypeRich, discordgo.EmbedTypeArticle, discordgo.EmbedTypeLink:
			switch {
			case e.Title != "" && e.URL != "":
				fmt.Fprintf(&b, "\n\n__**[%s](%s)**__\n", e.Title, e.URL)
			case e.Title != "":
				fmt.Fprintf(&b, "\n\n__**%s**__\n", e.Title)
			default:
				b.WriteString("\n")
			}
			if e.Description != "" {
				b.WriteString(e.Description + "\n")
			}
			for _, f := range e.Fields {
				fmt.Fprintf(&b, "\n**%s**\n%s\n", f.Name, f.Value)
			}
			if e.Footer != nil && e.Footer.Text != "" {
				b.WriteString(EscapeMarkdown(e.Footer.Text))
			}
			if e.Image != nil && e.Image.URL != "" {
				items = append(items, media{name: "Embed Image", url: e.Image.URL, displayURL: e.Image.URL})
			}
			if e.Thumbnail != nil && e.Thumbnail.URL != "" {
				items = append(items, media{
					name:          "Embed Thumbnail",
					url:           e.Thumbnail.URL,
					displayURL:    e.Thumbnail.URL,
					thumbnailOnly: e.Type != discordgo.EmbedTypeArticle,
				})
			}
		default:
			if e.URL == "" {
				continue
			}
			m := media{url: e.URL, displayURL: e.URL}
			if e.Thumbnail != nil && e.Thumbnail.URL != "" {
				m.displayURL = e.Thumbnail.URL
			}
			switch e.Type {
			case discordgo.EmbedTypeImage:
				m.name = "Image"
			case discordgo.EmbedTypeGifv:
				m.name = "GIF"
				if u := c.resolveGif(ctx, e.URL); u != "" {
					m.displayURL = u
				}
			case discordgo.EmbedTypeVideo:
				m.name = e.Title
				if m.name == "" {
					m.name = "Video"
				}
			default:
				m.name = string(e.Type)
			}
			items = append(items, m)
		}
	}
	return b.String(), items
}

// contentGifs resolves gif share links in the text that no platform embed
// already covered.
func (c *Composer) contentGifs(ctx context.Context, content string, have []media) []media {
	var out []media
	for _, link := range api.GifLinks(content) {
		if slices.ContainsFunc(have, func(m media) bool { return m.url == link }) {
			continue
		}
		u := c.resolveGif(ctx, link)
		if u == "" {
			continue
		}
		out = append(out, media{name: "GIF", url: link, displayURL: u})
	}
	return out
}

func (c *Composer) resolveGif(ctx context.Context, link string) string {
	if c.gifs == nil {
		return ""
	}
	u, err := c.gifs.GifURL(ctx, link)
	if err != nil {
		ctxzap.Extract(ctx).Debugw("gif lookup failed", "link", link, "error", err)
		return ""
	}
	return u
}

func (c *Composer) addReply(ctx context.Context, eb *embed.Builder, src *discordgo.Message) {
	ref := src.MessageReference
	if ref == nil || ref.MessageID == "" {
		return
	}

	var (
		author  = "Unknown"
		content string
	)
	replied := src.ReferencedMessage
	if replied == nil {
		channelID := ref.ChannelID
		if channelID == "" {
			channelID = src.ChannelID
		}
		m, err := c.client.Message(ctx, channelID, ref.MessageID)
		switch {
		case err == nil:
			replied = m
		case apperr.IsNotFound(err), apperr.IsForbidden(err):
		default:
			ctxzap.Extract(ctx).Debugw("failed to fetch replied message", "message_id", ref.MessageID, "error", err)
		}
	}
	if replied == nil {
		content = "*Message was deleted*"
	} else {
		if replied.Author != nil {
			author = authorName(replied.Author)
		}
		content = replied.Content
		if content == "" {
			content = "*File Only*"
		}
	}
	eb.AddField("Replying to "+author, content)
}

func isImage(raw string) bool {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	return slices.Contains(imageExts, strings.ToLower(path.Ext(p)))
}

// attachmentLinks lists every media link, collapsing what does not fit in
// one field into a trailing count.
func attachmentLinks(items []media) string {
	var b strings.Builder
	left := len(items)
	for i, m := range items {
		more := fmt.Sprintf("%d additional attachments.", left)
		left--

		line := fmt.Sprintf("**[%s](%s)**", m.name, m.url)
		sep := ""
		if i > 0 {
			sep = "\n"
		}
		if b.Len()+len(sep)+len(line)+1+len(more) > embed.MaxField {
			b.WriteString(sep + more)
			break
		}
		b.WriteString(sep + line)
	}
	return b.String()
}
