// Package embed builds discordgo embeds.
package embed

import (
	"time"

	"github.com/bwmarrin/discordgo"
)

const ColorTheme = 0xFFE19C

const (
	MaxDescription = 2048
	MaxField       = 1024
	// ZWS is a zero width space, used as an otherwise empty field name.
	ZWS = "\u200b"
)

type Builder struct {
	embed *discordgo.MessageEmbed
}

func NewBuilder() *Builder {
	return &Builder{
		embed: &discordgo.MessageEmbed{
			Type:  discordgo.EmbedTypeRich,
			Color: ColorTheme,
		},
	}
}

// Finalize returns the built embed. The builder must not be reused.
func (eb *Builder) Finalize() *discordgo.MessageEmbed {
	return eb.embed
}

func (eb *Builder) Title(title string) *Builder {
	eb.embed.Title = title
	return eb
}

func (eb *Builder) Description(desc string) *Builder {
	eb.embed.Description = Truncate(desc, MaxDescription)
	return eb
}

func (eb *Builder) AddField(name, value string, inline ...bool) *Builder {
	i := false
	if len(inline) > 0 {
		i = inline[0]
	}

	eb.embed.Fields = append(eb.embed.Fields, &discordgo.MessageEmbedField{
		Name: name, Value: Truncate(value, MaxField), Inline: i,
	})

	return eb
}

func (eb *Builder) Thumbnail(url string) *Builder {
	eb.embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: url}
	return eb
}

func (eb *Builder) Image(url string) *Builder {
	eb.embed.Image = &discordgo.MessageEmbedImage{URL: url}
	return eb
}

// HasImage reports whether an image was already set.
func (eb *Builder) HasImage() bool {
	return eb.embed.Image != nil
}

func (eb *Builder) HasThumbnail() bool {
	return eb.embed.Thumbnail != nil
}

func (eb *Builder) Author(name, icon, url string) *Builder {
	eb.embed.Author = &discordgo.MessageEmbedAuthor{
		Name:    name,
		IconURL: icon,
		URL:     url,
	}
	return eb
}

func (eb *Builder) Color(color int) *Builder {
	eb.embed.Color = color
	return eb
}

func (eb *Builder) Timestamp(t time.Time) *Builder {
	if !t.IsZero() {
		eb.embed.Timestamp = t.Format(time.RFC3339)
	}
	return eb
}

// Truncate cuts s to at most n runes, ending with " ..." when it had to cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	const tail = " ..."
	if n <= len(tail) {
		return string(r[:n])
	}
	return string(r[:n-len(tail)]) + tail
}
