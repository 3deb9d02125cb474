// Package platformtest is an in-memory chat platform that records writes.
package platformtest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/NotiFansly/starboard/internal/apperr"
)

// Write is one mutating call made against the fake.
type Write struct {
	Op        string
	ChannelID string
	MessageID string
	UserID    string
	RoleID    string
	Emoji     string
	Content   string
	Embed     *discordgo.MessageEmbed
}

type Fake struct {
	mu sync.Mutex

	messages  map[string]*discordgo.Message
	channels  map[string]*discordgo.Channel
	members   map[string]*discordgo.Member
	roles     map[string][]*discordgo.Role
	perms     map[string]int64
	reactions map[string]map[string][]*discordgo.User
	nextID    int

	// Fail makes the named operation return the error.
	Fail map[string]error

	writes []Write
	dms    []Write
}

func New() *Fake {
	return &Fake{
		messages:  map[string]*discordgo.Message{},
		channels:  map[string]*discordgo.Channel{},
		members:   map[string]*discordgo.Member{},
		roles:     map[string][]*discordgo.Role{},
		perms:     map[string]int64{},
		reactions: map[string]map[string][]*discordgo.User{},
		Fail:      map[string]error{},
	}
}

func memberKey(guildID, userID string) string { return guildID + "/" + userID }

func (f *Fake) PutMessage(m *discordgo.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[m.ID] = m
}

func (f *Fake) PutChannel(c *discordgo.Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[c.ID] = c
}

func (f *Fake) PutMember(guildID string, m *discordgo.Member) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.GuildID = guildID
	f.members[memberKey(guildID, m.User.ID)] = m
}

func (f *Fake) PutRoles(guildID string, roles ...*discordgo.Role) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[guildID] = roles
}

// SetPermissions sets the channel permission bits userID has.
func (f *Fake) SetPermissions(channelID, userID string, perms int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.perms[channelID+"/"+userID] = perms
}

// React records a platform-side reaction without counting it as a write.
func (f *Fake) React(messageID, emoji string, u *discordgo.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reactions[messageID] == nil {
		f.reactions[messageID] = map[string][]*discordgo.User{}
	}
	f.reactions[messageID][emoji] = append(f.reactions[messageID][emoji], u)
}

// Writes returns every recorded write.
func (f *Fake) Writes() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.writes)
}

// WritesOf returns the recorded writes with the given op.
func (f *Fake) WritesOf(op string) []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Write
	for _, w := range f.writes {
		if w.Op == op {
			out = append(out, w)
		}
	}
	return out
}

// DMs returns every direct message sent.
func (f *Fake) DMs() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.dms)
}

// ResetWrites forgets the recorded writes.
func (f *Fake) ResetWrites() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = nil
	f.dms = nil
}

// Sent returns the message with id as currently stored.
func (f *Fake) Sent(id string) (*discordgo.Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	return m, ok
}

// MemberRoles returns the roles userID currently holds.
func (f *Fake) MemberRoles(guildID, userID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.members[memberKey(guildID, userID)]; ok {
		return slices.Clone(m.Roles)
	}
	return nil
}

func (f *Fake) fail(op string) error {
	if err, ok := f.Fail[op]; ok {
		return err
	}
	return nil
}

func (f *Fake) record(w Write) {
	f.writes = append(f.writes, w)
}

func notFound(what, id string) error {
	return apperr.Newf(apperr.NotFound, "%s %s not found", what, id)
}

func (f *Fake) Message(_ context.Context, _, messageID string) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("message"); err != nil {
		return nil, err
	}
	m, ok := f.messages[messageID]
	if !ok {
		return nil, notFound("message", messageID)
	}
	cp := *m
	return &cp, nil
}

func (f *Fake) Channel(_ context.Context, channelID string) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.channels[channelID]
	if !ok {
		return nil, notFound("channel", channelID)
	}
	return c, nil
}

func (f *Fake) Member(_ context.Context, guildID, userID string) (*discordgo.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[memberKey(guildID, userID)]
	if !ok {
		return nil, notFound("member", userID)
	}
	cp := *m
	cp.Roles = slices.Clone(m.Roles)
	return &cp, nil
}

func (f *Fake) GuildRoles(_ context.Context, guildID string) ([]*discordgo.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.roles[guildID]), nil
}

func (f *Fake) MemberPermissions(_ context.Context, _, channelID, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.perms[channelID+"/"+userID], nil
}

func (f *Fake) SendMessage(_ context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("send"); err != nil {
		return nil, err
	}
	f.nextID++
	m := &discordgo.Message{
		ID:        fmt.Sprintf("sent-%d", f.nextID),
		ChannelID: channelID,
		Content:   msg.Content,
		Embeds:    slices.Clone(msg.Embeds),
	}
	if msg.Embed != nil {
		m.Embeds = append(m.Embeds, msg.Embed)
	}
	f.messages[m.ID] = m
	var embed *discordgo.MessageEmbed
	if len(m.Embeds) > 0 {
		embed = m.Embeds[0]
	}
	f.record(Write{Op: "send", ChannelID: channelID, MessageID: m.ID, Content: msg.Content, Embed: embed})
	return m, nil
}

func (f *Fake) EditMessage(_ context.Context, channelID, messageID, content string, embed *discordgo.MessageEmbed) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Write{Op: "edit", ChannelID: channelID, MessageID: messageID, Content: content, Embed: embed})
	if err := f.fail("edit"); err != nil {
		return err
	}
	m, ok := f.messages[messageID]
	if !ok {
		return notFound("message", messageID)
	}
	m.Content = content
	if embed != nil {
		m.Embeds = []*discordgo.MessageEmbed{embed}
	}
	return nil
}

func (f *Fake) DeleteMessage(_ context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Write{Op: "delete", ChannelID: channelID, MessageID: messageID})
	if err := f.fail("delete"); err != nil {
		return err
	}
	if _, ok := f.messages[messageID]; !ok {
		return notFound("message", messageID)
	}
	delete(f.messages, messageID)
	return nil
}

func (f *Fake) SendDM(_ context.Context, userID string, msg *discordgo.MessageSend) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("dm"); err != nil {
		return err
	}
	w := Write{Op: "dm", UserID: userID, Content: msg.Content}
	if msg.Embed != nil {
		w.Embed = msg.Embed
	} else if len(msg.Embeds) > 0 {
		w.Embed = msg.Embeds[0]
	}
	f.dms = append(f.dms, w)
	f.record(w)
	return nil
}

func (f *Fake) AddReaction(_ context.Context, channelID, messageID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Write{Op: "react", ChannelID: channelID, MessageID: messageID, Emoji: emoji})
	return f.fail("react")
}

func (f *Fake) RemoveReaction(_ context.Context, channelID, messageID, emoji, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Write{Op: "unreact", ChannelID: channelID, MessageID: messageID, Emoji: emoji, UserID: userID})
	if users, ok := f.reactions[messageID][emoji]; ok {
		f.reactions[messageID][emoji] = slices.DeleteFunc(users, func(u *discordgo.User) bool { return u.ID == userID })
	}
	return f.fail("unreact")
}

func (f *Fake) ReactionUsers(_ context.Context, _, messageID, emoji string) ([]*discordgo.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.messages[messageID]; !ok {
		return nil, notFound("message", messageID)
	}
	return slices.Clone(f.reactions[messageID][emoji]), nil
}

func (f *Fake) AddRole(_ context.Context, guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Write{Op: "add_role", UserID: userID, RoleID: roleID})
	if err := f.fail("add_role"); err != nil {
		return err
	}
	m, ok := f.members[memberKey(guildID, userID)]
	if !ok {
		return notFound("member", userID)
	}
	if !slices.Contains(m.Roles, roleID) {
		m.Roles = append(m.Roles, roleID)
	}
	return nil
}

func (f *Fake) RemoveRole(_ context.Context, guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Write{Op: "remove_role", UserID: userID, RoleID: roleID})
	if err := f.fail("remove_role"); err != nil {
		return err
	}
	m, ok := f.members[memberKey(guildID, userID)]
	if !ok {
		return notFound("member", userID)
	}
	m.Roles = slices.DeleteFunc(m.Roles, func(r string) bool { return r == roleID })
	return nil
}
