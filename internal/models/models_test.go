package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelForXP(t *testing.T) {
	cases := map[int]int{-4: 0, 0: 0, 1: 1, 3: 1, 4: 2, 8: 2, 9: 3, 99: 9, 100: 10, 10000: 100}
	for xp, want := range cases {
		assert.Equal(t, want, LevelForXP(xp), "xp=%d", xp)
	}
	for xp := 0; xp < 5000; xp++ {
		l := LevelForXP(xp)
		assert.True(t, l*l <= xp && (l+1)*(l+1) > xp, "xp=%d level=%d", xp, l)
	}
}

func TestStarboardAllowsChannel(t *testing.T) {
	s := NewStarboard("sb", "g")
	assert.True(t, s.AllowsChannel("c1"))

	s.ChannelBL = []string{"c1"}
	assert.False(t, s.AllowsChannel("c1"))
	assert.True(t, s.AllowsChannel("c2"))

	s.ChannelWL = []string{"c2"}
	assert.True(t, s.AllowsChannel("c2"))
	assert.False(t, s.AllowsChannel("c3"))
}

func TestTriOver(t *testing.T) {
	assert.True(t, Inherit.Over(true))
	assert.False(t, Inherit.Over(false))
	assert.True(t, Allow.Over(false))
	assert.False(t, Deny.Over(true))
	assert.Equal(t, Allow, TriOf(true))
	assert.Equal(t, Deny, TriOf(false))
}

func TestQuickActionFor(t *testing.T) {
	g := NewGuild("g")
	a, ok := g.QuickActionFor("🔒")
	assert.True(t, ok)
	assert.Equal(t, QAActionForce, a)

	_, ok = g.QuickActionFor("⭐")
	assert.False(t, ok)
	_, ok = g.QuickActionFor("")
	assert.False(t, ok)
}
