package database

import (
	"context"
	"slices"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"gorm.io/gorm"
)

const cacheTTL = 30 * time.Second

// Option is a partial-edit field. Fields left unset are not written.
type Option[T any] struct {
	Val T
	Set bool
}

func Some[T any](v T) Option[T] {
	return Option[T]{Val: v, Set: true}
}

// Limit keys understood by Limits.
const (
	LimitStarboards = "starboards"
	LimitASChannels = "aschannels"
	LimitStarEmojis = "star_emojis"
	LimitASEmojis   = "as_emojis"
	LimitPermGroups = "permgroups"
	LimitPermRoles  = "permroles"
	LimitXPRoles    = "xproles"
	LimitPosRoles   = "posroles"
)

// Limits caps per-guild row counts. A missing key means unlimited.
type Limits struct {
	Default map[string]int
	Premium map[string]int
}

// Store owns every persistent row. Repositories share the same connection
// and cache; Tx rebinds them to a transaction.
type Store struct {
	db        *gorm.DB
	cache     *cache
	limits    Limits
	evictions *[]string

	Guilds      *GuildRepo
	Users       *UserRepo
	Members     *MemberRepo
	Starboards  *StarboardRepo
	ASChannels  *ASChannelRepo
	Messages    *MessageRepo
	SBMessages  *SBMessageRepo
	Reactions   *ReactionRepo
	PermGroups  *PermGroupRepo
	PermRoles   *PermRoleRepo
	XPRoles     *XPRoleRepo
	PosRoles    *PosRoleRepo
	SystemStats *SystemStatRepo
}

// New wraps an open database.
func New(db *gorm.DB, limits Limits) (*Store, error) {
	c, err := newCache(cacheTTL)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, cache: c, limits: limits}
	s.bind()
	return s, nil
}

func (s *Store) bind() {
	s.Guilds = &GuildRepo{s}
	s.Users = &UserRepo{s}
	s.Members = &MemberRepo{s}
	s.Starboards = &StarboardRepo{s}
	s.ASChannels = &ASChannelRepo{s}
	s.Messages = &MessageRepo{s}
	s.SBMessages = &SBMessageRepo{s}
	s.Reactions = &ReactionRepo{s}
	s.PermGroups = &PermGroupRepo{s}
	s.PermRoles = &PermRoleRepo{s}
	s.XPRoles = &XPRoleRepo{s}
	s.PosRoles = &PosRoleRepo{s}
	s.SystemStats = &SystemStatRepo{s}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

// Tx runs fn inside a transaction. Cache entries touched by fn are evicted
// once the outermost transaction finishes.
func (s *Store) Tx(ctx context.Context, fn func(tx *Store) error) error {
	if s.evictions != nil {
		return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
			return fn(s.derive(db, s.evictions))
		})
	}

	var evictions []string
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(s.derive(db, &evictions))
	})
	s.cache.del(evictions...)
	return err
}

func (s *Store) derive(db *gorm.DB, evictions *[]string) *Store {
	tx := &Store{db: db, cache: s.cache, limits: s.limits, evictions: evictions}
	tx.bind()
	return tx
}

func (s *Store) inTx() bool {
	return s.evictions != nil
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// run retries outside transactions only; a failed statement aborts the
// enclosing transaction anyway.
func (s *Store) run(ctx context.Context, fn func() error) error {
	if s.inTx() {
		return fn()
	}
	return WithRetry(ctx, fn)
}

// write runs fn in a transaction unless one is already open.
func (s *Store) write(ctx context.Context, fn func(tx *Store) error) error {
	if s.inTx() {
		return fn(s)
	}
	return s.Tx(ctx, fn)
}

func (s *Store) invalidate(keys ...string) {
	if s.inTx() {
		*s.evictions = append(*s.evictions, keys...)
		return
	}
	s.cache.del(keys...)
}

// limit returns the cap for key in guildID and whether one applies.
func (s *Store) limit(ctx context.Context, guildID, key string) (int, bool, error) {
	limits := s.limits.Default
	g, err := s.Guilds.Get(ctx, guildID)
	if err != nil {
		return 0, false, err
	}
	if g != nil && g.IsPremium(time.Now()) && s.limits.Premium != nil {
		limits = s.limits.Premium
	}
	n, ok := limits[key]
	return n, ok, nil
}

type cache struct {
	c   *ristretto.Cache[string, any]
	ttl time.Duration
}

func newCache(ttl time.Duration) (*cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters: 100_000,
		MaxCost:     10_000,
		BufferItems: 64,

		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &cache{c: c, ttl: ttl}, nil
}

func (c *cache) get(key string) (any, bool) {
	return c.c.Get(key)
}

func (c *cache) set(key string, v any) {
	c.c.SetWithTTL(key, v, 1, c.ttl)
	c.c.Wait()
}

func (c *cache) del(keys ...string) {
	for _, k := range keys {
		c.c.Del(k)
	}
}

// cachedOne fronts load with the TTL cache. Transactions bypass the cache
// so they always read their own writes.
func cachedOne[T any](s *Store, key string, load func() (*T, error)) (*T, error) {
	if !s.inTx() {
		if v, ok := s.cache.get(key); ok {
			if t, ok := v.(T); ok {
				return &t, nil
			}
		}
	}
	v, err := load()
	if err != nil || v == nil {
		return v, err
	}
	if !s.inTx() {
		s.cache.set(key, *v)
	}
	return v, nil
}

func cachedMany[T any](s *Store, key string, load func() ([]T, error)) ([]T, error) {
	if !s.inTx() {
		if v, ok := s.cache.get(key); ok {
			if t, ok := v.([]T); ok {
				return slices.Clone(t), nil
			}
		}
	}
	v, err := load()
	if err != nil {
		return nil, err
	}
	if !s.inTx() {
		s.cache.set(key, slices.Clone(v))
	}
	return v, nil
}

func guildKey(id string) string       { return "guild:" + id }
func starboardKey(id string) string   { return "starboard:" + id }
func starboardsKey(gid string) string { return "starboards:" + gid }
func ascKey(id string) string         { return "asc:" + id }
func ascsKey(gid string) string       { return "ascs:" + gid }
