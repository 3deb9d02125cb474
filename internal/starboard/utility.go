package starboard

import (
	"context"
	"slices"

	"github.com/NotiFansly/starboard/internal/apperr"
	"github.com/NotiFansly/starboard/internal/database"
	"github.com/NotiFansly/starboard/internal/models"
	"github.com/NotiFansly/starboard/internal/platform"
)

// Force makes the message mirror on the given starboards regardless of
// points, or on every starboard of the guild when none are given.
func (s *Service) Force(ctx context.Context, guildID, channelID, messageID string, starboardIDs ...string) (*models.Message, error) {
	return s.editForced(ctx, guildID, channelID, messageID, starboardIDs, true)
}

// Unforce reverses Force for the given starboards, or all of them.
func (s *Service) Unforce(ctx context.Context, guildID, channelID, messageID string, starboardIDs ...string) (*models.Message, error) {
	return s.editForced(ctx, guildID, channelID, messageID, starboardIDs, false)
}

func (s *Service) editForced(ctx context.Context, guildID, channelID, messageID string, starboardIDs []string, force bool) (*models.Message, error) {
	msg, err := s.EnsureMessage(ctx, guildID, channelID, messageID)
	if err != nil {
		return nil, err
	}

	targets := starboardIDs
	if len(targets) == 0 {
		boards, err := s.store.Starboards.ForGuild(ctx, guildID)
		if err != nil {
			return nil, err
		}
		for _, sb := range boards {
			targets = append(targets, sb.ID)
		}
	}

	msg, err = s.store.Messages.EditForced(ctx, msg.ID, func(forced []string) []string {
		for _, id := range targets {
			has := slices.Contains(forced, id)
			switch {
			case force && !has:
				forced = append(forced, id)
			case !force && has:
				forced = slices.DeleteFunc(forced, func(f string) bool { return f == id })
			}
		}
		return forced
	})
	if err != nil {
		return nil, err
	}
	return msg, s.Reconcile(ctx, msg.ID, guildID)
}

// Freeze stops or resumes mirror updates for the message.
func (s *Service) Freeze(ctx context.Context, guildID, channelID, messageID string, freeze bool) (*models.Message, error) {
	msg, err := s.EnsureMessage(ctx, guildID, channelID, messageID)
	if err != nil {
		return nil, err
	}
	if msg, err = s.store.Messages.Edit(ctx, msg.ID, database.MessageUpdate{Frozen: database.Some(freeze)}); err != nil {
		return nil, err
	}
	return msg, s.Reconcile(ctx, msg.ID, guildID)
}

// Trash hides the message behind a placeholder on every starboard, or
// restores it. reason is kept only while trashed.
func (s *Service) Trash(ctx context.Context, guildID, channelID, messageID string, trash bool, reason string) (*models.Message, error) {
	msg, err := s.EnsureMessage(ctx, guildID, channelID, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.setTrashed(ctx, msg.ID, trash, reason); err != nil {
		return nil, err
	}
	if err := s.Reconcile(ctx, msg.ID, guildID); err != nil {
		return nil, err
	}
	return s.store.Messages.Get(ctx, msg.ID)
}

func (s *Service) setTrashed(ctx context.Context, messageID string, trash bool, reason string) error {
	u := database.MessageUpdate{Trashed: database.Some(trash)}
	if trash && reason != "" {
		u.TrashReason = database.Some(&reason)
	} else {
		u.TrashReason = database.Some[*string](nil)
	}
	_, err := s.store.Messages.Edit(ctx, messageID, u)
	return err
}

// Recount re-reads the platform reactions of every star emoji on the
// original, records the votes of non-bot users and reconciles.
func (s *Service) Recount(ctx context.Context, guildID, channelID, messageID string) (*models.Message, error) {
	msg, err := s.EnsureMessage(ctx, guildID, channelID, messageID)
	if err != nil {
		return nil, err
	}
	boards, err := s.store.Starboards.ForGuild(ctx, guildID)
	if err != nil {
		return nil, err
	}

	var emojis []string
	for _, sb := range boards {
		for _, e := range sb.StarEmojis {
			if !slices.Contains(emojis, e) {
				emojis = append(emojis, e)
			}
		}
	}

	for _, e := range emojis {
		users, err := s.client.ReactionUsers(ctx, msg.ChannelID, msg.ID, platform.APIEmoji(e))
		switch {
		case apperr.IsNotFound(err):
			return nil, apperr.New(apperr.Input, "That message no longer exists.")
		case err != nil:
			return nil, err
		}
		for _, u := range users {
			if u.Bot {
				continue
			}
			if _, err := s.store.Users.Ensure(ctx, u.ID, false); err != nil {
				return nil, err
			}
			if _, err := s.store.Members.Ensure(ctx, u.ID, guildID); err != nil {
				return nil, err
			}
			if _, err := s.store.Reactions.Add(ctx, msg.ID, e, u.ID); err != nil {
				return nil, err
			}
		}
	}

	if err := s.Reconcile(ctx, msg.ID, guildID); err != nil {
		return nil, err
	}
	return s.store.Messages.Get(ctx, msg.ID)
}
