// Package dbtest opens throwaway in-memory stores for tests.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/NotiFansly/starboard/internal/database"
)

// New returns a migrated store backed by a private in-memory SQLite database.
func New(t testing.TB) *database.Store {
	return NewWithLimits(t, database.Limits{})
}

func NewWithLimits(t testing.TB, limits database.Limits) *database.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := database.Open("sqlite", dsn, nil)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })

	store, err := database.New(db, limits)
	require.NoError(t, err)
	return store
}
