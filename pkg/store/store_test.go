package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/adminsync/pkg/constants"
	"github.com/storefront/adminsync/pkg/models"
)

func ids(list []models.Category) []string {
	out := make([]string, 0, len(list))
	for _, c := range list {
		out = append(out, c.ID)
	}
	return out
}

func seeded(t *testing.T) *Store[models.Category] {
	t.Helper()
	s := New[models.Category]()
	s.Load([]models.Category{
		{ID: "cat-1", Name: "Shoes"},
		{ID: "cat-2", Name: "Bags"},
		{ID: "cat-3", Name: "Hats"},
	})
	return s
}

func TestStoreApply(t *testing.T) {
	t.Run("insert appends", func(t *testing.T) {
		s := seeded(t)
		require.NoError(t, s.Apply(Insert(models.Category{ID: "cat-4", Name: "Belts"})))
		assert.Equal(t, []string{"cat-1", "cat-2", "cat-3", "cat-4"}, ids(s.List()))
	})

	t.Run("insert duplicate", func(t *testing.T) {
		s := seeded(t)
		err := s.Apply(Insert(models.Category{ID: "cat-2"}))
		require.ErrorIs(t, err, constants.ErrIDInUse)
		got, _ := s.Get("cat-2")
		assert.Equal(t, "Bags", got.Name)
	})

	t.Run("insert without id", func(t *testing.T) {
		s := seeded(t)
		require.Error(t, s.Apply(Insert(models.Category{Name: "Nameless"})))
		assert.Equal(t, 3, s.Len())
	})

	t.Run("replace keeps slot", func(t *testing.T) {
		s := seeded(t)
		require.NoError(t, s.Apply(Replace("cat-2", models.Category{ID: "cat-2", Name: "Totes"})))
		got, ok := s.Get("cat-2")
		require.True(t, ok)
		assert.Equal(t, "Totes", got.Name)
		assert.Equal(t, []string{"cat-1", "cat-2", "cat-3"}, ids(s.List()))
	})

	t.Run("replace re-keys in place", func(t *testing.T) {
		s := seeded(t)
		require.NoError(t, s.Apply(Replace("cat-2", models.Category{ID: "cat-9", Name: "Bags"})))
		_, ok := s.Get("cat-2")
		assert.False(t, ok)
		assert.Equal(t, []string{"cat-1", "cat-9", "cat-3"}, ids(s.List()))
	})

	t.Run("replace onto existing id", func(t *testing.T) {
		s := seeded(t)
		err := s.Apply(Replace("cat-2", models.Category{ID: "cat-3"}))
		require.ErrorIs(t, err, constants.ErrIDInUse)
		assert.Equal(t, []string{"cat-1", "cat-2", "cat-3"}, ids(s.List()))
	})

	t.Run("replace missing", func(t *testing.T) {
		s := seeded(t)
		require.ErrorIs(t, s.Apply(Replace("cat-8", models.Category{ID: "cat-8"})), constants.ErrNotFound)
	})

	t.Run("remove", func(t *testing.T) {
		s := seeded(t)
		require.NoError(t, s.Apply(Remove[models.Category]("cat-1")))
		assert.Equal(t, []string{"cat-2", "cat-3"}, ids(s.List()))
		require.ErrorIs(t, s.Apply(Remove[models.Category]("cat-1")), constants.ErrNotFound)
	})
}

func TestStoreRevision(t *testing.T) {
	s := seeded(t)

	before, ok := s.Revision("cat-1")
	require.True(t, ok)

	require.NoError(t, s.Apply(Replace("cat-2", models.Category{ID: "cat-2", Name: "x"})))
	unchanged, _ := s.Revision("cat-1")
	assert.Equal(t, before, unchanged, "writes to other entries must not touch the stamp")

	require.NoError(t, s.Apply(Replace("cat-1", models.Category{ID: "cat-1", Name: "y"})))
	after, _ := s.Revision("cat-1")
	assert.Greater(t, after, before)

	_, ok = s.Revision("missing")
	assert.False(t, ok)
}

func TestSnapshotRestore(t *testing.T) {
	t.Run("restore replaced value", func(t *testing.T) {
		s := seeded(t)
		before, _ := s.Get("cat-2")
		snap := s.SnapshotOf("cat-2")

		require.NoError(t, s.Apply(Replace("cat-2", models.Category{ID: "cat-2", Name: "Changed", ProductCount: 9})))
		s.Restore(snap)

		after, ok := s.Get("cat-2")
		require.True(t, ok)
		assert.Equal(t, before, after)
	})

	t.Run("restore removed entry into its slot", func(t *testing.T) {
		s := seeded(t)
		snap := s.SnapshotOf("cat-2")
		v, present := snap.Value()
		require.True(t, present)
		assert.Equal(t, "Bags", v.Name)

		require.NoError(t, s.Apply(Remove[models.Category]("cat-2")))
		s.Restore(snap)

		assert.Equal(t, []string{"cat-1", "cat-2", "cat-3"}, ids(s.List()))
	})

	t.Run("restore absence removes entry", func(t *testing.T) {
		s := seeded(t)
		snap := s.SnapshotOf("tmp-1")
		_, present := snap.Value()
		require.False(t, present)
		assert.Equal(t, "tmp-1", snap.ID())

		require.NoError(t, s.Apply(Insert(models.Category{ID: "tmp-1", Name: "Outdoor"})))
		s.Restore(snap)

		_, ok := s.Get("tmp-1")
		assert.False(t, ok)
		assert.Equal(t, 3, s.Len())
	})

	t.Run("restore absence of missing entry is a no-op", func(t *testing.T) {
		s := seeded(t)
		calls := 0
		s.Subscribe(func([]models.Category) { calls++ })

		s.Restore(s.SnapshotOf("nope"))
		assert.Equal(t, 0, calls)
	})
}

func TestStoreSubscribe(t *testing.T) {
	s := seeded(t)

	var got [][]string
	unsubscribe := s.Subscribe(func(list []models.Category) {
		got = append(got, ids(list))
	})

	require.NoError(t, s.Apply(Remove[models.Category]("cat-3")))
	require.Len(t, got, 1)
	assert.Equal(t, []string{"cat-1", "cat-2"}, got[0])

	t.Run("hold batches notifications", func(t *testing.T) {
		s.Hold()
		require.NoError(t, s.Apply(Insert(models.Category{ID: "cat-5"})))
		require.NoError(t, s.Apply(Insert(models.Category{ID: "cat-6"})))
		assert.Len(t, got, 1)
		s.Release()
		require.Len(t, got, 2)
		assert.Equal(t, []string{"cat-1", "cat-2", "cat-5", "cat-6"}, got[1])
	})

	t.Run("failed writes do not notify", func(t *testing.T) {
		require.Error(t, s.Apply(Remove[models.Category]("missing")))
		assert.Len(t, got, 2)
	})

	unsubscribe()
	unsubscribe()
	require.NoError(t, s.Apply(Remove[models.Category]("cat-1")))
	assert.Len(t, got, 2)
}

func TestStoreLoadDuplicates(t *testing.T) {
	s := New[models.Category]()
	s.Load([]models.Category{
		{ID: "a", Name: "first"},
		{ID: "b"},
		{ID: "a", Name: "second"},
		{Name: "no id"},
	})

	assert.Equal(t, []string{"a", "b"}, ids(s.List()))
	got, _ := s.Get("a")
	assert.Equal(t, "second", got.Name)
}
