package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"roomgraph/internal/common/errors"
	"roomgraph/internal/storage"
)

func newTestAdapter(t *testing.T) (*Adapter, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roomgraph.db")
	a, err := NewAdapter(&Config{DatabasePath: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, path
}

func TestAdapter_SaveListDelete(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	first := &storage.SessionRecord{
		ID:          "s1",
		Source:      "feed.raw",
		Destination: "feed.malware",
		Rule:        "CONTAINS(type=malware)",
		Options:     map[string]string{"owner": "ops"},
		CreatedAt:   now,
	}
	second := &storage.SessionRecord{
		ID:          "s2",
		Source:      "feed.malware",
		Destination: "customer.acme",
		Rule:        "NETBLOCK(10.0.0.0/8)",
		CreatedAt:   now.Add(time.Second),
	}
	require.NoError(t, a.Save(ctx, second))
	require.NoError(t, a.Save(ctx, first))

	records, err := a.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "s1", records[0].ID)
	assert.Equal(t, "CONTAINS(type=malware)", records[0].Rule)
	assert.Equal(t, map[string]string{"owner": "ops"}, records[0].Options)
	assert.True(t, now.Equal(records[0].CreatedAt))
	assert.Empty(t, records[1].Options)

	require.NoError(t, a.Delete(ctx, "s1"))
	require.NoError(t, a.Delete(ctx, "missing"))

	records, err = a.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "s2", records[0].ID)
}

func TestAdapter_SaveReplaces(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()

	rec := &storage.SessionRecord{ID: "s1", Source: "a", Destination: "b", Rule: "CONTAINS()", CreatedAt: time.Now()}
	require.NoError(t, a.Save(ctx, rec))
	rec.Rule = "CONTAINS(type=spam)"
	require.NoError(t, a.Save(ctx, rec))

	records, err := a.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "CONTAINS(type=spam)", records[0].Rule)
}

func TestAdapter_SurvivesReopen(t *testing.T) {
	a, path := newTestAdapter(t)
	ctx := context.Background()
	require.NoError(t, a.Save(ctx, &storage.SessionRecord{ID: "s1", Source: "a", Destination: "b", Rule: "CONTAINS()", CreatedAt: time.Now()}))
	require.NoError(t, a.Close())

	reopened, err := NewAdapter(&Config{DatabasePath: path})
	require.NoError(t, err)
	defer reopened.Close()

	records, err := reopened.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.NoError(t, reopened.Health(ctx))
}

func TestFactory(t *testing.T) {
	registry := storage.NewRegistry()
	registry.Register(Factory{})
	assert.True(t, registry.IsRegistered("sqlite"))

	store, err := registry.Create(&Config{DatabasePath: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	assert.NoError(t, store.Close())

	_, err = NewAdapter(&Config{})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}
