package db_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/apnisec/npmguard/pkg/db"
	"github.com/apnisec/npmguard/pkg/types"
)

func TestPath(t *testing.T) {
	assert.Equal(t, filepath.Join("cache", "db", "npmguard.db"), db.Path("cache"))
}

func TestDB_PutRules(t *testing.T) {
	store, err := db.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	empty, err := store.IsEmpty()
	require.NoError(t, err)
	assert.True(t, empty)

	rules := []types.VulnerabilityRule{
		{PackageName: "ws", Range: ">=8.0.0 <8.17.1", Severity: types.SeverityHigh, ID: "CVE-2024-37890"},
		{PackageName: "ws", Range: ">=7.0.0 <7.4.6", Severity: types.SeverityHigh, ID: "CVE-2021-32640"},
	}
	err = store.BatchUpdate(func(tx *bolt.Tx) error {
		return store.PutRules(tx, "ws", rules)
	})
	require.NoError(t, err)

	empty, err = store.IsEmpty()
	require.NoError(t, err)
	assert.False(t, empty)

	var got map[string][]types.VulnerabilityRule
	err = store.ForEachRules(func(pkgName string, rules []types.VulnerabilityRule) error {
		if got == nil {
			got = map[string][]types.VulnerabilityRule{}
		}
		got[pkgName] = rules
		return nil
	})
	require.NoError(t, err)

	// The list round-trips as a unit, so rule order is preserved.
	assert.Equal(t, map[string][]types.VulnerabilityRule{"ws": rules}, got)
}

func TestDB_Metadata(t *testing.T) {
	store, err := db.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	// Absent metadata reads back as the zero value.
	meta, err := store.GetMetadata()
	require.NoError(t, err)
	assert.Equal(t, db.Metadata{}, meta)

	want := db.Metadata{
		Version:  db.SchemaVersion,
		SeededAt: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.SetMetadata(want))

	meta, err = store.GetMetadata()
	require.NoError(t, err)
	assert.Equal(t, want, meta)
}
