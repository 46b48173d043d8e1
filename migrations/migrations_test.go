package migrations

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func TestLoadEmbedded(t *testing.T) {
	all, err := Load()
	require.NoError(t, err)
	require.NotEmpty(t, all)
	require.Equal(t, 1, all[0].Version)
	require.Contains(t, all[0].SQL, "approval_requests_pending_quote_key")
}

func TestLoadOrdersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"0010_later.sql": {Data: []byte("SELECT 10;")},
		"0002_next.sql":  {Data: []byte("SELECT 2;")},
		"README.md":      {Data: []byte("ignored")},
	}
	all, err := load(fsys)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, 2, all[0].Version)
	require.Equal(t, 10, all[1].Version)
}

func TestLoadRejectsBadNames(t *testing.T) {
	_, err := load(fstest.MapFS{"init.sql": {Data: []byte("SELECT 1;")}})
	require.Error(t, err)

	_, err = load(fstest.MapFS{"abc_init.sql": {Data: []byte("SELECT 1;")}})
	require.Error(t, err)

	_, err = load(fstest.MapFS{
		"0001_a.sql": {Data: []byte("SELECT 1;")},
		"01_b.sql":   {Data: []byte("SELECT 1;")},
	})
	require.ErrorContains(t, err, "version 1")
}
