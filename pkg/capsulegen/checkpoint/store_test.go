package checkpoint

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactories builds each Store implementation against a fresh backend.
func storeFactories(t *testing.T) map[string]func() Store {
	t.Helper()
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"sqlite": func() Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
			require.NoError(t, err)
			return s
		},
	}
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			defer s.Close()
			ctx := context.Background()

			require.NoError(t, s.Save(ctx, "run-1", []byte(`{"a":1}`)))

			got, err := s.Load(ctx, "run-1")
			require.NoError(t, err)
			assert.JSONEq(t, `{"a":1}`, string(got))
		})
	}
}

func TestStoreSaveReplacesPrevious(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			defer s.Close()
			ctx := context.Background()

			require.NoError(t, s.Save(ctx, "run-1", []byte(`{"step":1}`)))
			require.NoError(t, s.Save(ctx, "run-1", []byte(`{"step":2}`)))

			got, err := s.Load(ctx, "run-1")
			require.NoError(t, err)
			assert.JSONEq(t, `{"step":2}`, string(got))

			infos, err := s.List(ctx)
			require.NoError(t, err)
			assert.Len(t, infos, 1)
		})
	}
}

func TestStoreLoadMissing(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			defer s.Close()

			_, err := s.Load(context.Background(), "nope")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreDelete(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			defer s.Close()
			ctx := context.Background()

			require.NoError(t, s.Save(ctx, "run-1", []byte(`{}`)))
			require.NoError(t, s.Delete(ctx, "run-1"))

			_, err := s.Load(ctx, "run-1")
			assert.ErrorIs(t, err, ErrNotFound)

			// Deleting again is not an error.
			assert.NoError(t, s.Delete(ctx, "run-1"))
		})
	}
}

func TestStoreList(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			defer s.Close()
			ctx := context.Background()

			require.NoError(t, s.Save(ctx, "run-a", []byte(`{"x":1}`)))
			require.NoError(t, s.Save(ctx, "run-b", []byte(`{"x":22}`)))

			infos, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, infos, 2)
			for _, info := range infos {
				assert.NotZero(t, info.SavedAt)
				assert.Positive(t, info.Size)
			}
		})
	}
}

func TestStoreClosed(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			require.NoError(t, s.Close())
			ctx := context.Background()

			assert.ErrorIs(t, s.Save(ctx, "r", []byte(`{}`)), ErrStoreClosed)
			_, err := s.Load(ctx, "r")
			assert.ErrorIs(t, err, ErrStoreClosed)
		})
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	type state struct {
		Stage  string `json:"stage"`
		Module int    `json:"module"`
	}

	data, err := Seal("run-1", state{Stage: "lesson_plan", Module: 2})
	require.NoError(t, err)

	snap, err := Open(data)
	require.NoError(t, err)
	assert.Equal(t, Version, snap.Version)
	assert.Equal(t, "run-1", snap.RunID)
	assert.False(t, snap.SavedAt.IsZero())

	var got state
	require.NoError(t, json.Unmarshal(snap.State, &got))
	assert.Equal(t, state{Stage: "lesson_plan", Module: 2}, got)
}

func TestOpenVersionMismatch(t *testing.T) {
	data := []byte(`{"version":99,"run_id":"r","state":{}}`)
	_, err := Open(data)
	assert.ErrorIs(t, err, ErrVersionMismatch)
}

func TestOpenGarbage(t *testing.T) {
	_, err := Open([]byte("not json"))
	assert.Error(t, err)
}
