// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package artifacts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type checkpointDoc struct {
	Stage int       `json:"stage"`
	Phi   float64   `json:"phi"`
	Means []float64 `json:"means"`
}

func openTestStore(t *testing.T) *RunStore {
	t.Helper()
	store, err := OpenStore(InMemoryStoreConfig())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenStore_RequiresPath(t *testing.T) {
	_, err := OpenStore(StoreConfig{})
	assert.Error(t, err, "persistent store needs a path")
}

func TestOpenStore_Persistent(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(DefaultStoreConfig(dir))
	require.NoError(t, err)
	require.NoError(t, store.SaveResult("run-a", map[string]int{"stages": 5}))
	require.NoError(t, store.Close())

	// Reopen: the data survived.
	store, err = OpenStore(DefaultStoreConfig(dir))
	require.NoError(t, err)
	defer store.Close()

	var got map[string]int
	require.NoError(t, store.LoadResult("run-a", &got))
	assert.Equal(t, 5, got["stages"])
}

func TestRunStore_CheckpointRoundTrip(t *testing.T) {
	store := openTestStore(t)

	want := checkpointDoc{Stage: 3, Phi: 0.25, Means: []float64{0.6, 0.4, 1}}
	require.NoError(t, store.SaveCheckpoint("run-1", 3, want))

	var got checkpointDoc
	require.NoError(t, store.LoadCheckpoint("run-1", 3, &got))
	assert.Equal(t, want, got)
}

func TestRunStore_LoadMissingCheckpoint(t *testing.T) {
	store := openTestStore(t)

	var got checkpointDoc
	err := store.LoadCheckpoint("run-1", 7, &got)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunStore_LoadMissingResult(t *testing.T) {
	store := openTestStore(t)

	var got map[string]any
	err := store.LoadResult("nope", &got)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunStore_ListStages(t *testing.T) {
	store := openTestStore(t)

	for _, stage := range []int{4, 1, 12} {
		require.NoError(t, store.SaveCheckpoint("run-1", stage, checkpointDoc{Stage: stage}))
	}
	// Another run's stages must not bleed in.
	require.NoError(t, store.SaveCheckpoint("run-2", 9, checkpointDoc{Stage: 9}))

	stages, err := store.ListStages("run-1")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4, 12}, stages)

	stages, err = store.ListStages("unknown")
	require.NoError(t, err)
	assert.Empty(t, stages)
}

func TestRunStore_ListRuns(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.SaveCheckpoint("bravo", 1, checkpointDoc{}))
	require.NoError(t, store.SaveResult("alpha", map[string]int{}))
	require.NoError(t, store.SaveResult("bravo", map[string]int{}))

	runs, err := store.ListRuns()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "bravo"}, runs)
}

func TestRunStore_RejectsSlashRunID(t *testing.T) {
	store := openTestStore(t)

	err := store.SaveCheckpoint("run/evil", 1, checkpointDoc{})
	require.ErrorIs(t, err, ErrInvalidRunID)
	err = store.SaveResult("a/b", map[string]int{})
	require.ErrorIs(t, err, ErrInvalidRunID)
	err = store.SaveResult("", map[string]int{})
	require.ErrorIs(t, err, ErrInvalidRunID)

	// A slash-bearing ID must not leave fragments behind that would
	// corrupt run enumeration.
	runs, err := store.ListRuns()
	require.NoError(t, err)
	assert.Empty(t, runs)
}
