// Marquee - Hero Showcase Engine for Personal Media Libraries
// Copyright 2026 Marquee Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marqueelabs/marquee

package heropool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		input   string
		want    Kind
		wantErr bool
	}{
		{input: "movies", want: KindMovies},
		{input: "movie", want: KindMovies},
		{input: "Film", want: KindMovies},
		{input: " FILMS ", want: KindMovies},
		{input: "series", want: KindSeries},
		{input: "show", want: KindSeries},
		{input: "Shows", want: KindSeries},
		{input: "tv", want: KindSeries},
		{input: "music", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseKind(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKindTextRoundTrip(t *testing.T) {
	for _, kind := range Kinds() {
		text, err := kind.MarshalText()
		require.NoError(t, err)

		var parsed Kind
		require.NoError(t, parsed.UnmarshalText(text))
		assert.Equal(t, kind, parsed)
	}
}

func TestSeedsDifferPerDayAndKind(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	assert.NotEqual(t, allocationSeed(now, KindMovies), allocationSeed(now, KindSeries))
	assert.NotEqual(t, allocationSeed(now, KindMovies), allocationSeed(now.AddDate(0, 0, 1), KindMovies))
	assert.Equal(t, allocationSeed(now, KindMovies), allocationSeed(now.Add(5*time.Hour), KindMovies),
		"seed is stable within a UTC day")

	updated := now.Add(-2 * time.Hour)
	assert.Equal(t, rotationSeed(now, updated, KindMovies), rotationSeed(now.Add(time.Hour), updated, KindMovies))
	assert.NotEqual(t, rotationSeed(now, updated, KindMovies), rotationSeed(now, updated.AddDate(0, 0, -3), KindMovies),
		"a pool refreshed on a different day starts elsewhere")
}

func TestPoolResultClone(t *testing.T) {
	original := &PoolResult{
		Kind: KindMovies,
		Items: []PoolEntry{
			{PoolID: "heat-1", Slot: SlotNew},
		},
		SlotSummary: map[string]int{SlotNew: 1},
	}

	cp := original.Clone()
	cp.Items[0].PoolID = "mutated"
	cp.SlotSummary[SlotNew] = 99

	assert.Equal(t, "heat-1", original.Items[0].PoolID)
	assert.Equal(t, 1, original.SlotSummary[SlotNew])

	var nilResult *PoolResult
	assert.Nil(t, nilResult.Clone())
	assert.Nil(t, nilResult.PoolIDs())
}

func TestPipelineStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "loading", StateLoading.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "stale", StateStale.String())
	assert.Equal(t, "error", StateError.String())
	assert.Equal(t, "disabled", StateDisabled.String())
}
