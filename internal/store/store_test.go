// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/tourguide/internal/commons"
	"github.com/rapidaai/tourguide/pkg/types"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	s, err := Open(":memory:", commons.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetSet_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v, err := s.Get(ctx, KeyTourZone)
	require.NoError(t, err)
	assert.Equal(t, "", v)

	require.NoError(t, s.Set(ctx, KeyTourZone, "north-wing"))

	v, err = s.Get(ctx, KeyTourZone)
	require.NoError(t, err)
	assert.Equal(t, "north-wing", v)
}

func TestSet_OverwritesExistingKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, KeySpeakerName, "Alice"))
	require.NoError(t, s.Set(ctx, KeySpeakerName, "Bob"))

	v, err := s.Get(ctx, KeySpeakerName)
	require.NoError(t, err)
	assert.Equal(t, "Bob", v)
}

func TestSaveAndLoadSettings_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	in := &types.PersistedSettings{
		GuideEnabled:          true,
		ContinuousTour:        true,
		GuideDuration:         45.5,
		GuideStyle:            "concise",
		TourZone:              "east-wing",
		AudienceProfile:       "kids",
		GroupMode:             true,
		SpeakerName:           "Alice",
		TourSelectedStopIndex: 3,
		ClientID:              "client-1",
		TourState: types.TourState{
			Mode:      types.TourModeRunning,
			StopIndex: 2,
			StopName:  "Dinosaur Hall",
		},
	}

	require.NoError(t, s.SaveSettings(ctx, in))

	out, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, *in, *out)
}

func TestLoadSettings_EmptyStoreReturnsZeroValues(t *testing.T) {
	s := openTestStore(t)
	out, err := s.LoadSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.TourState{}, out.TourState)
	assert.Equal(t, "", out.ClientID)
}

func TestTourState_RoundTripAndDefaultsToIdleAtNegativeOne(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	state, err := s.LoadTourState(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.TourModeIdle, state.Mode)
	assert.Equal(t, -1, state.StopIndex)

	state.Mode = types.TourModeInterrupted
	state.StopIndex = 5
	state.LastAnswerTail = "...and that concludes this stop."
	require.NoError(t, s.SaveTourState(ctx, state))

	reloaded, err := s.LoadTourState(ctx)
	require.NoError(t, err)
	assert.Equal(t, *state, *reloaded)
}
