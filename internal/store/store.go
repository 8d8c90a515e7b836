// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package store implements the small, locally-persistent key/value store
// holding settings like guideEnabled, continuousTour, and tourStateV1,
// generalizing internal/callcontext/store.go's GORM-backed Store
// interface from a Postgres-backed server table to an embedded SQLite
// file appropriate for a client-only process. Values are text: booleans,
// numbers and the tour state are JSON-encoded, string settings are
// stored as-is — no binary formats.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rapidaai/tourguide/internal/commons"
	"github.com/rapidaai/tourguide/pkg/types"
)

// Known keys of the persisted key/value store.
const (
	KeyGuideEnabled          = "guideEnabled"
	KeyContinuousTour        = "continuousTour"
	KeyGuideDuration         = "guideDuration"
	KeyGuideStyle            = "guideStyle"
	KeyTourZone              = "tourZone"
	KeyAudienceProfile       = "audienceProfile"
	KeyGroupMode             = "groupMode"
	KeySpeakerName           = "speakerName"
	KeyTourSelectedStopIndex = "tourSelectedStopIndex"
	KeyClientID              = "clientId"
	KeyTourStateV1           = "tourStateV1"
)

// kvRow is the single table backing the whole key/value store.
type kvRow struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

func (kvRow) TableName() string { return "settings" }

// Store provides typed get/set operations over the persisted key/value
// store. Every value is text (see the package doc) — no binary formats.
type Store interface {
	// Get returns the stored text for key, or "" if unset.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value as-is for key.
	Set(ctx context.Context, key, value string) error

	// LoadSettings reads every known key into a typed PersistedSettings,
	// leaving Go zero values for keys that have never been set.
	LoadSettings(ctx context.Context) (*types.PersistedSettings, error)
	// SaveSettings persists every field of settings as its own key.
	SaveSettings(ctx context.Context, settings *types.PersistedSettings) error

	// LoadTourState/SaveTourState operate on the single "tourStateV1" key.
	LoadTourState(ctx context.Context) (*types.TourState, error)
	SaveTourState(ctx context.Context, state *types.TourState) error

	Close() error
}

type sqliteStore struct {
	db     *gorm.DB
	logger commons.Logger
}

// Open opens (creating if necessary) the SQLite-backed key/value store at
// dsn, e.g. "tourguide.sqlite" or ":memory:" for tests.
func Open(dsn string, log commons.Logger) (Store, error) {
	if log == nil {
		log = commons.NewNopLogger()
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open settings store %s: %w", dsn, err)
	}
	if err := db.AutoMigrate(&kvRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate settings store: %w", err)
	}
	return &sqliteStore{db: db, logger: log}, nil
}

func (s *sqliteStore) Get(ctx context.Context, key string) (string, error) {
	var row kvRow
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return row.Value, nil
}

func (s *sqliteStore) Set(ctx context.Context, key, value string) error {
	row := kvRow{Key: key, Value: value}
	err := s.db.WithContext(ctx).Save(&row).Error
	if err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	s.logger.Debugf("persisted setting: key=%s", key)
	return nil
}

func (s *sqliteStore) LoadSettings(ctx context.Context) (*types.PersistedSettings, error) {
	var rows []kvRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	values := make(map[string]string, len(rows))
	for _, r := range rows {
		values[r.Key] = r.Value
	}

	settings := &types.PersistedSettings{}
	jsonInto(values[KeyGuideEnabled], &settings.GuideEnabled)
	jsonInto(values[KeyContinuousTour], &settings.ContinuousTour)
	jsonInto(values[KeyGuideDuration], &settings.GuideDuration)
	settings.GuideStyle = values[KeyGuideStyle]
	settings.TourZone = values[KeyTourZone]
	settings.AudienceProfile = values[KeyAudienceProfile]
	jsonInto(values[KeyGroupMode], &settings.GroupMode)
	settings.SpeakerName = values[KeySpeakerName]
	jsonInto(values[KeyTourSelectedStopIndex], &settings.TourSelectedStopIndex)
	settings.ClientID = values[KeyClientID]
	if raw, ok := values[KeyTourStateV1]; ok && raw != "" {
		var state types.TourState
		if err := json.Unmarshal([]byte(raw), &state); err == nil {
			settings.TourState = state
		}
	}
	return settings, nil
}

func (s *sqliteStore) SaveSettings(ctx context.Context, settings *types.PersistedSettings) error {
	pairs := map[string]string{
		KeyGuideEnabled:          jsonString(settings.GuideEnabled),
		KeyContinuousTour:        jsonString(settings.ContinuousTour),
		KeyGuideDuration:         jsonString(settings.GuideDuration),
		KeyGuideStyle:            settings.GuideStyle,
		KeyTourZone:              settings.TourZone,
		KeyAudienceProfile:       settings.AudienceProfile,
		KeyGroupMode:             jsonString(settings.GroupMode),
		KeySpeakerName:           settings.SpeakerName,
		KeyTourSelectedStopIndex: jsonString(settings.TourSelectedStopIndex),
		KeyClientID:              settings.ClientID,
	}
	for k, v := range pairs {
		if err := s.Set(ctx, k, v); err != nil {
			return err
		}
	}
	return s.SaveTourState(ctx, &settings.TourState)
}

func (s *sqliteStore) LoadTourState(ctx context.Context) (*types.TourState, error) {
	raw, err := s.Get(ctx, KeyTourStateV1)
	if err != nil {
		return nil, err
	}
	state := &types.TourState{StopIndex: -1, Mode: types.TourModeIdle}
	if raw == "" {
		return state, nil
	}
	if err := json.Unmarshal([]byte(raw), state); err != nil {
		return nil, fmt.Errorf("failed to decode tourStateV1: %w", err)
	}
	return state, nil
}

func (s *sqliteStore) SaveTourState(ctx context.Context, state *types.TourState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode tourStateV1: %w", err)
	}
	return s.Set(ctx, KeyTourStateV1, string(raw))
}

func (s *sqliteStore) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

func jsonString(v interface{}) string {
	raw, _ := json.Marshal(v)
	return string(raw)
}

func jsonInto(raw string, dst interface{}) {
	if raw == "" {
		return
	}
	_ = json.Unmarshal([]byte(raw), dst)
}
