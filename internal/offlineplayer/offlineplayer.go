// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package offlineplayer implements C9: sequential playback of a
// pre-baked manifest when the online path is unhealthy.
package offlineplayer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rapidaai/tourguide/internal/audiooutput"
	"github.com/rapidaai/tourguide/internal/commons"
	"github.com/rapidaai/tourguide/internal/transport"
	"github.com/rapidaai/tourguide/pkg/types"
)

// ManifestItem is one playable entry.
type ManifestItem struct {
	ID       string
	StopID   string
	StopName string
	AudioURL string
}

// Manifest is the `{title, items}` shape the offline script takes.
type Manifest struct {
	Title string
	Items []ManifestItem
}

// AudioFetcher retrieves a finished audio buffer for a manifest item's
// URL. Deliberately narrow (rather than reusing ttsqueue.AudioFetcher)
// so this package stays independent of the TTS pipeline; the same
// resty-backed production fetcher satisfies both structurally.
type AudioFetcher interface {
	FetchBuffer(ctx context.Context, url string) ([]byte, error)
}

// Player plays a manifest's items sequentially via AudioOutput's
// finished-buffer path. A single generation token guards cancellation:
// Stop bumps it, which causes the active run loop to break after the
// item it is currently on.
type Player struct {
	logger    commons.Logger
	client    *transport.Client
	fetcher   AudioFetcher
	sink      audiooutput.Sink
	playerCfg audiooutput.PlayerConfig
	clientID  string
	clock     func() time.Time

	mu       sync.Mutex
	token    int64
	playing  bool
	manifest *Manifest
}

func New(logger commons.Logger, client *transport.Client, fetcher AudioFetcher, sink audiooutput.Sink, playerCfg audiooutput.PlayerConfig, clientID string, clock func() time.Time) *Player {
	if clock == nil {
		clock = time.Now
	}
	return &Player{logger: logger, client: client, fetcher: fetcher, sink: sink, playerCfg: playerCfg, clientID: clientID, clock: clock}
}

// IsPlaying reports whether a manifest is currently being played.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Start loads the manifest and begins sequential playback asynchronously.
func (p *Player) Start(ctx context.Context) error {
	resp, err := p.client.OfflineManifest(ctx)
	if err != nil {
		return fmt.Errorf("offlineplayer: load manifest: %w", err)
	}
	manifest := fromDTO(resp)

	p.mu.Lock()
	p.token++
	token := p.token
	p.playing = true
	p.manifest = &manifest
	p.mu.Unlock()

	p.emit(ctx, "offline_play_start", map[string]interface{}{"title": manifest.Title, "item_count": len(manifest.Items)})
	go p.run(ctx, token, manifest)
	return nil
}

func fromDTO(resp *transport.OfflineManifestResponse) Manifest {
	items := make([]ManifestItem, len(resp.Items))
	for i, it := range resp.Items {
		items[i] = ManifestItem{ID: it.ID, StopID: it.StopID, StopName: it.StopName, AudioURL: it.AudioURL}
	}
	return Manifest{Title: resp.Title, Items: items}
}

// Stop bumps the cancellation token and stops the sink immediately.
func (p *Player) Stop() {
	p.mu.Lock()
	if !p.playing {
		p.mu.Unlock()
		return
	}
	p.token++
	p.playing = false
	p.mu.Unlock()

	p.sink.Stop()
	p.emit(context.Background(), "offline_play_cancelled", nil)
}

func (p *Player) isCurrent(token int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing && p.token == token
}

func (p *Player) run(ctx context.Context, token int64, manifest Manifest) {
	for _, item := range manifest.Items {
		if !p.isCurrent(token) {
			return
		}

		p.emit(ctx, "offline_item_start", map[string]interface{}{"id": item.ID, "stop_id": item.StopID, "stop_name": item.StopName})

		if err := p.playItem(ctx, item); err != nil {
			p.logger.Warnw("offlineplayer: item failed", "id", item.ID, "err", err.Error())
			p.emit(ctx, "offline_item_failed", map[string]interface{}{"id": item.ID, "err": err.Error()})
			continue
		}

		if !p.isCurrent(token) {
			return
		}
		p.emit(ctx, "offline_item_end", map[string]interface{}{"id": item.ID})
	}

	if p.isCurrent(token) {
		p.mu.Lock()
		p.playing = false
		p.mu.Unlock()
		p.emit(ctx, "offline_play_end", map[string]interface{}{"title": manifest.Title})
	}
}

func (p *Player) playItem(ctx context.Context, item ManifestItem) error {
	buf, err := p.fetcher.FetchBuffer(ctx, item.AudioURL)
	if err != nil {
		return fmt.Errorf("offlineplayer: fetch audio: %w", err)
	}
	player := audiooutput.NewPlayer(p.sink, p.logger, p.playerCfg)
	return player.PlayFinishedBuffer(buf)
}

func (p *Player) emit(ctx context.Context, name string, fields map[string]interface{}) {
	p.client.EmitClientEvent(ctx, types.NewClientEvent(p.clientID, name, fields, p.clock()))
}
