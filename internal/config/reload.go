// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/ManuGH/farmgw/internal/log"
)

// CredentialsHolder holds the credentials document with atomic reloading.
// It provides thread-safe access and supports hot reloading when the file
// changes on disk (operator edits, or the tunnel persisting a new base URL).
type CredentialsHolder struct {
	mu      sync.RWMutex
	current Credentials
	path    string
	watcher *fsnotify.Watcher
	logger  zerolog.Logger

	// Reload notifications
	reloadMu        sync.RWMutex
	reloadListeners []chan<- Credentials
}

// NewCredentialsHolder creates a holder seeded with the initial document.
func NewCredentialsHolder(initial Credentials, path string) *CredentialsHolder {
	return &CredentialsHolder{
		current:         initial,
		path:            path,
		logger:          log.WithComponent("config"),
		reloadListeners: make([]chan<- Credentials, 0),
	}
}

// Get returns the current credentials (thread-safe read).
func (h *CredentialsHolder) Get() Credentials {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// SetBaseURL updates the externally reachable base URL, persists the
// document and swaps the in-memory copy in one step. Used by the tunnel
// when it learns its public URL.
func (h *CredentialsHolder) SetBaseURL(baseURL string) error {
	h.mu.Lock()
	updated := h.current
	updated.BaseURL = baseURL
	if err := SaveCredentials(h.path, updated); err != nil {
		h.mu.Unlock()
		return err
	}
	h.current = updated
	h.mu.Unlock()

	h.notifyListeners(updated)
	return nil
}

// Reload re-reads the document from disk and validates it. If validation
// fails the old document is kept and an error is returned, so a half-edited
// file never takes the gateway's identity away.
func (h *CredentialsHolder) Reload(_ context.Context) error {
	h.logger.Info().Str("event", "credentials.reload_start").Msg("reloading credentials")

	newCreds, err := LoadCredentials(h.path)
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("event", "credentials.reload_failed").
			Msg("failed to load new credentials")
		return fmt.Errorf("load credentials: %w", err)
	}

	// Atomically swap
	h.mu.Lock()
	oldCreds := h.current
	h.current = newCreds
	h.mu.Unlock()

	h.notifyListeners(newCreds)
	h.logChanges(oldCreds, newCreds)

	h.logger.Info().
		Str("event", "credentials.reload_success").
		Msg("credentials reloaded successfully")

	return nil
}

// StartWatcher starts watching the credentials file for changes.
func (h *CredentialsHolder) StartWatcher(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	h.watcher = watcher

	if err := watcher.Add(h.path); err != nil {
		_ = watcher.Close() // Ignore close error in error path
		return fmt.Errorf("watch credentials file: %w", err)
	}

	h.logger.Info().
		Str("event", "credentials.watcher_started").
		Str("path", h.path).
		Msg("watching credentials file for changes")

	go h.watchLoop(ctx)

	return nil
}

// watchLoop is the main file watcher loop.
func (h *CredentialsHolder) watchLoop(ctx context.Context) {
	// Debounce timer to avoid multiple reloads for rapid file changes
	var debounceTimer *time.Timer
	debounceDuration := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str("event", "credentials.watcher_stopped").Msg("credentials watcher stopped")
			if h.watcher != nil {
				_ = h.watcher.Close() // Ignore close error in error path
			}
			return

		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}

			// Watch for Write and Create events (covers vim, nano, echo)
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				h.logger.Debug().
					Str("event", "credentials.file_changed").
					Str("op", event.Op.String()).
					Msg("credentials file changed")

				// Debounce: reset timer on each event
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, func() {
					if err := h.Reload(ctx); err != nil {
						h.logger.Error().
							Err(err).
							Str("event", "credentials.auto_reload_failed").
							Msg("automatic credentials reload failed")
					}
				})
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().
				Err(err).
				Str("event", "credentials.watcher_error").
				Msg("credentials watcher error")
		}
	}
}

// Stop stops the watcher (if running).
func (h *CredentialsHolder) Stop() {
	if h.watcher != nil {
		_ = h.watcher.Close() // Ignore close error in error path
	}
}

// RegisterListener registers a channel to receive reload notifications.
// The channel receives the new document whenever a reload succeeds. The
// caller is responsible for closing the channel.
func (h *CredentialsHolder) RegisterListener(ch chan<- Credentials) {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()
	h.reloadListeners = append(h.reloadListeners, ch)
}

// notifyListeners sends the new document to all listeners (non-blocking).
func (h *CredentialsHolder) notifyListeners(newCreds Credentials) {
	h.reloadMu.RLock()
	defer h.reloadMu.RUnlock()

	for _, ch := range h.reloadListeners {
		select {
		case ch <- newCreds:
		default:
			// Skip if channel is full (non-blocking send)
			h.logger.Warn().
				Str("event", "credentials.listener_skip").
				Msg("skipped notifying listener (channel full)")
		}
	}
}

// logChanges logs the differences between old and new credentials.
func (h *CredentialsHolder) logChanges(old, newCreds Credentials) {
	if old.APIKey != newCreds.APIKey {
		h.logger.Info().
			Str("old", MaskKey(old.APIKey)).
			Str("new", MaskKey(newCreds.APIKey)).
			Msg("credentials changed: APIKey")
	}
	if old.GatewayID != newCreds.GatewayID {
		h.logger.Info().
			Str("old", old.GatewayID).
			Str("new", newCreds.GatewayID).
			Msg("credentials changed: GatewayID")
	}
	if old.BaseURL != newCreds.BaseURL {
		h.logger.Info().
			Str("old", old.BaseURL).
			Str("new", newCreds.BaseURL).
			Msg("credentials changed: BaseURL")
	}
}
