// Package control reads the externally-mutated pause/kill signal of
// spec.md §4.12 from a durable artifact, with atomic write-temp-then-rename
// semantics on the write side and fail-closed behavior on a malformed read.
package control

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/polytrader/polytrader/pkg/types"
)

// Channel owns the control.record artifact. Reads return the last
// successfully parsed state; a malformed file on disk never panics the
// driver, it just fails closed (paused=true).
type Channel struct {
	path string

	mu    sync.RWMutex
	state types.ControlState
}

func New(path string) *Channel {
	return &Channel{path: path, state: types.ControlState{UpdatedAt: time.Now()}}
}

// Refresh re-reads the artifact from disk, updating the in-memory state.
// On a missing file, the prior in-memory state is kept (nothing to refresh
// from yet). On a malformed file, the channel fails closed: paused=true.
func (c *Channel) Refresh() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		c.failClosed()
		return err
	}

	var s types.ControlState
	if err := json.Unmarshal(data, &s); err != nil {
		c.failClosed()
		return err
	}

	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	return nil
}

func (c *Channel) failClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Paused = true
}

// Snapshot returns the current in-memory control state.
func (c *Channel) Snapshot() types.ControlState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Write persists a new control state via write-temp-then-rename so readers
// never observe a torn record, per spec.md §4.12/§9.
func (c *Channel) Write(s types.ControlState) error {
	s.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return err
	}
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	return nil
}

// Pause writes paused=true, preserving the kill state.
func (c *Channel) Pause() error {
	s := c.Snapshot()
	s.Paused = true
	return c.Write(s)
}

// Resume writes paused=false, preserving the kill state.
func (c *Channel) Resume() error {
	s := c.Snapshot()
	s.Paused = false
	return c.Write(s)
}

// Kill activates the persistent kill switch with a reason.
func (c *Channel) Kill(reason string) error {
	s := c.Snapshot()
	s.KillActive = true
	s.KillReason = reason
	return c.Write(s)
}
