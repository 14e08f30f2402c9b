package session

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/MrWong99/ana/pkg/memory"
)

// MemoryGuard wraps a [memory.WorkingMemory] and makes all operations
// non-fatal. If the underlying backend fails, reads return an empty memory
// and writes are dropped, with a warning logged instead of an error returned.
//
// This keeps turns flowing while the memory server is unavailable; the
// narrator merely loses continuity. IsDegraded reports whether the most recent
// operation failed.
//
// All methods are safe for concurrent use.
type MemoryGuard struct {
	wm       memory.WorkingMemory
	degraded atomic.Bool
}

var _ memory.WorkingMemory = (*MemoryGuard)(nil)

// NewMemoryGuard creates a new [MemoryGuard] wrapping wm.
func NewMemoryGuard(wm memory.WorkingMemory) *MemoryGuard {
	return &MemoryGuard{wm: wm}
}

// Read returns the stored memory, or an empty memory if the backend fails.
func (mg *MemoryGuard) Read(ctx context.Context, sessionID, namespace string) (memory.Memory, error) {
	m, err := mg.wm.Read(ctx, sessionID, namespace)
	if err != nil {
		mg.degraded.Store(true)
		slog.Warn("memory guard: Read failed, returning empty",
			"session_id", sessionID,
			"namespace", namespace,
			"err", err,
		)
		return memory.Memory{}, nil
	}
	mg.degraded.Store(false)
	return m, nil
}

// Replace writes m to the backend. Failures are logged and swallowed.
func (mg *MemoryGuard) Replace(ctx context.Context, sessionID, namespace string, m memory.Memory) error {
	if err := mg.wm.Replace(ctx, sessionID, namespace, m); err != nil {
		mg.degraded.Store(true)
		slog.Warn("memory guard: Replace failed, swallowing error",
			"session_id", sessionID,
			"namespace", namespace,
			"err", err,
		)
		return nil
	}
	mg.degraded.Store(false)
	return nil
}

// Delete removes the memory from the backend. Failures are logged and
// swallowed.
func (mg *MemoryGuard) Delete(ctx context.Context, sessionID, namespace string) error {
	if err := mg.wm.Delete(ctx, sessionID, namespace); err != nil {
		mg.degraded.Store(true)
		slog.Warn("memory guard: Delete failed, swallowing error", "session_id", sessionID, "namespace", namespace, "err", err)
		return nil
	}
	mg.degraded.Store(false)
	return nil
}

// IsDegraded reports whether the most recent operation on the underlying
// backend failed.
func (mg *MemoryGuard) IsDegraded() bool {
	return mg.degraded.Load()
}
