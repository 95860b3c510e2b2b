// Package locator maps identifiers (organization or project-key) to owning
// cells, keeping the mapping fresh via a background worker that syncs from
// a control-plane API and survives outages via a backup store.
package locator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mohammed-shakir/synapse-gateway/internal/ingesterr"
	"github.com/mohammed-shakir/synapse-gateway/internal/locator/backupstore"
	"github.com/mohammed-shakir/synapse-gateway/internal/locator/controlplane"
	"github.com/mohammed-shakir/synapse-gateway/internal/locator/cursor"
	"github.com/mohammed-shakir/synapse-gateway/internal/obsv"
)

// routeTable is the locator's in-memory view, swapped atomically on each
// successful load.
type routeTable struct {
	idToCell       map[string]string
	cellToLocality map[string]string
	lastCursor     cursor.Cursor
}

type command int

const (
	cmdRefresh command = iota
	cmdShutdown
)

// Locator maps identifiers to owning cells and keeps the mapping fresh in
// the background.
type Locator struct {
	cp                    *controlplane.ControlPlane
	backup                backupstore.Provider
	localityToDefaultCell map[string]string
	incrementalInterval   time.Duration
	logger                *slog.Logger

	mu    sync.RWMutex
	table routeTable

	ready atomic.Bool
	neg   *negativeCache

	loadSem chan struct{}
	cmds    chan command
	done    chan struct{}
}

// New constructs a Locator. Call Start to spawn its background worker.
func New(cp *controlplane.ControlPlane, backup backupstore.Provider, localityToDefaultCell map[string]string, incrementalInterval time.Duration, logger *slog.Logger) *Locator {
	if logger == nil {
		logger = slog.Default()
	}
	if incrementalInterval <= 0 {
		incrementalInterval = 30 * time.Second
	}
	return &Locator{
		cp:                    cp,
		backup:                backup,
		localityToDefaultCell: localityToDefaultCell,
		incrementalInterval:   incrementalInterval,
		logger:                logger,
		neg:                   newNegativeCache(),
		loadSem:               make(chan struct{}, 1),
		cmds:                  make(chan command, 4),
		done:                  make(chan struct{}),
	}
}

// Start spawns the background worker. It performs a snapshot load first;
// only on success does IsReady flip true. Call Shutdown to stop it.
func (l *Locator) Start(ctx context.Context) {
	go l.run(ctx)
}

func (l *Locator) run(ctx context.Context) {
	defer close(l.done)

	l.snapshotLoad(ctx)

	ticker := time.NewTicker(l.incrementalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-l.cmds:
			switch cmd {
			case cmdShutdown:
				return
			case cmdRefresh:
				l.incrementalLoad(ctx)
			}
		case <-ticker.C:
			l.incrementalLoad(ctx)
		}
	}
}

// snapshotLoad tries the control plane first; if that load fails for any
// reason (including exhausted retries) it falls back to the backup store.
// Only a successful load (either source) flips ready.
func (l *Locator) snapshotLoad(ctx context.Context) {
	if !l.acquireLoadPermit() {
		return
	}
	defer l.releaseLoadPermit()

	start := time.Now()
	if res, err := l.cp.Load(ctx, cursor.Cursor{}); err == nil {
		l.installTable(res.IDToCell, res.CellToLocality, res.LastCursor)
		l.ready.Store(true)
		obsv.SetLocatorReady(true)
		obsv.ObserveLocatorSync("snapshot", res.Rows, time.Since(start), nil)
		l.asyncBackup(res)
		return
	} else {
		obsv.ObserveLocatorSync("snapshot", 0, time.Since(start), err)
		l.logger.Warn("locator snapshot load from control plane failed, falling back to backup store", "err", err)
	}

	if l.backup == nil {
		l.logger.Error("locator snapshot load failed and no backup store configured")
		return
	}

	data, err := l.backup.Load(ctx)
	if err != nil {
		l.logger.Error("locator backup store load failed", "err", err)
		return
	}
	l.installTable(data.IDToCell, data.CellToLocality, data.LastCursor)
	l.ready.Store(true)
	obsv.SetLocatorReady(true)
}

// incrementalLoad resumes from the last cursor using only the control
// plane; the backup store is never consulted on this path.
func (l *Locator) incrementalLoad(ctx context.Context) {
	if !l.acquireLoadPermit() {
		return
	}
	defer l.releaseLoadPermit()

	l.mu.RLock()
	last := l.table.lastCursor
	l.mu.RUnlock()

	start := time.Now()
	res, err := l.cp.Load(ctx, last)
	if err != nil {
		obsv.ObserveLocatorSync("incremental", 0, time.Since(start), err)
		l.logger.Warn("locator incremental load failed", "err", err)
		return
	}
	obsv.ObserveLocatorSync("incremental", res.Rows, time.Since(start), nil)

	l.mergeTable(res.IDToCell, res.CellToLocality, res.LastCursor)

	l.mu.RLock()
	full := controlplane.Result{IDToCell: l.table.idToCell, CellToLocality: l.table.cellToLocality, LastCursor: l.table.lastCursor, Rows: res.Rows}
	l.mu.RUnlock()
	l.asyncBackup(full)
}

func (l *Locator) installTable(idToCell, cellToLocality map[string]string, cur cursor.Cursor) {
	l.mu.Lock()
	l.table = routeTable{idToCell: idToCell, cellToLocality: cellToLocality, lastCursor: cur}
	l.mu.Unlock()
}

// mergeTable overlays an incremental result onto the existing table rather
// than replacing it outright, since an incremental page only carries rows
// that changed since the last cursor.
func (l *Locator) mergeTable(idToCell, cellToLocality map[string]string, cur cursor.Cursor) {
	l.mu.Lock()
	defer l.mu.Unlock()

	merged := make(map[string]string, len(l.table.idToCell)+len(idToCell))
	for k, v := range l.table.idToCell {
		merged[k] = v
	}
	for k, v := range idToCell {
		merged[k] = v
	}

	mergedLoc := make(map[string]string, len(l.table.cellToLocality)+len(cellToLocality))
	for k, v := range l.table.cellToLocality {
		mergedLoc[k] = v
	}
	for k, v := range cellToLocality {
		mergedLoc[k] = v
	}

	l.table = routeTable{idToCell: merged, cellToLocality: mergedLoc, lastCursor: cur}
}

func (l *Locator) asyncBackup(res controlplane.Result) {
	if l.backup == nil {
		return
	}
	go func() {
		err := l.backup.Store(context.Background(), backupstore.RouteData{
			IDToCell:       res.IDToCell,
			CellToLocality: res.CellToLocality,
			LastCursor:     res.LastCursor,
		})
		if err != nil {
			l.logger.Error("locator backup store write failed", "err", err)
		}
	}()
}

func (l *Locator) acquireLoadPermit() bool {
	select {
	case l.loadSem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (l *Locator) releaseLoadPermit() {
	<-l.loadSem
}

// IsReady reports whether the first snapshot load has completed
// successfully. Monotonic: once true, it stays true for process lifetime.
func (l *Locator) IsReady() bool {
	return l.ready.Load()
}

// Refresh hints the background worker to perform an incremental load now.
// Non-blocking; a pending refresh request may be coalesced.
func (l *Locator) Refresh() {
	select {
	case l.cmds <- cmdRefresh:
	default:
	}
}

// Shutdown stops the background worker and waits for it to exit.
func (l *Locator) Shutdown() {
	select {
	case l.cmds <- cmdShutdown:
	default:
	}
	<-l.done
}

// Lookup resolves id to its owning cell, optionally constrained to locality.
func (l *Locator) Lookup(id string, locality string) (string, error) {
	if !l.ready.Load() {
		return "", &ingesterr.LocatorNotReady{}
	}

	if l.neg.Contains(id, locality) {
		return "", &ingesterr.LocatorNoCell{ID: id}
	}

	l.mu.RLock()
	cellID, ok := l.table.idToCell[id]
	cellToLocality := l.table.cellToLocality
	l.mu.RUnlock()

	if !ok {
		if locality != "" {
			if def, ok := l.localityToDefaultCell[locality]; ok {
				return def, nil
			}
		}
		l.neg.Add(id, locality)
		return "", &ingesterr.LocatorNoCell{ID: id}
	}

	if locality != "" {
		if actual := cellToLocality[cellID]; actual != locality {
			return "", &ingesterr.LocatorLocalityMismatch{Requested: locality, Actual: actual}
		}
	}

	return cellID, nil
}
