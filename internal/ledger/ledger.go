// Package ledger tracks which review rows are selected for approval.
//
// Rows are identified by the server's _normalization_result_id when present.
// Rows without one get a provisional identity that is only valid for the
// render generation it was issued in; Rebind starts a new generation and
// drops every provisional selection.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/yourorg/fitment-ingest/internal/apperr"
	"github.com/yourorg/fitment-ingest/internal/metrics"
	"github.com/yourorg/fitment-ingest/internal/types"
)

// StableKey is the row field carrying the server-issued identity.
const StableKey = "_normalization_result_id"

// DefaultWindow is the number of rows rendered per collection.
const DefaultWindow = 100

type Collection string

const (
	Original    Collection = "original"
	AIGenerated Collection = "ai"
)

// RowID is either stable or provisional. The zero value is invalid.
type RowID struct {
	stable     string
	collection Collection
	index      int
	generation uint64
}

// Stable returns the identity of a row with a server-issued id.
func Stable(id string) RowID { return RowID{stable: id} }

func (r RowID) IsProvisional() bool { return r.stable == "" && r.collection != "" }

func (r RowID) IsZero() bool { return r == RowID{} }

// String is the wire form sent on approval.
func (r RowID) String() string {
	if r.stable != "" {
		return r.stable
	}
	return fmt.Sprintf("%s_%d", r.collection, r.index)
}

// StableID extracts the server id of row, if any.
func StableID(row types.Row) (string, bool) {
	switch v := row[StableKey].(type) {
	case string:
		v = strings.TrimSpace(v)
		return v, v != ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case json.Number:
		return v.String(), v != ""
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	}
	return "", false
}

// Approver persists approved rows of a job.
type Approver interface {
	ApproveJobRows(ctx context.Context, jobID string, rowIDs []string) (*types.ApproveResponse, error)
}

// Ledger is a single selection set shared by the original and AI-generated collections.
type Ledger struct {
	mu         sync.Mutex
	window     int
	generation uint64
	selected   map[RowID]struct{}
}

// New returns an empty ledger. window <= 0 means DefaultWindow.
func New(window int) *Ledger {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Ledger{window: window, generation: 1, selected: map[RowID]struct{}{}}
}

func (l *Ledger) Window() int { return l.window }

// Rebind starts a new render generation, e.g. after a refetch.
// Stable selections survive; provisional ones are dropped.
func (l *Ledger) Rebind() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.generation++
	for id := range l.selected {
		if id.IsProvisional() {
			delete(l.selected, id)
		}
	}
	return l.generation
}

// Generation is the current render generation.
func (l *Ledger) Generation() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.generation
}

// IDFor derives the identity of row at index within collection.
func (l *Ledger) IDFor(c Collection, index int, row types.Row) RowID {
	if id, ok := StableID(row); ok {
		return Stable(id)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return RowID{collection: c, index: index, generation: l.generation}
}

// ToggleAt flips the row a client saw at index of generation. Any generation but the
// current one is rejected, since a refetch may have reordered the rows behind index.
func (l *Ledger) ToggleAt(c Collection, index int, row types.Row, generation uint64) (RowID, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if generation != l.generation {
		return RowID{}, false, apperr.Validation("row %d belongs to an earlier view, reload the rows", index)
	}
	id := RowID{collection: c, index: index, generation: generation}
	if sid, ok := StableID(row); ok {
		id = Stable(sid)
	}
	if _, ok := l.selected[id]; ok {
		delete(l.selected, id)
		return id, false, nil
	}
	l.selected[id] = struct{}{}
	return id, true, nil
}

func (l *Ledger) checkLocked(id RowID) error {
	if id.IsZero() {
		return apperr.Validation("row id is required")
	}
	if id.IsProvisional() && id.generation != l.generation {
		return apperr.Validation("row %s belongs to an earlier view, reload the rows", id)
	}
	return nil
}

// Toggle flips the selection of id and reports the new state.
func (l *Ledger) Toggle(id RowID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkLocked(id); err != nil {
		return false, err
	}
	if _, ok := l.selected[id]; ok {
		delete(l.selected, id)
		return false, nil
	}
	l.selected[id] = struct{}{}
	return true, nil
}

// SelectAll adds ids. Ids from an earlier render generation are ignored.
func (l *Ledger) SelectAll(ids []RowID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, id := range ids {
		if l.checkLocked(id) != nil {
			continue
		}
		if _, ok := l.selected[id]; !ok {
			l.selected[id] = struct{}{}
			n++
		}
	}
	return n
}

func (l *Ledger) DeselectAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.selected = map[RowID]struct{}{}
}

func (l *Ledger) IsSelected(id RowID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.selected[id]
	return ok
}

// WindowIDs returns the ids of the rows of c that are inside the rendered window.
func (l *Ledger) WindowIDs(c Collection, rows []types.Row) []RowID {
	n := len(rows)
	if n > l.window {
		n = l.window
	}
	ids := make([]RowID, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, l.IDFor(c, i, rows[i]))
	}
	return ids
}

// SelectWindow selects every row of c inside the window and nothing beyond it.
func (l *Ledger) SelectWindow(c Collection, rows []types.Row) int {
	return l.SelectAll(l.WindowIDs(c, rows))
}

// ToggleWindow deselects the window's rows when all are selected, otherwise selects them all.
// Rows outside the window are never touched. It reports whether the window ends up selected.
func (l *Ledger) ToggleWindow(c Collection, rows []types.Row) bool {
	ids := l.WindowIDs(c, rows)
	l.mu.Lock()
	defer l.mu.Unlock()
	all := len(ids) > 0
	for _, id := range ids {
		if _, ok := l.selected[id]; !ok {
			all = false
			break
		}
	}
	for _, id := range ids {
		if all {
			delete(l.selected, id)
		} else if l.checkLocked(id) == nil {
			l.selected[id] = struct{}{}
		}
	}
	return !all && len(ids) > 0
}

// Selected returns the wire ids of the selection, sorted.
func (l *Ledger) Selected() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.selected))
	for id := range l.selected {
		out = append(out, id.String())
	}
	sort.Strings(out)
	return out
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.selected)
}

// Approve sends the selection in one request and clears it on success.
// An empty selection fails locally without a network call.
func (l *Ledger) Approve(ctx context.Context, a Approver, jobID string) (*types.ApproveResponse, error) {
	ids := l.Selected()
	if len(ids) == 0 {
		return nil, apperr.Validation("select at least one row to approve")
	}
	if strings.TrimSpace(jobID) == "" {
		return nil, apperr.Validation("job id is required")
	}
	resp, err := a.ApproveJobRows(ctx, jobID, ids)
	if err != nil {
		return nil, err
	}
	l.DeselectAll()
	metrics.ApprovedRows.Add(float64(resp.ApprovedCount))
	return resp, nil
}
