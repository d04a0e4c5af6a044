package debugger

import (
	"fmt"

	"github.com/willibrandon/rbscope/pkg/inspect"
)

// Display is a dump request the REPL re-runs on every refresh, so a tree in
// a running target can be watched as it changes.
type Display struct {
	ID      int
	Request inspect.Request
	Enabled bool
}

// DisplayManager keeps the REPL's displays in creation order
type DisplayManager struct {
	displays []*Display
	nextID   int
}

// NewDisplayManager creates an empty manager
func NewDisplayManager() *DisplayManager {
	return &DisplayManager{
		displays: make([]*Display, 0),
		nextID:   1,
	}
}

// Add registers req and returns its display
func (dm *DisplayManager) Add(req inspect.Request) *Display {
	d := &Display{ID: dm.nextID, Request: req, Enabled: true}
	dm.nextID++
	dm.displays = append(dm.displays, d)
	return d
}

// All returns every display
func (dm *DisplayManager) All() []*Display {
	return dm.displays
}

// Enabled returns the displays a refresh should run
func (dm *DisplayManager) Enabled() []*Display {
	var out []*Display
	for _, d := range dm.displays {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out
}

// Remove deletes a display by ID
func (dm *DisplayManager) Remove(id int) error {
	for i, d := range dm.displays {
		if d.ID == id {
			dm.displays = append(dm.displays[:i], dm.displays[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("display %d not found", id)
}

// Enable turns a display back on
func (dm *DisplayManager) Enable(id int) error {
	return dm.set(id, true)
}

// Disable keeps a display but skips it on refresh
func (dm *DisplayManager) Disable(id int) error {
	return dm.set(id, false)
}

func (dm *DisplayManager) set(id int, enabled bool) error {
	for _, d := range dm.displays {
		if d.ID == id {
			d.Enabled = enabled
			return nil
		}
	}
	return fmt.Errorf("display %d not found", id)
}
