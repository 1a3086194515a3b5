package catalog

import (
	"errors"
	"fmt"
	"sort"
)

// Catalog is a read-only registry of frame definitions.
type Catalog struct {
	frames map[string]FrameDefinition
	order  []string
}

// NewCatalog validates every frame and builds a catalog. All validation
// failures are reported together.
func NewCatalog(frames ...FrameDefinition) (*Catalog, error) {
	c := &Catalog{frames: make(map[string]FrameDefinition, len(frames))}
	var errs []error
	for _, frame := range frames {
		if err := frame.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, exists := c.frames[frame.ID]; exists {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateFrame, frame.ID))
			continue
		}
		c.frames[frame.ID] = frame.clone()
		c.order = append(c.order, frame.ID)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	sort.Strings(c.order)
	return c, nil
}

// Lookup returns the frame with the given id. A missing id yields ok=false.
func (c *Catalog) Lookup(frameID string) (FrameDefinition, bool) {
	if c == nil {
		return FrameDefinition{}, false
	}
	frame, ok := c.frames[frameID]
	if !ok {
		return FrameDefinition{}, false
	}
	return frame.clone(), true
}

// List returns all frames sorted by id.
func (c *Catalog) List() []FrameDefinition {
	if c == nil {
		return nil
	}
	out := make([]FrameDefinition, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.frames[id].clone())
	}
	return out
}

// Len returns the number of frames.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.frames)
}
