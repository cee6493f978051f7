package golin

import (
	"fmt"
	"sync"
)

// MaxDescriptors is the number of descriptor slots a driver keeps per node number.
const MaxDescriptors = 4

// FrameDescriptor is the registered configuration of a frame on a node.
// Buffer is shared with the node that registered it and must only be touched
// while that node's interrupt lock is held, which is the case for every
// Driver method the node calls.
type FrameDescriptor struct {
	ID        uint8
	Length    int
	Direction Direction
	Buffer    []byte
	Handler   ResponseHandler
}

func (d *FrameDescriptor) Validate() error {
	switch {
	case d.ID > MaxFrameID:
		return fmt.Errorf("%w: id 0x%02X out of range", ErrInvalidDescriptor, d.ID)
	case d.Length < 1 || d.Length > MaxDataLength:
		return fmt.Errorf("%w: length %d", ErrInvalidDescriptor, d.Length)
	case len(d.Buffer) < d.Length:
		return fmt.Errorf("%w: buffer holds %d bytes, need %d", ErrInvalidDescriptor, len(d.Buffer), d.Length)
	case d.Direction != Publish && d.Direction != Subscribe:
		return fmt.Errorf("%w: direction %d", ErrInvalidDescriptor, d.Direction)
	}
	return nil
}

func (d *FrameDescriptor) String() string {
	handler := "none"
	if d.Handler != nil {
		handler = d.Handler.Kind().String()
	}
	return fmt.Sprintf("id: 0x%02X len: %d %s handler: %s", d.ID, d.Length, d.Direction, handler)
}

type descriptorKey struct {
	node, slot int
}

// Registry is the per node descriptor table drivers match incoming headers against.
type Registry struct {
	mu      sync.RWMutex
	entries map[descriptorKey]*FrameDescriptor
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[descriptorKey]*FrameDescriptor),
	}
}

// Register installs d in the given slot, replacing what was there. A nil
// descriptor clears the slot.
func (r *Registry) Register(node, slot int, d *FrameDescriptor) error {
	if node < 0 || slot < 0 || slot >= MaxDescriptors {
		return fmt.Errorf("%w: node %d slot %d", ErrInvalidSlot, node, slot)
	}
	key := descriptorKey{node, slot}
	r.mu.Lock()
	defer r.mu.Unlock()
	if d == nil {
		delete(r.entries, key)
		return nil
	}
	if err := d.Validate(); err != nil {
		return err
	}
	r.entries[key] = d
	return nil
}

func (r *Registry) Lookup(node, slot int) *FrameDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[descriptorKey{node, slot}]
}

// Find returns the descriptor registered on node for the frame id, nil if the
// node does not handle that frame.
func (r *Registry) Find(node int, id uint8) *FrameDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for slot := 0; slot < MaxDescriptors; slot++ {
		if d, ok := r.entries[descriptorKey{node, slot}]; ok && d.ID == id {
			return d
		}
	}
	return nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
