package golin

import (
	"context"
	"log"
	"sync"
)

// hub fans completed receptions out to subscribers. deliver runs in interrupt
// context, so a full subscriber loses the reception instead of blocking.
type hub struct {
	mu     sync.RWMutex
	subs   map[*Subscriber]struct{}
	closed bool
}

func newHub() *hub {
	return &hub{
		subs: make(map[*Subscriber]struct{}),
	}
}

func (h *hub) subscribe(ctx context.Context) *Subscriber {
	sub := &Subscriber{
		h:         h,
		ch:        make(chan *Reception, 64),
		closeChan: make(chan struct{}),
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.closeChan:
		}
	}()
	return sub
}

func (h *hub) unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// deliver holds the read lock for the whole send, unsubscribe needs the write
// lock to close a channel so no send can hit a closed one.
func (h *hub) deliver(r *Reception) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.ch <- r:
		default:
			log.Printf("failed to deliver 0x%02X", r.Frame.ID)
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
}
