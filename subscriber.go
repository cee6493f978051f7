package golin

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Reception is one completed frame as seen by a response handler.
type Reception struct {
	Kind  HandlerKind
	Frame *LINFrame
	Valid bool
	Time  time.Time
}

func newReception(kind HandlerKind, id uint8, payload []byte, valid bool) *Reception {
	t := Incoming
	if kind == KindSlavePublish {
		t = Echo
	}
	return &Reception{
		Kind:  kind,
		Frame: NewFrame(id, payload, t),
		Valid: valid,
		Time:  time.Now(),
	}
}

func (r *Reception) String() string {
	status := "valid"
	if !r.Valid {
		status = "invalid"
	}
	return fmt.Sprintf("%s %s [%s]", r.Kind, r.Frame.String(), status)
}

type Subscriber struct {
	h         *hub
	ch        chan *Reception
	closeOnce sync.Once
	closeChan chan struct{}
}

func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		close(s.closeChan)
		s.h.unsubscribe(s)
	})
}

func (s *Subscriber) Chan() <-chan *Reception {
	return s.ch
}

// Wait returns the next reception, or an error when ctx ends first.
func (s *Subscriber) Wait(ctx context.Context) (*Reception, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("timeout: %w", ctx.Err())
	case r, ok := <-s.ch:
		if !ok {
			return nil, ErrSubscriberClosed
		}
		return r, nil
	}
}
