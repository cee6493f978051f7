package golin

import (
	"bytes"
	"fmt"
)

type HandlerKind int

const (
	KindNone HandlerKind = iota
	KindMasterSubscribe
	KindSlavePublish
	KindSlaveSubscribe
)

func (k HandlerKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindMasterSubscribe:
		return "master-subscribe"
	case KindSlavePublish:
		return "slave-publish"
	case KindSlaveSubscribe:
		return "slave-subscribe"
	default:
		return "unknown"
	}
}

// ResponseHandler is invoked by the driver once a frame exchange for a
// registered descriptor completes. It runs in interrupt context with the
// owning node's interrupt lock held; data is read only and n is the number of
// valid bytes in it.
type ResponseHandler interface {
	Kind() HandlerKind
	HandleResponse(data []byte, n int)
}

// MasterSubscribeHandler interprets the slave's answer to a master request.
type MasterSubscribeHandler struct {
	node *Node
}

func (h *MasterSubscribeHandler) Kind() HandlerKind { return KindMasterSubscribe }

func (h *MasterSubscribeHandler) HandleResponse(data []byte, n int) {
	nd := h.node
	payload := clip(data, n)
	nd.pending = false
	valid := nd.validate(payload)
	if valid {
		nd.logf("LIN response received")
	}
	nd.settle(KindMasterSubscribe, payload, valid)
}

// slaveTask is the reception task shared by both slave roles. On a valid
// frame it dumps every byte to the diagnostics writer.
type slaveTask struct {
	node *Node
}

func (t *slaveTask) handle(kind HandlerKind, data []byte, n int) {
	nd := t.node
	payload := clip(data, n)
	valid := nd.validate(payload)
	if valid {
		nd.logf("LIN message received")
		if w := nd.cfg.Diagnostics; w != nil {
			var dump bytes.Buffer
			for _, b := range payload {
				fmt.Fprintf(&dump, "%x\n", b)
			}
			w.Write(dump.Bytes())
		}
	}
	nd.settle(kind, payload, valid)
}

// SlaveSubscribeHandler handles a frame published by the master.
type SlaveSubscribeHandler struct {
	slaveTask
}

func (h *SlaveSubscribeHandler) Kind() HandlerKind { return KindSlaveSubscribe }

func (h *SlaveSubscribeHandler) HandleResponse(data []byte, n int) {
	h.handle(KindSlaveSubscribe, data, n)
}

// SlavePublishHandler handles the echo of the response this slave put on the bus.
type SlavePublishHandler struct {
	slaveTask
}

func (h *SlavePublishHandler) Kind() HandlerKind { return KindSlavePublish }

func (h *SlavePublishHandler) HandleResponse(data []byte, n int) {
	h.handle(KindSlavePublish, data, n)
}

func clip(data []byte, n int) []byte {
	if n < 0 {
		n = 0
	}
	if n > len(data) {
		n = len(data)
	}
	return data[:n]
}
