package public

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/websocket"
	"github.com/omahs/ganache/foundation/blockchain/filters"
	"github.com/omahs/ganache/foundation/events"
	"github.com/omahs/ganache/foundation/web"
)

// typeLog subscribes to the node's own log lines.
const typeLog = "log"

type wsRequest struct {
	Op       string          `json:"op"`
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Criteria criteriaRequest `json:"criteria"`
}

type wsMessage struct {
	Op           string          `json:"op,omitempty"`
	ID           string          `json:"id,omitempty"`
	Removed      bool            `json:"removed,omitempty"`
	Subscription string          `json:"subscription,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// wsConn is the state of one websocket connection. Only the connection's
// loop touches cancels.
type wsConn struct {
	h       Handlers
	traceID string
	wg      sync.WaitGroup
	done    chan struct{}
	out     chan wsMessage
	cancels map[string]func()
	logs    int
}

// Events handles a web socket to push subscriptions to a client. The client
// sends {"op":"subscribe","type":"newHeads"} style requests and receives
// one message per notification.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	conn := wsConn{
		h:       h,
		traceID: v.TraceID,
		done:    make(chan struct{}),
		out:     make(chan wsMessage),
		cancels: make(map[string]func()),
	}
	defer conn.close()

	reqs := make(chan wsRequest)
	go func() {
		defer close(reqs)
		for {
			var req wsRequest
			if err := c.ReadJSON(&req); err != nil {
				return
			}
			select {
			case reqs <- req:
			case <-conn.done:
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case req, ok := <-reqs:
			if !ok {
				return nil
			}

			if err := c.WriteJSON(conn.apply(req)); err != nil {
				return nil
			}

		case msg := <-conn.out:
			if err := c.WriteJSON(msg); err != nil {
				return nil
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// close ends every subscription of the connection and waits for the
// forwarding goroutines.
func (conn *wsConn) close() {
	close(conn.done)
	for _, cancel := range conn.cancels {
		cancel()
	}
	conn.wg.Wait()
}

// forward relays the notifications of one subscription until its channel is
// closed or the connection is gone.
func forward[T any](conn *wsConn, id string, ch <-chan T, result func(T) any) {
	conn.wg.Add(1)

	go func() {
		defer conn.wg.Done()
		for item := range ch {
			msg := wsMessage{Subscription: id, Result: conn.h.encode(result(item))}
			select {
			case conn.out <- msg:
			case <-conn.done:
				return
			}
		}
	}()
}

// apply performs one client request.
func (conn *wsConn) apply(req wsRequest) wsMessage {
	switch req.Op {
	case "subscribe":
		if req.Type == typeLog {
			id := fmt.Sprintf("%s-%d", conn.traceID, conn.logs)
			conn.logs++

			ch := conn.h.Evts.Acquire(id, events.KindLog)
			forward(conn, id, ch, func(e events.Event) any { return e.Data })

			conn.cancels[id] = func() { conn.h.Evts.Release(id) }
			return wsMessage{Op: "subscribed", ID: id}
		}

		typ, err := filters.ParseType(req.Type)
		if err != nil {
			return wsMessage{Op: "error", Error: err.Error()}
		}

		crit, err := req.Criteria.criteria()
		if err != nil {
			return wsMessage{Op: "error", Error: err.Error()}
		}

		sub, err := conn.h.State.Subscribe(typ, crit)
		if err != nil {
			return wsMessage{Op: "error", Error: err.Error()}
		}
		forward(conn, sub.ID, sub.C, func(item any) any { return item })

		conn.cancels[sub.ID] = func() { sub.Unsubscribe() }
		return wsMessage{Op: "subscribed", ID: sub.ID}

	case "unsubscribe":
		cancel, exists := conn.cancels[req.ID]
		if exists {
			cancel()
			delete(conn.cancels, req.ID)
		}
		return wsMessage{Op: "unsubscribed", ID: req.ID, Removed: exists}
	}

	return wsMessage{Op: "error", Error: fmt.Sprintf("unknown op %q", req.Op)}
}

// encode marshals a notification. Block headers go to every newHeads
// subscriber, so they are encoded once and kept in the cache.
func (h Handlers) encode(item any) json.RawMessage {
	header, isHeader := item.(*types.Header)
	if isHeader && h.Cache != nil {
		if data, exists := h.Cache.Get(header.Hash()); exists {
			return data.(json.RawMessage)
		}
	}

	data, err := json.Marshal(item)
	if err != nil {
		h.Log.Errorw("events", "status", "encode notification", "ERROR", err)
		return nil
	}

	if isHeader && h.Cache != nil {
		h.Cache.Add(header.Hash(), json.RawMessage(data))
	}

	return data
}
