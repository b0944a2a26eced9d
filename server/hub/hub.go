// Package hub serves cards to clients over websockets. Each card has a
// single authoritative history; concurrent changes are rebased onto it with
// ot.Transform and broadcast to every subscriber in commit order.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/asadovsky/cards/server/common"
	"github.com/asadovsky/cards/server/store"
)

const storeTimeout = 5 * time.Second

type hub struct {
	st    store.Store
	mu    sync.Mutex // protects cards and drops; acquired before any card.mu
	cards map[string]*card
	drops int // cards forgotten by release
}

func newHub(st store.Store) *hub {
	return &hub{st: st, cards: make(map[string]*card)}
}

// NewHandler returns the hub's HTTP handler. Clients connect to /ws; the
// latest snapshot of a card is served at /cards/{id}.
func NewHandler(st store.Store) http.Handler {
	h := newHub(st)
	r := mux.NewRouter()
	r.HandleFunc("/ws", h.handleConn)
	r.HandleFunc("/cards/{id}", h.handleGetCard).Methods(http.MethodGet)
	return r
}

func Serve(addr string, st store.Store) error {
	log.Printf("hub listening on %s", addr)
	return http.ListenAndServe(addr, NewHandler(st))
}

// acquire returns the card with the given id, locked, loading it from the
// store if no stream holds it. The store is read without holding h.mu.
func (h *hub) acquire(id string) (*card, error) {
	for {
		h.mu.Lock()
		if c, ok := h.cards[id]; ok {
			c.mu.Lock()
			h.mu.Unlock()
			return c, nil
		}
		drops := h.drops
		h.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		sn, err := h.st.Load(ctx, id)
		cancel()
		if err != nil {
			return nil, err
		}

		h.mu.Lock()
		_, loaded := h.cards[id]
		// A card released during the load may have been saved past sn.
		if !loaded && h.drops == drops {
			c := newCard(h, id, sn)
			h.cards[id] = c
			c.mu.Lock()
			h.mu.Unlock()
			return c, nil
		}
		h.mu.Unlock()
	}
}

// release drops a subscriber and forgets the card once nobody watches it.
func (h *hub) release(c *card, sub subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs.Remove(sub)
	if c.subs.Cardinality() == 0 && h.cards[c.id] == c {
		delete(h.cards, c.id)
		h.drops++
	}
}

func (h *hub) create(props map[string]string) (string, error) {
	if props == nil {
		props = map[string]string{}
	}
	id := uuid.NewString()
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := h.st.Save(ctx, id, &store.Snapshot{Rev: 0, Props: props}); err != nil {
		return "", err
	}
	return id, nil
}

func (h *hub) snapshot(ctx context.Context, id string) (*store.Snapshot, error) {
	h.mu.Lock()
	c, ok := h.cards[id]
	if ok {
		c.mu.Lock()
		sn := c.snapshot()
		c.mu.Unlock()
		h.mu.Unlock()
		return sn, nil
	}
	h.mu.Unlock()
	return h.st.Load(ctx, id)
}

func (h *hub) handleGetCard(w http.ResponseWriter, r *http.Request) {
	sn, err := h.snapshot(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(sn); err != nil {
		log.Printf("write snapshot: %v", err)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (h *hub) handleConn(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade: %v", err)
		return
	}
	s := newStream(h, conn)
	log.Printf("OPEN %s", s.connId)
	defer func() {
		s.close()
		log.Printf("EXIT %s", s.connId)
	}()
	go s.writeLoop()
	s.deliver(&common.Rsp{Type: common.MsgHello, Hello: &common.HelloRsp{ConnId: s.connId}})
	s.readLoop()
}
