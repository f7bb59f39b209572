package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/asadovsky/woot/server/common"
	"github.com/asadovsky/woot/server/metrics"
	"github.com/asadovsky/woot/server/relay"
	"github.com/asadovsky/woot/server/store"
	"github.com/asadovsky/woot/server/viz"
	"github.com/asadovsky/woot/server/woot"
)

const (
	hubSite     = "hub"
	sendBufSize = 256

	originClient = "client"
	originRelay  = "relay"
	originStore  = "store"
)

func ok(err error, v ...interface{}) {
	if err != nil {
		panic(fmt.Sprintf("%v: %s", err, fmt.Sprint(v...)))
	}
}

func jsonMarshal(v interface{}) []byte {
	buf, err := json.Marshal(v)
	ok(err)
	return buf
}

// Config wires a hub to its collaborators. Store is required; Relay may be nil
// for a single-process deployment. Hubs sharing a Relay must share a Store,
// since only the hub that received a change from a client persists it.
type Config struct {
	Store store.Store
	Relay *relay.Relay
}

type hub struct {
	ctx   context.Context
	store store.Store
	relay *relay.Relay
	mu    sync.Mutex // protects docs
	docs  map[string]*doc
}

// doc is one document: the hub's replica of it and the clients subscribed to
// its changes.
type doc struct {
	id          string
	h           *hub
	replica     *woot.Replica
	clients     mapset.Set[chan<- []byte] // owned by run
	subscribe   chan chan<- []byte
	unsubscribe chan chan<- []byte
	broadcast   chan []byte
	mu          sync.Mutex      // serializes integration and broadcast
	origin      string          // origin of the ops being integrated, for metrics
	sites       map[string]bool // sites of subscribed streams
}

func (h *hub) openDoc(ctx context.Context, id string) (*doc, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if d, found := h.docs[id]; found {
		return d, nil
	}
	d := &doc{
		id:          id,
		h:           h,
		replica:     woot.NewReplica(hubSite),
		clients:     mapset.NewThreadUnsafeSet[chan<- []byte](),
		subscribe:   make(chan chan<- []byte),
		unsubscribe: make(chan chan<- []byte),
		broadcast:   make(chan []byte),
		origin:      originStore,
		sites:       make(map[string]bool),
	}
	d.replica.OnChange(woot.ObserverFunc(func(c woot.Change) {
		metrics.OpsIntegrated.WithLabelValues(string(c.Op.Kind()), d.origin).Inc()
	}))

	opStrs, err := h.store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load doc %s: %w", id, err)
	}
	for _, s := range opStrs {
		op, err := woot.DecodeOp(s)
		if err != nil {
			slog.Error("skipping stored op", "doc", id, "err", err)
			continue
		}
		if err := d.replica.PushOp(op); err != nil {
			slog.Error("dropped stored op", "doc", id, "err", err)
		}
	}
	slog.Info("opened doc", "doc", id, "ops", len(opStrs), "pending", d.replica.Pending())
	metrics.OpsPending.WithLabelValues(id).Set(float64(d.replica.Pending()))

	go d.run(h.ctx)
	if h.relay != nil {
		h.relay.Subscribe(h.ctx, id, func(c *common.Change) {
			if err := d.apply(h.ctx, originRelay, c); err != nil {
				slog.Error("failed to apply relayed change", "doc", id, "err", err)
			}
		})
	}
	h.docs[id] = d
	return d, nil
}

func (d *doc) run(ctx context.Context) {
	for {
		select {
		case c := <-d.subscribe:
			d.clients.Add(c)
		case c := <-d.unsubscribe:
			if d.clients.Contains(c) {
				d.clients.Remove(c)
				close(c)
			}
		case msg := <-d.broadcast:
			var slow []chan<- []byte
			d.clients.Each(func(send chan<- []byte) bool {
				select {
				case send <- msg:
				default:
					slow = append(slow, send)
				}
				return false
			})
			for _, send := range slow {
				slog.Warn("dropping slow client", "doc", d.id)
				d.clients.Remove(send)
				close(send)
			}
		case <-ctx.Done():
			return
		}
		metrics.Clients.WithLabelValues(d.id).Set(float64(d.clients.Cardinality()))
	}
}

// apply integrates c into the doc replica and broadcasts it to subscribers.
// Changes that came from a client are persisted first and relayed. Ops the
// replica drops are still broadcast, since every replica drops them alike.
func (d *doc) apply(ctx context.Context, origin string, c *common.Change) error {
	ops, err := woot.DecodeOps(c.OpStrs)
	if err != nil {
		metrics.OpsMalformed.Inc()
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if origin == originClient {
		if err := d.h.store.Append(ctx, d.id, c.OpStrs); err != nil {
			return fmt.Errorf("failed to persist change: %w", err)
		}
	}
	d.origin = origin
	var errs []error
	for _, op := range ops {
		if err := d.replica.PushOp(op); err != nil {
			metrics.OpsMalformed.Inc()
			errs = append(errs, err)
		}
	}
	metrics.OpsPending.WithLabelValues(d.id).Set(float64(d.replica.Pending()))
	if origin == originClient && d.h.relay != nil {
		if err := d.h.relay.Publish(ctx, d.id, c); err != nil {
			slog.Error("failed to relay change", "doc", d.id, "err", err)
		}
	}
	if err := send(d, d.broadcast, jsonMarshal(c)); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// send hands v to the run loop over ch, or fails once the hub has stopped.
func send[T any](d *doc, ch chan T, v T) error {
	select {
	case ch <- v:
		return nil
	case <-d.h.ctx.Done():
		return d.h.ctx.Err()
	}
}

type stream struct {
	h      *hub
	conn   *websocket.Conn
	send   chan []byte
	d      *doc // set by Init
	siteId string
}

func (s *stream) processInitMsg(ctx context.Context, msg *common.Init) error {
	if s.d != nil {
		return errors.New("already initialized")
	}
	if msg.DocId == "" {
		return errors.New("missing doc id")
	}
	d, err := s.h.openDoc(ctx, msg.DocId)
	if err != nil {
		return err
	}
	s.siteId = msg.SiteId
	if s.siteId == "" {
		s.siteId = uuid.NewString()
	}
	if s.siteId == hubSite {
		return fmt.Errorf("reserved site id: %s", hubSite)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sites[s.siteId] {
		return fmt.Errorf("site %s already connected to %s", s.siteId, d.id)
	}
	s.send <- jsonMarshal(&common.Snapshot{
		Type:    "Snapshot",
		SiteId:  s.siteId,
		Entries: d.replica.Snapshot(),
	})
	if err := send(d, d.subscribe, chan<- []byte(s.send)); err != nil {
		return err
	}
	d.sites[s.siteId] = true
	s.d = d
	slog.Info("client joined", "doc", d.id, "site", s.siteId)
	return nil
}

func (s *stream) processUpdateMsg(ctx context.Context, msg *common.Update) error {
	if s.d == nil {
		return errors.New("not initialized")
	}
	if msg.SiteId != s.siteId {
		return fmt.Errorf("update from site %q on stream of %q", msg.SiteId, s.siteId)
	}
	return s.d.apply(ctx, originClient, &common.Change{
		Type:   "Change",
		SiteId: msg.SiteId,
		OpStrs: msg.OpStrs,
	})
}

func (s *stream) writeLoop(ctx context.Context) {
	defer s.conn.Close()
	failed := false
	for {
		select {
		case msg, ok := <-s.send:
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if failed {
				continue
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				slog.Error("failed to write message", "err", err)
				failed = true
				s.conn.Close()
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *stream) readLoop(ctx context.Context) {
	for {
		_, buf, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Error("failed to read message", "err", err)
			}
			return
		}
		var mt common.MsgType
		if err := json.Unmarshal(buf, &mt); err != nil {
			slog.Error("failed to decode message", "err", err)
			return
		}
		switch mt.Type {
		case "Init":
			var msg common.Init
			if err = json.Unmarshal(buf, &msg); err == nil {
				err = s.processInitMsg(ctx, &msg)
			}
			if err != nil {
				slog.Error("rejected init", "err", err)
				return
			}
		case "Update":
			var msg common.Update
			if err = json.Unmarshal(buf, &msg); err == nil {
				err = s.processUpdateMsg(ctx, &msg)
			}
			if errors.Is(err, woot.ErrMalformedOperation) {
				slog.Warn("dropped malformed update", "site", s.siteId, "err", err)
			} else if err != nil {
				slog.Error("rejected update", "site", s.siteId, "err", err)
				return
			}
		default:
			slog.Error("unknown message type", "type", mt.Type)
			return
		}
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
		slog.Error("failed to upgrade", "err", err)
		return
	}
	s := &stream{h: h, conn: conn, send: make(chan []byte, sendBufSize)}
	go s.writeLoop(h.ctx)
	s.readLoop(r.Context())

	if s.d == nil {
		close(s.send)
		return
	}
	s.d.mu.Lock()
	delete(s.d.sites, s.siteId)
	s.d.mu.Unlock()
	// The run loop owns s.send once subscribed.
	send(s.d, s.d.unsubscribe, chan<- []byte(s.send))
	slog.Info("client left", "doc", s.d.id, "site", s.siteId)
}

func (h *hub) getText(w http.ResponseWriter, r *http.Request) {
	d, err := h.openDoc(r.Context(), mux.Vars(r)["doc"])
	if err != nil {
		slog.Error("failed to open doc", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte(d.replica.Text())); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}

func (h *hub) getGraph(w http.ResponseWriter, r *http.Request) {
	d, err := h.openDoc(r.Context(), mux.Vars(r)["doc"])
	if err != nil {
		slog.Error("failed to open doc", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "image/svg+xml")
	if err := viz.RenderSvg(d.replica.Chars(), w); err != nil {
		slog.Error("failed to render", "doc", d.id, "err", err)
	}
}

// NewHandler returns the hub's HTTP handler. Document goroutines and relay
// subscriptions stop when ctx is done.
func NewHandler(ctx context.Context, cfg Config) http.Handler {
	h := &hub{
		ctx:   ctx,
		store: cfg.Store,
		relay: cfg.Relay,
		docs:  make(map[string]*doc),
	}
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			slog.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	})
	r.Path("/ws").HandlerFunc(h.handleConn)
	r.Methods(http.MethodGet).Path("/docs/{doc}/text").HandlerFunc(h.getText)
	r.Methods(http.MethodGet).Path("/docs/{doc}/graph.svg").HandlerFunc(h.getGraph)
	r.Methods(http.MethodGet).Path("/metrics").Handler(metrics.Handler())
	return r
}

// Serve runs the hub on addr until ctx is done.
func Serve(ctx context.Context, addr string, cfg Config) error {
	srv := &http.Server{Addr: addr, Handler: NewHandler(ctx, cfg)}
	errc := make(chan error, 1)
	go func() {
		slog.Info("serving", "addr", addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		if err := srv.Close(); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
