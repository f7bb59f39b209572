package hub_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"runtime/debug"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/asadovsky/woot/server/common"
	"github.com/asadovsky/woot/server/hub"
	"github.com/asadovsky/woot/server/store"
	"github.com/asadovsky/woot/server/woot"
)

func ok(t *testing.T, err error) {
	if err != nil {
		debug.PrintStack()
		t.Fatal(err)
	}
}

func eq(t *testing.T, got, want interface{}) {
	if !reflect.DeepEqual(got, want) {
		debug.PrintStack()
		t.Fatalf("got %v, want %v", got, want)
	}
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
	r    *woot.Replica
}

func dial(t *testing.T, srv *httptest.Server, docId string) *client {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	ok(t, err)
	t.Cleanup(func() { conn.Close() })
	ok(t, conn.WriteJSON(&common.Init{Type: "Init", DocId: docId}))

	var snap common.Snapshot
	ok(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	ok(t, conn.ReadJSON(&snap))
	eq(t, snap.Type, "Snapshot")
	if snap.SiteId == "" {
		t.Fatal("missing site id")
	}
	r := woot.NewReplica(snap.SiteId)
	ok(t, r.Load(snap.Entries))
	return &client{t: t, conn: conn, r: r}
}

func (c *client) send(ops ...woot.Op) {
	ok(c.t, c.conn.WriteJSON(&common.Update{
		Type:   "Update",
		SiteId: c.r.Site(),
		OpStrs: woot.EncodeOps(ops),
	}))
}

func (c *client) sendRaw(opStrs ...string) {
	ok(c.t, c.conn.WriteJSON(&common.Update{
		Type:   "Update",
		SiteId: c.r.Site(),
		OpStrs: opStrs,
	}))
}

// recv reads the next change, applies it, and reports which site made it.
func (c *client) recv() string {
	var msg common.Change
	ok(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	ok(c.t, c.conn.ReadJSON(&msg))
	eq(c.t, msg.Type, "Change")
	if msg.SiteId != c.r.Site() {
		ops, err := woot.DecodeOps(msg.OpStrs)
		ok(c.t, err)
		for _, op := range ops {
			ok(c.t, c.r.PushOp(op))
		}
	}
	return msg.SiteId
}

func get(t *testing.T, srv *httptest.Server, path string) string {
	res, err := http.Get(srv.URL + path)
	ok(t, err)
	defer res.Body.Close()
	eq(t, res.StatusCode, http.StatusOK)
	buf, err := io.ReadAll(res.Body)
	ok(t, err)
	return string(buf)
}

func newServer(t *testing.T, s store.Store) *httptest.Server {
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(hub.NewHandler(ctx, hub.Config{Store: s}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv
}

func TestTwoClients(t *testing.T) {
	srv := newServer(t, store.NewMemory())

	a := dial(t, srv, "doc")
	eq(t, a.r.Text(), "")
	a.send(a.r.GenerateInsert(0, "a"))
	eq(t, a.recv(), a.r.Site())

	// A late joiner sees "a" in its snapshot.
	b := dial(t, srv, "doc")
	eq(t, b.r.Text(), "a")
	if a.r.Site() == b.r.Site() {
		t.Fatal("site ids should differ")
	}

	b.send(b.r.GenerateInsert(1, "b"))
	eq(t, a.recv(), b.r.Site())
	eq(t, b.recv(), b.r.Site())
	eq(t, a.r.Text(), "ab")

	op, err := a.r.GenerateRemove(0)
	ok(t, err)
	a.send(op)
	eq(t, a.recv(), a.r.Site())
	eq(t, b.recv(), a.r.Site())
	eq(t, b.r.Text(), "b")
	eq(t, get(t, srv, "/docs/doc/text"), "b")
}

func TestDocsAreIndependent(t *testing.T) {
	srv := newServer(t, store.NewMemory())
	a := dial(t, srv, "one")
	a.send(a.r.GenerateInsert(0, "x"))
	a.recv()
	eq(t, get(t, srv, "/docs/one/text"), "x")
	eq(t, get(t, srv, "/docs/two/text"), "")
}

func TestMalformedUpdateIsDropped(t *testing.T) {
	srv := newServer(t, store.NewMemory())
	a := dial(t, srv, "doc")
	a.sendRaw(`{"kind":"insert"}`)
	a.sendRaw("not json")
	a.send(a.r.GenerateInsert(0, "z"))
	eq(t, a.recv(), a.r.Site())
	eq(t, get(t, srv, "/docs/doc/text"), "z")
}

func TestReplayFromStore(t *testing.T) {
	s := store.NewMemory()
	srv := newServer(t, s)
	a := dial(t, srv, "doc")
	a.send(a.r.GenerateInsert(0, "a"), a.r.GenerateInsert(1, "c"))
	a.recv()
	a.send(a.r.GenerateInsert(1, "b"))
	a.recv()

	opStrs, err := s.Load(context.Background(), "doc")
	ok(t, err)
	eq(t, len(opStrs), 3)

	// A fresh hub over the same store rebuilds the document.
	srv2 := newServer(t, s)
	eq(t, get(t, srv2, "/docs/doc/text"), "abc")
	b := dial(t, srv2, "doc")
	eq(t, b.r.Text(), "abc")
}

// join opens a raw connection to docId under site and returns the snapshot,
// or the error the hub closed the connection with.
func join(t *testing.T, srv *httptest.Server, docId, site string) (common.Snapshot, error) {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	ok(t, err)
	t.Cleanup(func() { conn.Close() })
	ok(t, conn.WriteJSON(&common.Init{Type: "Init", DocId: docId, SiteId: site}))
	var snap common.Snapshot
	ok(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	err = conn.ReadJSON(&snap)
	return snap, err
}

func TestReconnectWithSiteId(t *testing.T) {
	srv := newServer(t, store.NewMemory())
	a := dial(t, srv, "doc")
	site := a.r.Site()
	a.conn.Close()

	// The hub releases the site once it notices the old connection is gone.
	var err error
	for i := 0; i < 100; i++ {
		var snap common.Snapshot
		if snap, err = join(t, srv, "doc", site); err == nil {
			eq(t, snap.SiteId, site)
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal(err)
}

func TestDuplicateSiteRejected(t *testing.T) {
	srv := newServer(t, store.NewMemory())
	a := dial(t, srv, "doc")
	if _, err := join(t, srv, "doc", a.r.Site()); err == nil {
		t.Fatal("expected the hub to refuse a second stream for the site")
	}
	// The first client is unaffected.
	a.send(a.r.GenerateInsert(0, "a"))
	eq(t, a.recv(), a.r.Site())
	eq(t, get(t, srv, "/docs/doc/text"), "a")
}

func TestAnchorsOutOfOrder(t *testing.T) {
	s := store.NewMemory()
	srv := newServer(t, s)
	a := dial(t, srv, "doc")
	x := a.r.GenerateInsert(0, "x")
	y := a.r.GenerateInsert(1, "y")
	a.send(x, y)
	a.recv()

	bad := &woot.Insert{Char: woot.Char{
		Id:      woot.CharId{Site: a.r.Site(), Clock: 100},
		Value:   "z",
		LeftId:  y.Char.Id,
		RightId: x.Char.Id,
	}}
	a.send(bad)
	a.recv()
	eq(t, get(t, srv, "/docs/doc/text"), "xy")

	// The doc and the sender's stream keep working.
	b := dial(t, srv, "doc")
	eq(t, b.r.Text(), "xy")
	a.send(a.r.GenerateInsert(2, "w"))
	a.recv()
	b.recv()
	eq(t, b.r.Text(), "xyw")
	eq(t, get(t, srv, "/docs/doc/text"), "xyw")

	// Replay skips the dropped op too.
	srv2 := newServer(t, s)
	eq(t, get(t, srv2, "/docs/doc/text"), "xyw")
}

// flakyStore fails Append while err is set.
type flakyStore struct {
	store.Store
	mu  sync.Mutex
	err error
}

func (s *flakyStore) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *flakyStore) Append(ctx context.Context, docId string, opStrs []string) error {
	s.mu.Lock()
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.Append(ctx, docId, opStrs)
}

func TestAppendFailure(t *testing.T) {
	s := &flakyStore{Store: store.NewMemory()}
	s.setErr(errors.New("disk full"))
	srv := newServer(t, s)

	a := dial(t, srv, "doc")
	a.send(a.r.GenerateInsert(0, "a"))
	// The hub rejects the update and closes the stream.
	ok(t, a.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	if _, _, err := a.conn.ReadMessage(); err == nil {
		t.Fatal("expected the stream to close")
	}
	eq(t, get(t, srv, "/docs/doc/text"), "")

	s.setErr(nil)
	b := dial(t, srv, "doc")
	eq(t, b.r.Text(), "")
	b.send(b.r.GenerateInsert(0, "b"))
	b.recv()
	eq(t, get(t, srv, "/docs/doc/text"), "b")
	opStrs, err := s.Load(context.Background(), "doc")
	ok(t, err)
	eq(t, len(opStrs), 1)
}

func TestMetrics(t *testing.T) {
	srv := newServer(t, store.NewMemory())
	a := dial(t, srv, "doc")
	a.send(a.r.GenerateInsert(0, "a"))
	a.recv()
	body := get(t, srv, "/metrics")
	if !strings.Contains(body, "woot_ops_integrated_total") {
		t.Fatalf("missing counter in:\n%s", body)
	}
}

func TestSnapshotIsJson(t *testing.T) {
	// Entries round-trip through the wire format clients receive.
	r := woot.NewReplica("1")
	r.GenerateInsert(0, "q")
	buf, err := json.Marshal(&common.Snapshot{Type: "Snapshot", SiteId: "2", Entries: r.Snapshot()})
	ok(t, err)
	var snap common.Snapshot
	ok(t, json.Unmarshal(buf, &snap))
	r2 := woot.NewReplica("2")
	ok(t, r2.Load(snap.Entries))
	eq(t, r2.Text(), "q")
}
