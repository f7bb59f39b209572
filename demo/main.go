// Command demo is a terminal client for a woot hub. It reads commands from
// stdin:
//
//	i <index> <text>   insert text at index
//	d <index>          delete the character at index
//	p                  print the document
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"github.com/asadovsky/woot/server/common"
	"github.com/asadovsky/woot/server/woot"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	addr := flag.String("addr", "localhost:8080", "hub address")
	docId := flag.String("doc", "default", "document to edit")
	siteId := flag.String("site", "", "site id to reuse; empty asks the hub for one")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	conn, err := dial(ctx, u.String())
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteJSON(&common.Init{Type: "Init", DocId: *docId, SiteId: *siteId}); err != nil {
		return fmt.Errorf("failed to send init: %w", err)
	}
	var snap common.Snapshot
	if err := conn.ReadJSON(&snap); err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	r := woot.NewReplica(snap.SiteId)
	if err := r.Load(snap.Entries); err != nil {
		return err
	}
	slog.Info("joined", "doc", *docId, "site", snap.SiteId, "len", r.Len())
	fmt.Println(r.Text())

	errc := make(chan error, 2)
	go func() {
		errc <- readChanges(conn, r)
	}()
	go func() {
		errc <- readCommands(conn, r)
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	}
}

func dial(ctx context.Context, u string) (*websocket.Conn, error) {
	var conn *websocket.Conn
	op := func() error {
		c, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
		if err != nil {
			slog.Warn("failed to dial", "url", u, "err", err)
			return err
		}
		conn = c
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = time.Minute
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", u, err)
	}
	return conn, nil
}

func readChanges(conn *websocket.Conn, r *woot.Replica) error {
	for {
		var msg common.Change
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("failed to read change: %w", err)
		}
		if msg.SiteId == r.Site() {
			continue
		}
		ops, err := woot.DecodeOps(msg.OpStrs)
		if err != nil {
			slog.Warn("dropped change", "site", msg.SiteId, "err", err)
			continue
		}
		for _, op := range ops {
			if err := r.PushOp(op); err != nil {
				return err
			}
		}
		fmt.Println(r.Text())
	}
}

func readCommands(conn *websocket.Conn, r *woot.Replica) error {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		ops, err := parseCommand(r, sc.Text())
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		if len(ops) == 0 {
			continue
		}
		if err := conn.WriteJSON(&common.Update{
			Type:   "Update",
			SiteId: r.Site(),
			OpStrs: woot.EncodeOps(ops),
		}); err != nil {
			return fmt.Errorf("failed to send update: %w", err)
		}
		fmt.Println(r.Text())
	}
	return sc.Err()
}

// parseCommand applies one command line to r and returns the ops it made.
func parseCommand(r *woot.Replica, line string) ([]woot.Op, error) {
	fields := strings.SplitN(strings.TrimSpace(line), " ", 3)
	switch fields[0] {
	case "":
		return nil, nil
	case "p":
		fmt.Println(r.Text())
		return nil, nil
	case "i":
		if len(fields) != 3 {
			return nil, errors.New("usage: i <index> <text>")
		}
		i, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, err
		}
		var ops []woot.Op
		for k, ch := range []rune(fields[2]) {
			ops = append(ops, r.GenerateInsert(i+k, string(ch)))
		}
		return ops, nil
	case "d":
		if len(fields) != 2 {
			return nil, errors.New("usage: d <index>")
		}
		i, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, err
		}
		op, err := r.GenerateRemove(i)
		if err != nil {
			return nil, err
		}
		return []woot.Op{op}, nil
	default:
		return nil, fmt.Errorf("unknown command: %s", fields[0])
	}
}
