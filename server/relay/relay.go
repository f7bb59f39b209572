// Package relay fans changes out between hub processes serving the same
// documents, over redis pub/sub.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/asadovsky/woot/server/common"
)

// envelope is the payload published on a document channel.
type envelope struct {
	Origin string         `json:"origin"`
	Change *common.Change `json:"change"`
}

// Relay publishes local changes and delivers changes published by other hub
// processes. Messages this process published are dropped on receipt.
type Relay struct {
	rdb    *redis.Client
	origin string
}

// Dial connects to the redis server at addr.
func Dial(ctx context.Context, addr string) (*Relay, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("could not connect to redis: %w", err)
	}
	slog.Info("connected to redis", "addr", addr)
	return &Relay{rdb: rdb, origin: uuid.NewString()}, nil
}

func channel(docId string) string {
	return "woot:" + docId
}

// Publish sends c to every other hub process subscribed to docId.
func (r *Relay) Publish(ctx context.Context, docId string, c *common.Change) error {
	buf, err := json.Marshal(envelope{Origin: r.origin, Change: c})
	if err != nil {
		return err
	}
	if err := r.rdb.Publish(ctx, channel(docId), buf).Err(); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}
	return nil
}

// Subscribe calls fn for every change other processes publish for docId,
// until ctx is done.
func (r *Relay) Subscribe(ctx context.Context, docId string, fn func(c *common.Change)) {
	pubsub := r.rdb.Subscribe(ctx, channel(docId))
	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var e envelope
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					slog.Error("failed to decode relayed change", "doc", docId, "err", err)
					continue
				}
				if e.Origin == r.origin || e.Change == nil {
					continue
				}
				fn(e.Change)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (r *Relay) Close() error {
	return r.rdb.Close()
}
