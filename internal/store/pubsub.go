package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Publish marshals payload to JSON and publishes it on channel. Used for
// job_updates, job_updates:{id}, and job_notifications.
func (s *Store) Publish(ctx context.Context, channel string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal pubsub payload: %w", err)
	}
	return s.rdb.Publish(ctx, channel, raw).Err()
}

// Subscribe starts a forwarder goroutine that hands the raw payload bytes
// of every message on channel to onMsg. It mirrors the teacher's
// redisBus.StartForwarder: confirm the subscription actually started before
// returning, then pump messages until ctx is cancelled.
func (s *Store) Subscribe(ctx context.Context, log interface {
	Warn(string, ...interface{})
}, channel string, onMsg func(raw []byte)) error {
	sub := s.rdb.Subscribe(ctx, channel)

	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				onMsg([]byte(m.Payload))
			}
		}
	}()

	return nil
}
