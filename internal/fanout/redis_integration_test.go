// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

//go:build integration

package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/herald/internal/testinfra"
)

func TestRedisChannelIntegration(t *testing.T) {
	rdb := testinfra.NewRedisClient(t)
	ctx := context.Background()
	ch := NewRedisChannel(rdb, "")

	if err := ch.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	sub, err := ch.Subscribe(ctx, "job-r")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := ch.Publish(ctx, "job-r", []byte(`{"stage":"weather"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := string(receive(t, sub, 5*time.Second)); got != `{"stage":"weather"}` {
		t.Errorf("payload = %s", got)
	}

	if err := sub.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	select {
	case _, ok := <-sub.Messages():
		if ok {
			t.Error("message after close")
		}
	case <-time.After(2 * time.Second):
		t.Error("Messages not closed")
	}
}
