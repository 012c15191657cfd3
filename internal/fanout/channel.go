// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package fanout

import (
	"context"
	"errors"
	"strings"
)

// ErrChannelClosed is returned when publishing or subscribing on a closed channel.
var ErrChannelClosed = errors.New("fan-out channel closed")

// subscriptionBuffer is the per-subscription delivery buffer.
const subscriptionBuffer = 64

// Channel is a best-effort, non-durable publish/subscribe primitive with one
// logical channel per job. Delivery is at-most-once; subscribers that miss a
// message recover from the job snapshot.
type Channel interface {
	// Publish sends payload to every current subscriber of jobID.
	Publish(ctx context.Context, jobID string, payload []byte) error

	// Subscribe opens a subscription for jobID. The subscription is live when
	// Subscribe returns.
	Subscribe(ctx context.Context, jobID string) (Subscription, error)

	// Ping checks connectivity to the underlying transport.
	Ping(ctx context.Context) error

	Close() error
}

// Subscription delivers payloads published for one job.
type Subscription interface {
	// Messages is closed when the subscription ends.
	Messages() <-chan []byte
	Close() error
}

// Topic returns the subject for a job: "jobs.<job id>". Characters with
// meaning in NATS subjects are replaced, so distinct job IDs may share a
// topic; receivers filter on the envelope's job ID.
func Topic(jobID string) string {
	return "jobs." + subjectReplacer.Replace(jobID)
}

var subjectReplacer = strings.NewReplacer(
	".", "_",
	"*", "_",
	">", "_",
	" ", "_",
	"\t", "_",
	"\n", "_",
	"\r", "_",
)
