// Package delivery implements the bounded SMTP-to-ingest IPC channel: a
// multi-producer, single-consumer bridge from parsed SMTP envelopes to
// the worker that hands them to the message store, running entirely
// in-process over a buffered Go channel.
package delivery

import (
	"context"

	"github.com/google/uuid"

	"github.com/madkernel/server/framework/log"
	"github.com/madkernel/server/framework/module"
)

// IPCChannelBuffer is the channel's fixed capacity.
const IPCChannelBuffer = 1024

// DeliveryResultKind classifies a single recipient's delivery outcome.
type DeliveryResultKind int

const (
	DeliverySuccess DeliveryResultKind = iota
	DeliveryTemporaryFailure
	DeliveryPermanentFailure
)

// DeliveryResult is the per-recipient outcome of an ingest request.
type DeliveryResult struct {
	Kind   DeliveryResultKind
	Code   [3]int // SMTP-style enhanced status code, PermanentFailure only
	Reason string
}

// IngestMessage is the envelope an SMTP producer hands to the delivery
// channel for ingestion.
type IngestMessage struct {
	SenderAddress string
	Recipients    []string
	MessageBlob   module.BlobHash
	MessageSize   int64
	SessionID     uint64
}

// event is the channel's only payload type: either an ingest request
// carrying its one-shot reply port, or a stop signal. requestID never
// crosses the wire; it only threads a correlation id through this
// process's own logs.
type event struct {
	isStop    bool
	message   IngestMessage
	resultTx  chan []DeliveryResult
	requestID string
}

// Channel is the bounded multi-producer/single-consumer IPC channel.
// Producers call Send and block (respecting ctx) when the channel is
// full; the single consumer calls Run to drain events in FIFO order.
type Channel struct {
	Log log.Logger

	events chan event
}

// New builds a Channel with the fixed IPCChannelBuffer capacity.
func New() *Channel {
	return &Channel{events: make(chan event, IPCChannelBuffer)}
}

// Send enqueues an ingest request and returns the one-shot reply port the
// caller should receive on. It blocks until there is room in the channel
// or ctx is done, so producers see backpressure when the channel is
// full.
func (c *Channel) Send(ctx context.Context, msg IngestMessage) (<-chan []DeliveryResult, error) {
	resultTx := make(chan []DeliveryResult, 1)
	requestID := uuid.NewString()
	ev := event{message: msg, resultTx: resultTx, requestID: requestID}
	select {
	case c.events <- ev:
		c.Log.DebugMsg("ingest request queued", "request_id", requestID, "session_id", msg.SessionID)
		return resultTx, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop enqueues the terminal event; Run drains whatever is already queued
// ahead of it before honoring it.
func (c *Channel) Stop(ctx context.Context) error {
	select {
	case c.events <- event{isStop: true}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler processes one ingest request into a per-recipient result vector.
type Handler func(ctx context.Context, msg IngestMessage) []DeliveryResult

// Run is the single consumer: it drains events in FIFO order, invoking
// handler for each Ingest event and delivering the result vector on the
// request's reply port. A producer that has abandoned its reply port
// (ctx canceled, e.g. on connection close) simply never receives the
// send below; the result is discarded without risking a
// send-on-closed-channel panic from an explicit close. The reply port is
// buffered for exactly one result, so the send never blocks, even once
// ctx is done.
func (c *Channel) Run(ctx context.Context, handler Handler) {
	for {
		select {
		case ev := <-c.events:
			if ev.isStop {
				return
			}
			module.IncrementReceivedMessages()
			results := handler(ctx, ev.message)
			c.Log.DebugMsg("ingest request handled", "request_id", ev.requestID, "session_id", ev.message.SessionID)
			ev.resultTx <- results
		case <-ctx.Done():
			return
		}
	}
}
