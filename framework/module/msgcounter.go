package module

import "sync/atomic"

// receivedMessages is the global counter for envelopes accepted from
// SMTP front-ends through the delivery channel. It is incremented
// atomically by the channel consumer; it is held in memory only.
var receivedMessages atomic.Int64

// ingestedMessages counts messages committed to the store by the IMAP
// APPEND ingest transaction.
var ingestedMessages atomic.Int64

// broadcastChanges counts StateChange notifications fanned out to the
// other protocol front-ends.
var broadcastChanges atomic.Int64

// IncrementReceivedMessages atomically adds 1 to the received counter.
func IncrementReceivedMessages() {
	receivedMessages.Add(1)
}

// GetReceivedMessages returns the current received count.
func GetReceivedMessages() int64 {
	return receivedMessages.Load()
}

// SetReceivedMessages sets the counter to a specific value.
func SetReceivedMessages(n int64) {
	receivedMessages.Store(n)
}

// IncrementIngestedMessages atomically adds 1 to the ingested counter.
func IncrementIngestedMessages() {
	ingestedMessages.Add(1)
}

// GetIngestedMessages returns the current ingested count.
func GetIngestedMessages() int64 {
	return ingestedMessages.Load()
}

// SetIngestedMessages sets the ingested counter to a specific value.
func SetIngestedMessages(n int64) {
	ingestedMessages.Store(n)
}

// IncrementBroadcastChanges atomically adds 1 to the broadcast counter.
func IncrementBroadcastChanges() {
	broadcastChanges.Add(1)
}

// GetBroadcastChanges returns the current broadcast count.
func GetBroadcastChanges() int64 {
	return broadcastChanges.Load()
}
