package server

import (
	"context"
	"sync"
	"time"

	"github.com/ProPulseLabs/teamcore/internal/payouts"
)

const (
	// RealtimeEventTeamUpdated fires when a member's network changes
	// (placement, activation, rank movement).
	RealtimeEventTeamUpdated = "team_updated"
	// RealtimeEventPayoutStatus fires when a payout request changes state.
	RealtimeEventPayoutStatus = "payout_status"

	realtimeEventHeartbeat = "heartbeat"
	realtimeSourceBackend  = "teamcore-backend"
)

// RealtimeMessage is one event delivered to a member's open streams.
type RealtimeMessage struct {
	MemberID  string
	EventType string
	Payload   map[string]any
	Timestamp time.Time
}

// RealtimeDispatcher fans events out to per-member subscribers. Slow
// consumers drop messages rather than block publishers.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

// Subscribe opens a stream for one member. The stream closes its delivery
// when ctx ends or the returned cleanup runs.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, memberID string) (<-chan RealtimeMessage, func()) {
	if memberID == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(memberID, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(memberID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers a message to every open stream of its member.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.MemberID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.MemberID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// PayoutStatusListener bridges payout status changes onto the member's open
// event streams so the payout page refreshes without polling.
func PayoutStatusListener(dispatcher *RealtimeDispatcher) payouts.StatusListener {
	return func(row payouts.Payout) {
		payload := map[string]any{
			"payoutId":        row.ID,
			"referenceNumber": row.ReferenceNumber,
			"status":          row.Status,
		}
		if row.TxHash != "" {
			payload["txHash"] = row.TxHash
		}
		if row.FailureReason != "" {
			payload["failureReason"] = row.FailureReason
		}
		dispatcher.Publish(RealtimeMessage{
			MemberID:  row.MemberID,
			EventType: RealtimeEventPayoutStatus,
			Payload:   payload,
			Timestamp: time.Now().UTC(),
		})
	}
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(memberID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[memberID]; !ok {
		d.subscribers[memberID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[memberID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(memberID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[memberID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, memberID)
		}
	}
	d.mu.Unlock()
}
