// Package events turns ledger receipts into registry events and fans them out
// to the recent-events buffer, live listeners and external sinks.
package events

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"tweetattest-backend/core"
	"tweetattest-backend/core/claims"
	"tweetattest-backend/core/oracle"
)

// Event types.
const (
	TypeClaimSubmitted    = "claim_submitted"
	TypeClaimResolved     = "claim_resolved"
	TypeRewardPaid        = "reward_paid"
	TypeAssertionMade     = "assertion_made"
	TypeAssertionDisputed = "assertion_disputed"
	TypeAssertionSettled  = "assertion_settled"
	TypeDeposit           = "deposit"
	TypeTxReverted        = "tx_reverted"
)

// Event is one registry activity record.
type Event struct {
	Type        string                 `json:"type"`
	EntityID    string                 `json:"entity_id"` // assertion id, or tx hash for deposits and reverts
	Actor       string                 `json:"actor"`     // transaction sender
	Message     string                 `json:"message"`
	TxHash      string                 `json:"tx_hash"`
	BlockNumber uint64                 `json:"block_number"`
	Data        map[string]interface{} `json:"data,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// Sink receives every published event.
type Sink func(Event)

// Filter selects events; empty fields match anything.
type Filter struct {
	Type     string
	Actor    string
	EntityID string
}

// Matches reports whether evt passes the filter.
func (f Filter) Matches(evt Event) bool {
	if f.Type != "" && !strings.EqualFold(evt.Type, f.Type) {
		return false
	}
	if f.Actor != "" && !strings.EqualFold(evt.Actor, f.Actor) {
		return false
	}
	if f.EntityID != "" && !strings.EqualFold(evt.EntityID, f.EntityID) {
		return false
	}
	return true
}

const defaultCapacity = 200

// Bus keeps the most recent events and fans new ones out to sinks.
type Bus struct {
	mu       sync.Mutex
	capacity int
	recent   []Event // newest first
	nextID   int
	sinks    map[int]Sink
}

// NewBus returns a bus remembering up to capacity events.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Bus{capacity: capacity, sinks: make(map[int]Sink)}
}

// Subscribe registers s and returns a function removing it.
func (b *Bus) Subscribe(s Sink) (cancel func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.sinks[id] = s
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.sinks, id)
		b.mu.Unlock()
	}
}

// Publish records evt and delivers it to every sink.
func (b *Bus) Publish(evt Event) {
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now()
	}
	b.mu.Lock()
	b.recent = append([]Event{evt}, b.recent...)
	if len(b.recent) > b.capacity {
		b.recent = b.recent[:b.capacity]
	}
	sinks := make([]Sink, 0, len(b.sinks))
	for _, s := range b.sinks {
		sinks = append(sinks, s)
	}
	b.mu.Unlock()

	for _, s := range sinks {
		s(evt)
	}
}

// Recent returns up to limit matching events, newest first. limit <= 0 means all.
func (b *Bus) Recent(f Filter, limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, 0, len(b.recent))
	for _, evt := range b.recent {
		if !f.Matches(evt) {
			continue
		}
		out = append(out, evt)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// PublishReceipt decodes the logs of r and publishes one event per known log.
// A reverted receipt yields a single tx_reverted event carrying the error code.
func (b *Bus) PublishReceipt(r *core.Receipt) {
	for _, evt := range FromReceipt(r) {
		b.Publish(evt)
	}
}

// FromReceipt converts a receipt into events.
func FromReceipt(r *core.Receipt) []Event {
	if r == nil {
		return nil
	}
	base := Event{
		Actor:       r.From.Hex(),
		TxHash:      r.TxHash.Hex(),
		BlockNumber: r.BlockNumber,
		CreatedAt:   r.BlockTime,
	}
	if !r.Succeeded() {
		evt := base
		evt.Type = TypeTxReverted
		evt.EntityID = r.TxHash.Hex()
		evt.Message = fmt.Sprintf("%s reverted: %s", r.Method, r.RevertReason)
		evt.Data = map[string]interface{}{"method": r.Method, "code": revertCode(r.RevertReason)}
		return []Event{evt}
	}

	var out []Event
	if r.Method == "receive" && r.Value != nil && r.Value.Sign() > 0 {
		evt := base
		evt.Type = TypeDeposit
		evt.EntityID = r.TxHash.Hex()
		evt.Message = fmt.Sprintf("deposit of %s wei to %s", r.Value, r.To.Hex())
		evt.Data = map[string]interface{}{"amount_wei": r.Value.String()}
		out = append(out, evt)
	}
	for _, l := range r.Logs {
		if evt, ok := fromRegistryLog(base, l); ok {
			out = append(out, evt)
			continue
		}
		if evt, ok := fromOracleLog(base, l); ok {
			out = append(out, evt)
		}
	}
	return out
}

func fromRegistryLog(base Event, l core.Log) (Event, bool) {
	ev, err := claims.DecodeLog(l)
	if err != nil {
		return Event{}, false
	}
	evt := base
	evt.EntityID = ev.AssertionID.Hex()
	switch ev.Name {
	case claims.EventClaimSubmitted:
		evt.Type = TypeClaimSubmitted
		evt.Message = fmt.Sprintf("@%s claim submitted by %s", ev.TwitterHandle, ev.Claimer.Hex())
		evt.Data = map[string]interface{}{"claimer": ev.Claimer.Hex(), "twitter_handle": ev.TwitterHandle}
	case claims.EventClaimResolved:
		evt.Type = TypeClaimResolved
		evt.Message = fmt.Sprintf("claim resolved: truthful=%t", ev.Truthful)
		evt.Data = map[string]interface{}{"truthful": ev.Truthful}
	case claims.EventRewardPaid:
		evt.Type = TypeRewardPaid
		amount := "0"
		if ev.Amount != nil {
			amount = ev.Amount.String()
		}
		evt.Message = fmt.Sprintf("reward of %s wei paid to %s", amount, ev.Claimer.Hex())
		evt.Data = map[string]interface{}{"claimer": ev.Claimer.Hex(), "amount_wei": amount}
	default:
		return Event{}, false
	}
	return evt, true
}

func fromOracleLog(base Event, l core.Log) (Event, bool) {
	ev, err := oracle.DecodeLog(l)
	if err != nil {
		return Event{}, false
	}
	evt := base
	evt.EntityID = ev.AssertionID.Hex()
	switch ev.Name {
	case oracle.EventAssertionMade:
		evt.Type = TypeAssertionMade
		evt.Message = fmt.Sprintf("assertion open until %s", time.Unix(int64(ev.ExpirationTime), 0).UTC().Format(time.RFC3339))
		evt.Data = map[string]interface{}{"expiration_time": ev.ExpirationTime}
	case oracle.EventAssertionDisputed:
		evt.Type = TypeAssertionDisputed
		evt.Message = fmt.Sprintf("assertion disputed by %s", ev.Disputer.Hex())
		evt.Data = map[string]interface{}{"disputer": ev.Disputer.Hex()}
	case oracle.EventAssertionSettled:
		evt.Type = TypeAssertionSettled
		evt.Message = fmt.Sprintf("assertion settled: resolution=%t", ev.SettlementResolution)
		evt.Data = map[string]interface{}{"disputed": ev.Disputed, "resolution": ev.SettlementResolution}
	default:
		return Event{}, false
	}
	return evt, true
}

// revertCode recovers the wire code from a revert reason.
func revertCode(reason string) string {
	for _, sentinel := range []error{
		core.ErrClaimNotFound, core.ErrAlreadyResolved, core.ErrInsufficientBalance, core.ErrInsufficientFunds,
		core.ErrAssertionNotFound, core.ErrAssertionNotExpired, core.ErrAssertionExpired, core.ErrAssertionDisputed,
		core.ErrAssertionNotDisputed, core.ErrDisputeUnresolved, core.ErrDisputeResolved, core.ErrAssertionSettled,
		core.ErrClaimExists, core.ErrAssertionExists, core.ErrInvalidInput,
	} {
		if strings.Contains(reason, sentinel.Error()) {
			code, _ := core.Code(sentinel)
			return code
		}
	}
	return "INTERNAL"
}
