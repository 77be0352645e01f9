package oracle

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"tweetattest-backend/core"
)

const (
	EventAssertionMade     = "AssertionMade"
	EventAssertionDisputed = "AssertionDisputed"
	EventAssertionSettled  = "AssertionSettled"
)

// ABIJSON describes the oracle events the simulator emits.
const ABIJSON = `[
  {"type":"event","name":"AssertionMade","anonymous":false,"inputs":[
    {"name":"assertionId","type":"bytes32","indexed":true},
    {"name":"claim","type":"bytes","indexed":false},
    {"name":"asserter","type":"address","indexed":true},
    {"name":"expirationTime","type":"uint64","indexed":false}]},
  {"type":"event","name":"AssertionDisputed","anonymous":false,"inputs":[
    {"name":"assertionId","type":"bytes32","indexed":true},
    {"name":"disputer","type":"address","indexed":true}]},
  {"type":"event","name":"AssertionSettled","anonymous":false,"inputs":[
    {"name":"assertionId","type":"bytes32","indexed":true},
    {"name":"disputed","type":"bool","indexed":false},
    {"name":"settlementResolution","type":"bool","indexed":false}]}
]`

// ABI is the parsed oracle event ABI.
var ABI = mustParse(ABIJSON)

// AssertionMadeTopic is topic 0 of AssertionMade logs; topic 1 carries the assertion id.
var AssertionMadeTopic = ABI.Events[EventAssertionMade].ID

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("oracle abi: %v", err))
	}
	return parsed
}

// Event is a decoded oracle log.
type Event struct {
	Name                 string         `json:"name"`
	AssertionID          common.Hash    `json:"assertion_id"`
	Claim                []byte         `json:"claim,omitempty"`
	Asserter             common.Address `json:"asserter,omitempty"`
	Disputer             common.Address `json:"disputer,omitempty"`
	ExpirationTime       uint64         `json:"expiration_time,omitempty"`
	Disputed             bool           `json:"disputed"`
	SettlementResolution bool           `json:"settlement_resolution"`
}

// ErrUnknownEvent is returned by DecodeLog for logs not emitted by the oracle.
const ErrUnknownEvent = core.Err("not an oracle event")

// DecodeLog decodes an oracle log.
func DecodeLog(l core.Log) (Event, error) {
	if len(l.Topics) < 2 {
		return Event{}, ErrUnknownEvent
	}
	ev, err := ABI.EventByID(l.Topics[0])
	if err != nil {
		return Event{}, ErrUnknownEvent
	}
	out := Event{Name: ev.Name, AssertionID: l.Topics[1]}
	values := map[string]interface{}{}
	if len(ev.Inputs.NonIndexed()) > 0 {
		if err := ev.Inputs.NonIndexed().UnpackIntoMap(values, l.Data); err != nil {
			return Event{}, fmt.Errorf("decode %s: %w", ev.Name, err)
		}
	}
	switch ev.Name {
	case EventAssertionMade:
		if len(l.Topics) < 3 {
			return Event{}, fmt.Errorf("decode %s: missing asserter topic", ev.Name)
		}
		out.Asserter = common.BytesToAddress(l.Topics[2].Bytes())
		out.Claim, _ = values["claim"].([]byte)
		out.ExpirationTime, _ = values["expirationTime"].(uint64)
	case EventAssertionDisputed:
		if len(l.Topics) < 3 {
			return Event{}, fmt.Errorf("decode %s: missing disputer topic", ev.Name)
		}
		out.Disputer = common.BytesToAddress(l.Topics[2].Bytes())
		out.Disputed = true
	case EventAssertionSettled:
		out.Disputed, _ = values["disputed"].(bool)
		out.SettlementResolution, _ = values["settlementResolution"].(bool)
	}
	return out, nil
}

func addressTopic(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}
