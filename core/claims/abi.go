package claims

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"tweetattest-backend/core"
)

const (
	EventClaimSubmitted = "ClaimSubmitted"
	EventClaimResolved  = "ClaimResolved"
	EventRewardPaid     = "RewardPaid"
)

// RegistryABIJSON is the public surface of the claim registry.
const RegistryABIJSON = `[
  {"type":"function","name":"submitClaim","stateMutability":"nonpayable",
   "inputs":[{"name":"twitterHandle","type":"string"},{"name":"tweetText","type":"string"}],
   "outputs":[{"name":"assertionId","type":"bytes32"}]},
  {"type":"function","name":"settleAndGetAssertionResult","stateMutability":"nonpayable",
   "inputs":[{"name":"assertionId","type":"bytes32"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getAssertionResult","stateMutability":"view",
   "inputs":[{"name":"assertionId","type":"bytes32"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getAssertion","stateMutability":"view",
   "inputs":[{"name":"assertionId","type":"bytes32"}],
   "outputs":[{"name":"","type":"tuple","components":[
     {"name":"asserter","type":"address"},
     {"name":"disputer","type":"address"},
     {"name":"callbackRecipient","type":"address"},
     {"name":"assertionTime","type":"uint64"},
     {"name":"expirationTime","type":"uint64"},
     {"name":"settlementTime","type":"uint64"},
     {"name":"validated","type":"bool"},
     {"name":"resolved","type":"bool"},
     {"name":"settled","type":"bool"},
     {"name":"settlementResolution","type":"bool"}]}]},
  {"type":"function","name":"getClaimDetails","stateMutability":"view",
   "inputs":[{"name":"assertionId","type":"bytes32"}],
   "outputs":[{"name":"claimer","type":"address"},{"name":"twitterHandle","type":"string"},
     {"name":"tweetText","type":"string"},{"name":"isResolved","type":"bool"},{"name":"isRewarded","type":"bool"}]},
  {"type":"function","name":"isClaimVerified","stateMutability":"view",
   "inputs":[{"name":"assertionId","type":"bytes32"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"canBeSettled","stateMutability":"view",
   "inputs":[{"name":"assertionId","type":"bytes32"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"receive","stateMutability":"payable"},
  {"type":"event","name":"ClaimSubmitted","anonymous":false,"inputs":[
    {"name":"assertionId","type":"bytes32","indexed":true},
    {"name":"claimer","type":"address","indexed":true},
    {"name":"twitterHandle","type":"string","indexed":false},
    {"name":"tweetText","type":"string","indexed":false}]},
  {"type":"event","name":"ClaimResolved","anonymous":false,"inputs":[
    {"name":"assertionId","type":"bytes32","indexed":true},
    {"name":"truthful","type":"bool","indexed":false}]},
  {"type":"event","name":"RewardPaid","anonymous":false,"inputs":[
    {"name":"assertionId","type":"bytes32","indexed":true},
    {"name":"claimer","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false}]}
]`

// RegistryABI is the parsed registry ABI.
var RegistryABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(RegistryABIJSON))
	if err != nil {
		panic(fmt.Sprintf("registry abi: %v", err))
	}
	RegistryABI = parsed
}

// Event is a decoded registry log.
type Event struct {
	Name          string         `json:"name"`
	AssertionID   common.Hash    `json:"assertion_id"`
	Claimer       common.Address `json:"claimer,omitempty"`
	TwitterHandle string         `json:"twitter_handle,omitempty"`
	TweetText     string         `json:"tweet_text,omitempty"`
	Truthful      bool           `json:"truthful"`
	Amount        *big.Int       `json:"amount,omitempty"`
}

// ErrUnknownEvent is returned by DecodeLog for logs the registry did not emit.
const ErrUnknownEvent = core.Err("not a registry event")

// DecodeLog decodes a registry log against RegistryABI.
func DecodeLog(l core.Log) (Event, error) {
	if len(l.Topics) < 2 {
		return Event{}, ErrUnknownEvent
	}
	ev, err := RegistryABI.EventByID(l.Topics[0])
	if err != nil {
		return Event{}, ErrUnknownEvent
	}
	values := map[string]interface{}{}
	if err := ev.Inputs.NonIndexed().UnpackIntoMap(values, l.Data); err != nil {
		return Event{}, fmt.Errorf("decode %s: %w", ev.Name, err)
	}
	out := Event{Name: ev.Name, AssertionID: l.Topics[1]}
	switch ev.Name {
	case EventClaimSubmitted:
		if len(l.Topics) < 3 {
			return Event{}, fmt.Errorf("decode %s: missing claimer topic", ev.Name)
		}
		out.Claimer = common.BytesToAddress(l.Topics[2].Bytes())
		out.TwitterHandle, _ = values["twitterHandle"].(string)
		out.TweetText, _ = values["tweetText"].(string)
	case EventClaimResolved:
		out.Truthful, _ = values["truthful"].(bool)
	case EventRewardPaid:
		if len(l.Topics) < 3 {
			return Event{}, fmt.Errorf("decode %s: missing claimer topic", ev.Name)
		}
		out.Claimer = common.BytesToAddress(l.Topics[2].Bytes())
		out.Amount, _ = values["amount"].(*big.Int)
		out.Truthful = true
	}
	return out, nil
}

// encodeEvent builds the topics and data of a registry log. indexed are the
// topic values after the signature, args the non-indexed values in order.
func encodeEvent(name string, indexed []common.Hash, args ...interface{}) ([]common.Hash, []byte, error) {
	ev, ok := RegistryABI.Events[name]
	if !ok {
		return nil, nil, fmt.Errorf("unknown event %s", name)
	}
	data, err := ev.Inputs.NonIndexed().Pack(args...)
	if err != nil {
		return nil, nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return append([]common.Hash{ev.ID}, indexed...), data, nil
}

func addressTopic(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}
