package client

import (
	"github.com/ethereum/go-ethereum/common"

	"tweetattest-backend/core"
	"tweetattest-backend/core/claims"
	"tweetattest-backend/core/oracle"
)

// AssertionIDFromLogs recovers the assertion id from a submission receipt.
// Only logs emitted by the deployment's registry or oracle are considered.
// The registry's ClaimSubmitted event is preferred; otherwise topic 1 of the
// oracle's AssertionMade log is used.
func AssertionIDFromLogs(logs []core.Log, info core.ChainInfo) (common.Hash, bool) {
	for _, l := range logs {
		if l.Address != info.RegistryAddress {
			continue
		}
		ev, err := claims.DecodeLog(l)
		if err == nil && ev.Name == claims.EventClaimSubmitted {
			return ev.AssertionID, true
		}
	}
	if info.OracleAddress == (common.Address{}) {
		return common.Hash{}, false
	}
	for _, l := range logs {
		if l.Address == info.OracleAddress && len(l.Topics) > 1 && l.Topics[0] == oracle.AssertionMadeTopic {
			return l.Topics[1], true
		}
	}
	return common.Hash{}, false
}
