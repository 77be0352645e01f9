package storage

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"tweetattest-backend/core"
)

// Wire records for encoded stores. Times are unix nanoseconds, 0 for the zero time.

func encodeTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func decodeTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

type headRecord struct {
	Number uint64 `msgpack:"n"`
	Time   int64  `msgpack:"t"`
	Nonce  uint64 `msgpack:"nonce"`
}

func newHeadRecord(h core.Head) headRecord {
	return headRecord{Number: h.Number, Time: encodeTime(h.Time), Nonce: h.Nonce}
}

func (r headRecord) head() core.Head {
	return core.Head{Number: r.Number, Time: decodeTime(r.Time), Nonce: r.Nonce}
}

type claimRecord struct {
	AssertionID []byte `msgpack:"id"`
	Claimer     []byte `msgpack:"claimer"`
	Handle      string `msgpack:"handle"`
	Text        string `msgpack:"text"`
	Sentence    string `msgpack:"sentence"`
	SubmittedAt int64  `msgpack:"submitted_at"`
	Resolved    bool   `msgpack:"resolved"`
	Rewarded    bool   `msgpack:"rewarded"`
}

func newClaimRecord(c core.Claim) claimRecord {
	return claimRecord{
		AssertionID: c.AssertionID.Bytes(),
		Claimer:     c.Claimer.Bytes(),
		Handle:      c.TwitterHandle,
		Text:        c.TweetText,
		Sentence:    c.AssertedClaimText,
		SubmittedAt: encodeTime(c.SubmittedAt),
		Resolved:    c.IsResolved,
		Rewarded:    c.IsRewarded,
	}
}

func (r claimRecord) claim() core.Claim {
	return core.Claim{
		AssertionID:       common.BytesToHash(r.AssertionID),
		Claimer:           common.BytesToAddress(r.Claimer),
		TwitterHandle:     r.Handle,
		TweetText:         r.Text,
		AssertedClaimText: r.Sentence,
		SubmittedAt:       decodeTime(r.SubmittedAt),
		IsResolved:        r.Resolved,
		IsRewarded:        r.Rewarded,
	}
}

type assertionRecord struct {
	AssertionID          []byte `msgpack:"id"`
	Claim                []byte `msgpack:"claim"`
	Asserter             []byte `msgpack:"asserter"`
	Disputer             []byte `msgpack:"disputer"`
	CallbackRecipient    []byte `msgpack:"callback"`
	AssertionTime        int64  `msgpack:"asserted_at"`
	ExpirationTime       int64  `msgpack:"expires_at"`
	SettlementTime       int64  `msgpack:"settled_at"`
	Validated            bool   `msgpack:"validated"`
	Resolved             bool   `msgpack:"resolved"`
	DisputeResolution    bool   `msgpack:"dispute_resolution"`
	Settled              bool   `msgpack:"settled"`
	SettlementResolution bool   `msgpack:"settlement_resolution"`
}

func newAssertionRecord(a core.Assertion) assertionRecord {
	return assertionRecord{
		AssertionID:          a.AssertionID.Bytes(),
		Claim:                a.Claim,
		Asserter:             a.Asserter.Bytes(),
		Disputer:             a.Disputer.Bytes(),
		CallbackRecipient:    a.CallbackRecipient.Bytes(),
		AssertionTime:        encodeTime(a.AssertionTime),
		ExpirationTime:       encodeTime(a.ExpirationTime),
		SettlementTime:       encodeTime(a.SettlementTime),
		Validated:            a.Validated,
		Resolved:             a.Resolved,
		DisputeResolution:    a.DisputeResolution,
		Settled:              a.Settled,
		SettlementResolution: a.SettlementResolution,
	}
}

func (r assertionRecord) assertion() core.Assertion {
	return core.Assertion{
		AssertionID:          common.BytesToHash(r.AssertionID),
		Claim:                r.Claim,
		Asserter:             common.BytesToAddress(r.Asserter),
		Disputer:             common.BytesToAddress(r.Disputer),
		CallbackRecipient:    common.BytesToAddress(r.CallbackRecipient),
		AssertionTime:        decodeTime(r.AssertionTime),
		ExpirationTime:       decodeTime(r.ExpirationTime),
		SettlementTime:       decodeTime(r.SettlementTime),
		Validated:            r.Validated,
		Resolved:             r.Resolved,
		DisputeResolution:    r.DisputeResolution,
		Settled:              r.Settled,
		SettlementResolution: r.SettlementResolution,
	}
}

type logRecord struct {
	Address []byte   `msgpack:"address"`
	Topics  [][]byte `msgpack:"topics"`
	Data    []byte   `msgpack:"data"`
	Index   uint     `msgpack:"index"`
}

type receiptRecord struct {
	TxHash       []byte      `msgpack:"tx"`
	BlockNumber  uint64      `msgpack:"block"`
	BlockTime    int64       `msgpack:"time"`
	Nonce        uint64      `msgpack:"nonce"`
	From         []byte      `msgpack:"from"`
	To           []byte      `msgpack:"to"`
	Method       string      `msgpack:"method"`
	Value        []byte      `msgpack:"value"`
	Status       uint64      `msgpack:"status"`
	RevertReason string      `msgpack:"revert_reason"`
	Logs         []logRecord `msgpack:"logs"`
}

func newReceiptRecord(r core.Receipt) receiptRecord {
	rec := receiptRecord{
		TxHash:       r.TxHash.Bytes(),
		BlockNumber:  r.BlockNumber,
		BlockTime:    encodeTime(r.BlockTime),
		Nonce:        r.Nonce,
		From:         r.From.Bytes(),
		To:           r.To.Bytes(),
		Method:       r.Method,
		Status:       r.Status,
		RevertReason: r.RevertReason,
	}
	if r.Value != nil {
		rec.Value = r.Value.Bytes()
	}
	for _, l := range r.Logs {
		lr := logRecord{Address: l.Address.Bytes(), Data: l.Data, Index: l.Index}
		for _, t := range l.Topics {
			lr.Topics = append(lr.Topics, t.Bytes())
		}
		rec.Logs = append(rec.Logs, lr)
	}
	return rec
}

func (r receiptRecord) receipt() core.Receipt {
	out := core.Receipt{
		TxHash:       common.BytesToHash(r.TxHash),
		BlockNumber:  r.BlockNumber,
		BlockTime:    decodeTime(r.BlockTime),
		Nonce:        r.Nonce,
		From:         common.BytesToAddress(r.From),
		To:           common.BytesToAddress(r.To),
		Method:       r.Method,
		Value:        new(big.Int).SetBytes(r.Value),
		Status:       r.Status,
		RevertReason: r.RevertReason,
	}
	for _, lr := range r.Logs {
		l := core.Log{
			Address:     common.BytesToAddress(lr.Address),
			Data:        lr.Data,
			BlockNumber: r.BlockNumber,
			TxHash:      out.TxHash,
			Index:       lr.Index,
		}
		for _, t := range lr.Topics {
			l.Topics = append(l.Topics, common.BytesToHash(t))
		}
		out.Logs = append(out.Logs, l)
	}
	return out
}
