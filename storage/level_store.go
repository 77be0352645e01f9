package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	lvlstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/vmihailenco/msgpack/v5"

	"tweetattest-backend/core"
)

var (
	headKey         = []byte("h")
	claimPrefix     = []byte("c/")
	indexPrefix     = []byte("i/")
	assertionPrefix = []byte("a/")
	balancePrefix   = []byte("b/")
	receiptPrefix   = []byte("r/")
)

// LevelStore persists ledger state in an embedded LevelDB. Records are msgpack encoded.
type LevelStore struct {
	db *leveldb.DB
}

// NewLevelStore opens (or creates) a database under path.
func NewLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelStore{db: db}, nil
}

// NewMemLevelStore opens a LevelDB backed by memory storage.
func NewMemLevelStore() (*LevelStore, error) {
	db, err := leveldb.Open(lvlstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &LevelStore{db: db}, nil
}

func (s *LevelStore) View(ctx context.Context, fn func(core.StateReader) error) error {
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return fmt.Errorf("leveldb snapshot: %w", err)
	}
	defer snap.Release()
	return fn(levelState{r: snap})
}

func (s *LevelStore) Update(ctx context.Context, fn func(core.StateWriter) error) error {
	tr, err := s.db.OpenTransaction()
	if err != nil {
		return fmt.Errorf("leveldb transaction: %w", err)
	}
	if err := fn(levelState{r: tr, w: tr}); err != nil {
		tr.Discard()
		return err
	}
	if err := tr.Commit(); err != nil {
		return fmt.Errorf("leveldb commit: %w", err)
	}
	return nil
}

func (s *LevelStore) Close() error { return s.db.Close() }

type levelReader interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
	NewIterator(slice *util.Range, ro *opt.ReadOptions) iterator.Iterator
}

type levelWriter interface {
	Put(key, value []byte, wo *opt.WriteOptions) error
}

// levelState serves reads from a snapshot or transaction; w is nil for snapshots.
type levelState struct {
	r levelReader
	w levelWriter
}

func key(prefix []byte, parts ...[]byte) []byte {
	k := append([]byte{}, prefix...)
	for _, p := range parts {
		k = append(k, p...)
	}
	return k
}

func (l levelState) get(k []byte, v any) error {
	raw, err := l.r.Get(k, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return core.ErrNotFound
	}
	if err != nil {
		return err
	}
	return msgpack.Unmarshal(raw, v)
}

func (l levelState) put(k []byte, v any) error {
	raw, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	return l.w.Put(k, raw, nil)
}

func (l levelState) Head(ctx context.Context) (core.Head, error) {
	var rec headRecord
	if err := l.get(headKey, &rec); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.Head{}, nil
		}
		return core.Head{}, err
	}
	return rec.head(), nil
}

func (l levelState) Claim(ctx context.Context, id common.Hash) (core.Claim, error) {
	var rec claimRecord
	if err := l.get(key(claimPrefix, id.Bytes()), &rec); err != nil {
		return core.Claim{}, err
	}
	return rec.claim(), nil
}

func (l levelState) ClaimsByClaimer(ctx context.Context, claimer common.Address) ([]common.Hash, error) {
	prefix := key(indexPrefix, claimer.Bytes())
	it := l.r.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	var ids []common.Hash
	for it.Next() {
		k := it.Key()
		if len(k) < len(prefix)+8+common.HashLength {
			continue
		}
		ids = append(ids, common.BytesToHash(k[len(prefix)+8:]))
	}
	return ids, it.Error()
}

func (l levelState) Assertion(ctx context.Context, id common.Hash) (core.Assertion, error) {
	var rec assertionRecord
	if err := l.get(key(assertionPrefix, id.Bytes()), &rec); err != nil {
		return core.Assertion{}, err
	}
	return rec.assertion(), nil
}

func (l levelState) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	raw, err := l.r.Get(key(balancePrefix, addr.Bytes()), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}

func (l levelState) Receipt(ctx context.Context, txHash common.Hash) (core.Receipt, error) {
	var rec receiptRecord
	if err := l.get(key(receiptPrefix, txHash.Bytes()), &rec); err != nil {
		return core.Receipt{}, err
	}
	return rec.receipt(), nil
}

func (l levelState) SetHead(ctx context.Context, head core.Head) error {
	return l.put(headKey, newHeadRecord(head))
}

func (l levelState) PutClaim(ctx context.Context, claim core.Claim) error {
	ck := key(claimPrefix, claim.AssertionID.Bytes())
	if _, err := l.r.Get(ck, nil); errors.Is(err, leveldb.ErrNotFound) {
		var ts [8]byte
		binary.BigEndian.PutUint64(ts[:], uint64(claim.SubmittedAt.UnixNano()))
		ik := key(indexPrefix, claim.Claimer.Bytes(), ts[:], claim.AssertionID.Bytes())
		if err := l.w.Put(ik, nil, nil); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	return l.put(ck, newClaimRecord(claim))
}

func (l levelState) PutAssertion(ctx context.Context, a core.Assertion) error {
	return l.put(key(assertionPrefix, a.AssertionID.Bytes()), newAssertionRecord(a))
}

func (l levelState) SetBalance(ctx context.Context, addr common.Address, wei *big.Int) error {
	if wei.Sign() < 0 {
		return fmt.Errorf("%w: negative balance", core.ErrInvalidInput)
	}
	return l.w.Put(key(balancePrefix, addr.Bytes()), wei.Bytes(), nil)
}

func (l levelState) PutReceipt(ctx context.Context, r core.Receipt) error {
	return l.put(key(receiptPrefix, r.TxHash.Bytes()), newReceiptRecord(r))
}
