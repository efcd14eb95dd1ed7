package crowdsaled

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"tokensale/native/crowdsale"
	"tokensale/storage"
)

var (
	ledgerKey = []byte("crowdsale/ledger")
	tokensKey = []byte("crowdsale/tokens")
)

// StateStore persists the ledger snapshot and token balances together.
type StateStore struct {
	db storage.Database
}

func NewStateStore(db storage.Database) *StateStore {
	return &StateStore{db: db}
}

// PersistedState is what Load returns.
type PersistedState struct {
	Ledger crowdsale.Snapshot
	Tokens map[common.Address]*big.Int
}

// Save writes both records in one batch.
func (s *StateStore) Save(snapshot crowdsale.Snapshot, holders map[common.Address]*big.Int) error {
	ledgerBytes, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode ledger snapshot: %w", err)
	}
	tokenBytes, err := json.Marshal(holders)
	if err != nil {
		return fmt.Errorf("encode token balances: %w", err)
	}
	batch := new(storage.Batch)
	batch.Put(ledgerKey, ledgerBytes)
	batch.Put(tokensKey, tokenBytes)
	return s.db.Write(batch)
}

// Load returns the persisted state. The boolean is false when nothing has
// been saved yet.
func (s *StateStore) Load() (*PersistedState, bool, error) {
	ledgerBytes, err := s.db.Get(ledgerKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read ledger snapshot: %w", err)
	}
	state := &PersistedState{Tokens: map[common.Address]*big.Int{}}
	if err := json.Unmarshal(ledgerBytes, &state.Ledger); err != nil {
		return nil, false, fmt.Errorf("decode ledger snapshot: %w", err)
	}
	tokenBytes, err := s.db.Get(tokensKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, false, fmt.Errorf("read token balances: %w", err)
	default:
		if err := json.Unmarshal(tokenBytes, &state.Tokens); err != nil {
			return nil, false, fmt.Errorf("decode token balances: %w", err)
		}
	}
	return state, true, nil
}
