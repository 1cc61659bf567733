package contract

import (
	"encoding/json"
	"errors"
	"fmt"

	"racewager/core/types"
	"racewager/storage"
)

var (
	matchKeyPrefix   = []byte("matchescrow/match/")
	accountKeyPrefix = []byte("matchescrow/account/")
)

// KVState persists the contract engine's matches and accounts in a key-value
// database. It is the standalone-node equivalent of the chain state trie.
type KVState struct {
	db    storage.Database
	vault [20]byte
}

// NewKVState wraps a database as engine state with the given vault address.
func NewKVState(db storage.Database, vault [20]byte) *KVState {
	return &KVState{db: db, vault: vault}
}

var _ engineState = (*KVState)(nil)

// MatchPut stores the match record.
func (s *KVState) MatchPut(m *Match) error {
	if m == nil {
		return fmt.Errorf("contract escrow: nil match")
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("contract escrow: encode match: %w", err)
	}
	return s.db.Put(matchKey(m.ID), raw)
}

// MatchGet loads a match record by id.
func (s *KVState) MatchGet(id [32]byte) (*Match, bool) {
	raw, err := s.db.Get(matchKey(id))
	if err != nil {
		return nil, false
	}
	var m Match
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	return &m, true
}

// VaultAddress returns the module vault holding escrowed stakes.
func (s *KVState) VaultAddress() [20]byte { return s.vault }

// GetAccount loads an account, returning a zero-balance account for unknown
// addresses.
func (s *KVState) GetAccount(addr []byte) (*types.Account, error) {
	raw, err := s.db.Get(accountKey(addr))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ensureAccount(nil), nil
		}
		return nil, fmt.Errorf("contract escrow: read account: %w", err)
	}
	var acc types.Account
	if err := json.Unmarshal(raw, &acc); err != nil {
		return nil, fmt.Errorf("contract escrow: decode account: %w", err)
	}
	return ensureAccount(&acc), nil
}

// PutAccount stores an account record.
func (s *KVState) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("contract escrow: nil account")
	}
	raw, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("contract escrow: encode account: %w", err)
	}
	return s.db.Put(accountKey(addr), raw)
}

func matchKey(id [32]byte) []byte {
	return append(append([]byte(nil), matchKeyPrefix...), id[:]...)
}

func accountKey(addr []byte) []byte {
	return append(append([]byte(nil), accountKeyPrefix...), addr...)
}
