package database

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// Account represents information stored in the state trie for an individual
// account.
type Account struct {
	Address     common.Address `json:"address"`
	Nonce       uint64         `json:"nonce"`
	Balance     *uint256.Int   `json:"balance"`
	StorageRoot common.Hash    `json:"storage_root"`
	CodeHash    common.Hash    `json:"code_hash"`
}

// AccountOf reads the account record from a view.
func AccountOf(view *state.StateDB, addr common.Address) Account {
	return Account{
		Address:     addr,
		Nonce:       view.GetNonce(addr),
		Balance:     view.GetBalance(addr).Clone(),
		StorageRoot: view.GetStorageRoot(addr),
		CodeHash:    view.GetCodeHash(addr),
	}
}

// IsContract reports whether code is deployed at the account.
func (a Account) IsContract() bool {
	return a.CodeHash != (common.Hash{}) && a.CodeHash != types.EmptyCodeHash
}

// =============================================================================

// EncodeAccount returns the trie encoding of the account, the RLP list
// (nonce, balance, storage root, code hash).
func EncodeAccount(a Account) ([]byte, error) {
	balance := a.Balance
	if balance == nil {
		balance = new(uint256.Int)
	}

	root := a.StorageRoot
	if root == (common.Hash{}) {
		root = types.EmptyRootHash
	}

	codeHash := a.CodeHash
	if codeHash == (common.Hash{}) {
		codeHash = types.EmptyCodeHash
	}

	return rlp.EncodeToBytes(&types.StateAccount{
		Nonce:    a.Nonce,
		Balance:  balance,
		Root:     root,
		CodeHash: codeHash.Bytes(),
	})
}

// DecodeAccount decodes the trie encoding of an account.
func DecodeAccount(addr common.Address, data []byte) (Account, error) {
	var sa types.StateAccount
	if err := rlp.DecodeBytes(data, &sa); err != nil {
		return Account{}, err
	}

	return Account{
		Address:     addr,
		Nonce:       sa.Nonce,
		Balance:     sa.Balance,
		StorageRoot: sa.Root,
		CodeHash:    common.BytesToHash(sa.CodeHash),
	}, nil
}
