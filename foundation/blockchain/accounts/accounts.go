// Package accounts maintains the unlocked development accounts the node can
// sign with, plus a name lookup for them.
package accounts

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/omahs/ganache/foundation/blockchain/signature"
)

// ErrLocked is returned when signing is requested for an account the
// keystore has no key for.
var ErrLocked = errors.New("account is locked")

// Keystore manages the private keys of the unlocked accounts.
type Keystore struct {
	mu    sync.RWMutex
	keys  map[common.Address]*ecdsa.PrivateKey
	names map[common.Address]string
	order []common.Address
}

// New constructs a keystore with count accounts derived from the seed. The
// same seed always produces the same accounts in the same order.
func New(seed string, count int) (*Keystore, error) {
	ks := Keystore{
		keys:  make(map[common.Address]*ecdsa.PrivateKey),
		names: make(map[common.Address]string),
	}

	for i := 0; i < count; i++ {
		privateKey, err := derive(seed, uint32(i))
		if err != nil {
			return nil, fmt.Errorf("deriving account %d: %w", i, err)
		}

		ks.Add(fmt.Sprintf("account%d", i), privateKey)
	}

	return &ks, nil
}

// LoadFolder walks the folder and adds every .ecdsa key file it finds. The
// name of the account is the file name without the extension.
func (ks *Keystore) LoadFolder(root string) error {
	fn := func(fileName string, info fs.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("walkdir failure: %w", err)
		}

		if path.Ext(fileName) != ".ecdsa" {
			return nil
		}

		privateKey, err := crypto.LoadECDSA(fileName)
		if err != nil {
			return err
		}

		ks.Add(strings.TrimSuffix(path.Base(fileName), ".ecdsa"), privateKey)

		return nil
	}

	if err := filepath.Walk(root, fn); err != nil {
		return fmt.Errorf("walking directory: %w", err)
	}

	return nil
}

// Add unlocks the account for the private key under the specified name.
func (ks *Keystore) Add(name string, privateKey *ecdsa.PrivateKey) common.Address {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	addr := crypto.PubkeyToAddress(privateKey.PublicKey)
	if _, exists := ks.keys[addr]; !exists {
		ks.order = append(ks.order, addr)
	}

	ks.keys[addr] = privateKey
	ks.names[addr] = name

	return addr
}

// Accounts returns the unlocked accounts in the order they were added.
func (ks *Keystore) Accounts() []common.Address {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	cpy := make([]common.Address, len(ks.order))
	copy(cpy, ks.order)

	return cpy
}

// Unlocked returns the private key for the account if the keystore has it.
func (ks *Keystore) Unlocked(addr common.Address) (*ecdsa.PrivateKey, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	privateKey, exists := ks.keys[addr]
	return privateKey, exists
}

// SignTx signs the transaction with the key of the specified account.
func (ks *Keystore) SignTx(addr common.Address, tx *types.Transaction, signer types.Signer) (*types.Transaction, error) {
	privateKey, exists := ks.Unlocked(addr)
	if !exists {
		return nil, fmt.Errorf("%s: %w", addr, ErrLocked)
	}

	return signature.Sign(tx, signer, privateKey)
}

// Lookup returns the name for the specified account.
func (ks *Keystore) Lookup(addr common.Address) string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	name, exists := ks.names[addr]
	if !exists {
		return addr.Hex()
	}
	return name
}

// Copy returns a copy of the map of names and accounts.
func (ks *Keystore) Copy() map[common.Address]string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	cpy := make(map[common.Address]string, len(ks.names))
	for addr, name := range ks.names {
		cpy[addr] = name
	}
	return cpy
}

// Names returns the account names sorted alphabetically.
func (ks *Keystore) Names() []string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	names := make([]string, 0, len(ks.names))
	for _, name := range ks.names {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// =============================================================================

// derive produces the private key keccak(seed || index). In the unlikely case
// the hash is not a valid scalar it is hashed again.
func derive(seed string, index uint32) (*ecdsa.PrivateKey, error) {
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], index)

	data := crypto.Keccak256([]byte(seed), idx[:])

	for range 8 {
		privateKey, err := crypto.ToECDSA(data)
		if err == nil {
			return privateKey, nil
		}
		data = crypto.Keccak256(data)
	}

	return nil, errors.New("unable to derive a valid key")
}
