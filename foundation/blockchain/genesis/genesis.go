// Package genesis maintains access to the genesis file.
package genesis

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"
)

// Set of default values used when a genesis file leaves a field empty.
const (
	DefaultChainID        = 1337
	DefaultGasLimit       = 30_000_000
	DefaultGasPrice       = 2 * params.GWei
	DefaultAccounts       = 10
	DefaultBalanceEther   = 1000
	DefaultSeed           = "ganache"
	DefaultCoinbaseString = "0x0000000000000000000000000000000000000000"
)

// Genesis represents the genesis file.
type Genesis struct {
	Date           time.Time         `json:"date" yaml:"date"`
	ChainID        uint64            `json:"chain_id" yaml:"chain_id"`               // The chain id represents an unique id for this running instance.
	GasLimit       uint64            `json:"gas_limit" yaml:"gas_limit"`             // The gas limit of every block.
	GasPrice       uint64            `json:"gas_price" yaml:"gas_price"`             // Default price in wei for transactions sent through the node.
	MinGasPrice    uint64            `json:"min_gas_price" yaml:"min_gas_price"`     // Price floor enforced by the mempool.
	Coinbase       string            `json:"coinbase" yaml:"coinbase"`               // Beneficiary of transaction tips.
	ExtraData      string            `json:"extra_data" yaml:"extra_data"`           // Hex encoded extra data for the genesis header.
	Accounts       int               `json:"accounts" yaml:"accounts"`               // Number of development accounts derived from the seed.
	Seed           string            `json:"seed" yaml:"seed"`                       // Seed for the development accounts.
	DefaultBalance uint64            `json:"default_balance" yaml:"default_balance"` // Balance in ether of every development account.
	Balances       map[string]string `json:"balances" yaml:"balances"`               // Extra allocations, address to wei.
}

// Default returns a genesis with the values a fresh development chain uses.
func Default() Genesis {
	return Genesis{
		Date:           time.Now().UTC().Truncate(time.Second),
		ChainID:        DefaultChainID,
		GasLimit:       DefaultGasLimit,
		GasPrice:       DefaultGasPrice,
		Coinbase:       DefaultCoinbaseString,
		Accounts:       DefaultAccounts,
		Seed:           DefaultSeed,
		DefaultBalance: DefaultBalanceEther,
		Balances:       map[string]string{},
	}
}

// =============================================================================

// Load opens and consumes the genesis file. Files ending in .yaml or .yml
// are decoded as YAML, everything else as JSON. Fields missing from the file
// take their default value.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	genesis := Default()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, &genesis)
	default:
		err = json.Unmarshal(content, &genesis)
	}
	if err != nil {
		return Genesis{}, fmt.Errorf("decoding %s: %w", path, err)
	}

	if err := genesis.Validate(); err != nil {
		return Genesis{}, err
	}

	return genesis, nil
}

// Save writes the genesis file in the format Load reads for the extension.
func Save(path string, g Genesis) error {
	var content []byte
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		content, err = yaml.Marshal(g)
	default:
		content, err = json.MarshalIndent(g, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}

	return os.WriteFile(path, content, 0644)
}

// Validate checks the genesis values are usable.
func (g Genesis) Validate() error {
	if g.ChainID == 0 {
		return errors.New("chain_id must be greater than zero")
	}
	if g.GasLimit < params.TxGas {
		return fmt.Errorf("gas_limit must be at least %d", params.TxGas)
	}
	if !common.IsHexAddress(g.Coinbase) {
		return fmt.Errorf("coinbase %q is not an address", g.Coinbase)
	}
	if g.ExtraData != "" {
		if _, err := hexutil.Decode(g.ExtraData); err != nil {
			return fmt.Errorf("extra_data: %w", err)
		}
	}
	if _, err := g.Alloc(); err != nil {
		return err
	}

	return nil
}

// =============================================================================

// ChainConfig returns the rules the chain executes under. Every fork up to
// London is active from block zero, which gives EIP-1559 base fees without
// any proof of stake requirements.
func (g Genesis) ChainConfig() *params.ChainConfig {
	zero := big.NewInt(0)

	return &params.ChainConfig{
		ChainID:             new(big.Int).SetUint64(g.ChainID),
		HomesteadBlock:      zero,
		EIP150Block:         zero,
		EIP155Block:         zero,
		EIP158Block:         zero,
		ByzantiumBlock:      zero,
		ConstantinopleBlock: zero,
		PetersburgBlock:     zero,
		IstanbulBlock:       zero,
		MuirGlacierBlock:    zero,
		BerlinBlock:         zero,
		LondonBlock:         zero,
	}
}

// CoinbaseAddress returns the block beneficiary.
func (g Genesis) CoinbaseAddress() common.Address {
	return common.HexToAddress(g.Coinbase)
}

// Extra returns the decoded extra data for the genesis header.
func (g Genesis) Extra() []byte {
	if g.ExtraData == "" {
		return nil
	}

	b, err := hexutil.Decode(g.ExtraData)
	if err != nil {
		return nil
	}
	return b
}

// DefaultBalanceWei returns the balance of every development account in wei.
func (g Genesis) DefaultBalanceWei() *uint256.Int {
	ether := uint256.NewInt(params.Ether)
	return new(uint256.Int).Mul(uint256.NewInt(g.DefaultBalance), ether)
}

// Alloc parses the explicit balances. Values may be decimal or 0x prefixed.
func (g Genesis) Alloc() (map[common.Address]*uint256.Int, error) {
	alloc := make(map[common.Address]*uint256.Int, len(g.Balances))

	for account, value := range g.Balances {
		if !common.IsHexAddress(account) {
			return nil, fmt.Errorf("balances: %q is not an address", account)
		}

		var amount *uint256.Int
		var err error
		switch {
		case strings.HasPrefix(value, "0x"):
			amount, err = uint256.FromHex(value)
		default:
			amount, err = uint256.FromDecimal(value)
		}
		if err != nil {
			return nil, fmt.Errorf("balances: %s: %w", account, err)
		}

		alloc[common.HexToAddress(account)] = amount
	}

	return alloc, nil
}
