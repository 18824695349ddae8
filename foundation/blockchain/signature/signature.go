// Package signature provides helper functions for handling the blockchain
// signature needs.
package signature

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ethereumID is the value Ethereum adds to the recovery id of an unprotected
// legacy signature.
const ethereumID = 27

// ErrInvalidSignature is returned when the signature values can't be used to
// recover a sender.
var ErrInvalidSignature = errors.New("invalid signature")

// =============================================================================

// Sign uses the specified private key to sign the transaction for the
// signer's chain.
func Sign(tx *types.Transaction, signer types.Signer, privateKey *ecdsa.PrivateKey) (*types.Transaction, error) {

	// Sign the transaction hash with the private key.
	signed, err := types.SignTx(tx, signer, privateKey)
	if err != nil {
		return nil, err
	}

	// Check the address recovered from the signature is the signer's.
	from, err := types.Sender(signer, signed)
	if err != nil {
		return nil, err
	}
	if from != crypto.PubkeyToAddress(privateKey.PublicKey) {
		return nil, ErrInvalidSignature
	}

	return signed, nil
}

// VerifySignature verifies the signature values conform to the homestead
// rules: a recovery id of 0 or 1 and a lower half s value.
func VerifySignature(tx *types.Transaction) error {
	v, r, s := tx.RawSignatureValues()

	recID, err := recoveryID(tx, v)
	if err != nil {
		return err
	}

	if !crypto.ValidateSignatureValues(recID, r, s, true) {
		return fmt.Errorf("%w: values out of range", ErrInvalidSignature)
	}

	return nil
}

// FromAddress extracts the address for the account that signed the
// transaction.
func FromAddress(tx *types.Transaction, signer types.Signer) (common.Address, error) {
	if err := VerifySignature(tx); err != nil {
		return common.Address{}, err
	}

	from, err := types.Sender(signer, tx)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	return from, nil
}

// SignatureString returns the signature as a string in the [R|S|V] format.
func SignatureString(tx *types.Transaction) string {
	v, r, s := tx.RawSignatureValues()

	recID, err := recoveryID(tx, v)
	if err != nil {
		return "0x"
	}

	return hexutil.Encode(ToSignatureBytes(recID, r, s))
}

// ToVRSFromHexSignature converts a hex representation of the signature into
// its R, S and V parts. V is the bare recovery id.
func ToVRSFromHexSignature(sigStr string) (v, r, s *big.Int, err error) {
	sig, err := hexutil.Decode(sigStr)
	if err != nil {
		return nil, nil, nil, err
	}

	if len(sig) != crypto.SignatureLength {
		return nil, nil, nil, fmt.Errorf("signature must be %d bytes", crypto.SignatureLength)
	}

	r = new(big.Int).SetBytes(sig[:32])
	s = new(big.Int).SetBytes(sig[32:64])
	v = new(big.Int).SetBytes([]byte{sig[64]})

	return v, r, s, nil
}

// ToSignatureBytes converts the r, s values and recovery id into the
// original 65 bytes.
func ToSignatureBytes(recID byte, r, s *big.Int) []byte {
	sig := make([]byte, crypto.SignatureLength)

	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:64])
	sig[64] = recID

	return sig
}

// =============================================================================

// recoveryID removes the chain id and the Ethereum offset from the v value
// depending on the transaction format.
func recoveryID(tx *types.Transaction, v *big.Int) (byte, error) {
	if v == nil {
		return 0, ErrInvalidSignature
	}

	id := new(big.Int).Set(v)

	switch {
	case tx.Type() != types.LegacyTxType:
	case tx.Protected():
		offset := new(big.Int).Mul(tx.ChainId(), big.NewInt(2))
		offset.Add(offset, big.NewInt(35))
		id.Sub(id, offset)
	default:
		id.Sub(id, big.NewInt(ethereumID))
	}

	if !id.IsUint64() || id.Uint64() > 1 {
		return 0, fmt.Errorf("%w: invalid recovery id", ErrInvalidSignature)
	}

	return byte(id.Uint64()), nil
}
