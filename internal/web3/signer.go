package web3

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidPrivateKey is returned when a key cannot be decoded for secp256k1.
var ErrInvalidPrivateKey = errors.New("invalid private key")

// Signer is an explicit transaction signer derived from a single private key.
// It is created per deployment and passed alongside the chain client instead
// of being registered in any process-wide wallet.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner decodes a hex private key, with or without 0x prefix. No network
// access happens here.
func NewSigner(hexKey string) (*Signer, error) {
	raw := strings.TrimSpace(hexKey)
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
	if raw == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidPrivateKey)
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPrivateKey, err)
	}
	return NewSignerFromKey(key), nil
}

// NewSignerFromKey wraps an already decoded key.
func NewSignerFromKey(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// Address returns the account address owned by the signer.
func (s *Signer) Address() common.Address {
	if s == nil {
		return common.Address{}
	}
	return s.address
}

// TransactOpts builds go-ethereum transact options bound to ctx and chainID.
// Nonce and fee fields are left empty so the client fills them in.
func (s *Signer) TransactOpts(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
	if s == nil || s.key == nil {
		return nil, ErrInvalidPrivateKey
	}
	if chainID == nil {
		return nil, errors.New("chain id is required to sign transactions")
	}
	opts, err := bind.NewKeyedTransactorWithChainID(s.key, chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	return opts, nil
}
