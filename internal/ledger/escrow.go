// Package ledger holds the contract bindings of the wager escrow.
package ledger

import (
	"errors"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// EscrowMetaData describes the escrow contract the coordinator talks to.
// The NFT holder and the paying challenger deposit into it; the coordinator
// reads participants and deposits and writes the final result.
var EscrowMetaData = &bind.MetaData{
	ABI: `[
	{"type":"function","name":"participants","stateMutability":"view",
	 "inputs":[{"name":"matchId","type":"string"}],
	 "outputs":[{"name":"holder","type":"address"},{"name":"challenger","type":"address"}]},
	{"type":"function","name":"isDeposited","stateMutability":"view",
	 "inputs":[{"name":"matchId","type":"string"},{"name":"player","type":"address"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"recordResult","stateMutability":"nonpayable",
	 "inputs":[{"name":"matchId","type":"string"},{"name":"winner","type":"address"},
	           {"name":"holderScore","type":"uint8"},{"name":"challengerScore","type":"uint8"},
	           {"name":"reason","type":"string"}],
	 "outputs":[]},
	{"type":"event","name":"ResultRecorded","anonymous":false,
	 "inputs":[{"name":"matchId","type":"string","indexed":false},
	           {"name":"winner","type":"address","indexed":true},
	           {"name":"timestamp","type":"uint256","indexed":false}]}
	]`,
}

// Escrow is a binding over a deployed escrow contract.
type Escrow struct {
	EscrowCaller
	EscrowTransactor
}

// EscrowCaller is the read-only half of the binding.
type EscrowCaller struct {
	contract *bind.BoundContract
}

// EscrowTransactor is the write-only half of the binding.
type EscrowTransactor struct {
	contract *bind.BoundContract
}

func parsedABI() (abi.ABI, error) {
	parsed, err := EscrowMetaData.GetAbi()
	if err != nil {
		return abi.ABI{}, err
	}
	if parsed == nil {
		return abi.ABI{}, errors.New("GetABI returned nil")
	}
	return *parsed, nil
}

func NewEscrow(address common.Address, backend bind.ContractBackend) (*Escrow, error) {
	parsed, err := parsedABI()
	if err != nil {
		return nil, err
	}
	contract := bind.NewBoundContract(address, parsed, backend, backend, backend)
	return &Escrow{
		EscrowCaller:     EscrowCaller{contract: contract},
		EscrowTransactor: EscrowTransactor{contract: contract},
	}, nil
}

func NewEscrowCaller(address common.Address, caller bind.ContractCaller) (*EscrowCaller, error) {
	parsed, err := parsedABI()
	if err != nil {
		return nil, err
	}
	return &EscrowCaller{contract: bind.NewBoundContract(address, parsed, caller, nil, nil)}, nil
}

func NewEscrowTransactor(address common.Address, transactor bind.ContractTransactor) (*EscrowTransactor, error) {
	parsed, err := parsedABI()
	if err != nil {
		return nil, err
	}
	return &EscrowTransactor{contract: bind.NewBoundContract(address, parsed, nil, transactor, nil)}, nil
}

// Participants calls participants(string) returning (address holder, address challenger).
func (c *EscrowCaller) Participants(opts *bind.CallOpts, matchID string) (holder, challenger common.Address, err error) {
	var out []interface{}
	if err = c.contract.Call(opts, &out, "participants", matchID); err != nil {
		return common.Address{}, common.Address{}, err
	}
	holder = *abi.ConvertType(out[0], new(common.Address)).(*common.Address)
	challenger = *abi.ConvertType(out[1], new(common.Address)).(*common.Address)
	return holder, challenger, nil
}

// IsDeposited calls isDeposited(string,address) returning (bool).
func (c *EscrowCaller) IsDeposited(opts *bind.CallOpts, matchID string, player common.Address) (bool, error) {
	var out []interface{}
	if err := c.contract.Call(opts, &out, "isDeposited", matchID, player); err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// RecordResult sends recordResult(string,address,uint8,uint8,string).
func (t *EscrowTransactor) RecordResult(opts *bind.TransactOpts, matchID string, winner common.Address, holderScore, challengerScore uint8, reason string) (*types.Transaction, error) {
	return t.contract.Transact(opts, "recordResult", matchID, winner, holderScore, challengerScore, reason)
}

// ScoreArg bounds a score to the contract's uint8.
func ScoreArg(n int) uint8 {
	switch {
	case n < 0:
		return 0
	case n > 255:
		return 255
	}
	return uint8(n)
}
