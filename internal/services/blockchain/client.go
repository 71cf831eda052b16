package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"coinflip/internal/ledger"
	"coinflip/internal/services/gameroom"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

const (
	defaultDialAttempts = 10
	defaultRetryDelay   = 2 * time.Second
	recordGasLimit      = 300_000
)

// ErrReadOnly is returned by writes on a client without a signing key.
var ErrReadOnly = errors.New("blockchain: no signing key configured")

type Config struct {
	RPCURL     string
	Contract   string
	PrivateKey string

	DialAttempts int
	RetryDelay   time.Duration
}

// chainBackend is what result writes need from the node.
type chainBackend interface {
	bind.DeployBackend
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// Client is the coordinator's view of the escrow contract. It answers who
// the participants of a match are, whether a deposit landed, and writes final
// results.
type Client struct {
	rpc        *ethclient.Client
	chain      chainBackend
	caller     *ledger.EscrowCaller
	transactor *ledger.EscrowTransactor
	auth       *bind.TransactOpts
	contract   common.Address
	log        *zap.Logger

	// serializes nonce assignment and guards pending
	mu sync.Mutex
	// sent recordResult transactions not yet seen mined, by match
	pending map[string]*types.Transaction
}

// Dial connects to the node, retrying while it comes up, and binds the escrow.
func Dial(ctx context.Context, cfg Config, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("blockchain")
	if !common.IsHexAddress(cfg.Contract) {
		return nil, fmt.Errorf("invalid escrow contract address %q", cfg.Contract)
	}
	attempts, delay := cfg.DialAttempts, cfg.RetryDelay
	if attempts <= 0 {
		attempts = defaultDialAttempts
	}
	if delay <= 0 {
		delay = defaultRetryDelay
	}

	var (
		rpc     *ethclient.Client
		chainID *big.Int
		err     error
	)
	for i := 1; i <= attempts; i++ {
		rpc, err = ethclient.DialContext(ctx, cfg.RPCURL)
		if err == nil {
			if chainID, err = rpc.ChainID(ctx); err == nil {
				break
			}
			rpc.Close()
		}
		log.Warn("node not reachable yet", zap.Int("attempt", i), zap.Error(err))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.RPCURL, err)
	}

	address := common.HexToAddress(cfg.Contract)
	escrow, err := ledger.NewEscrow(address, rpc)
	if err != nil {
		rpc.Close()
		return nil, fmt.Errorf("bind escrow: %w", err)
	}

	c := &Client{
		rpc:        rpc,
		chain:      rpc,
		pending:    make(map[string]*types.Transaction),
		caller:     &escrow.EscrowCaller,
		transactor: &escrow.EscrowTransactor,
		contract:   address,
		log:        log,
	}
	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			rpc.Close()
			return nil, fmt.Errorf("parse signing key: %w", err)
		}
		if c.auth, err = bind.NewKeyedTransactorWithChainID(key, chainID); err != nil {
			rpc.Close()
			return nil, fmt.Errorf("build transactor: %w", err)
		}
		c.auth.GasLimit = recordGasLimit
	}

	log.Info("escrow bound",
		zap.String("contract", address.Hex()),
		zap.Stringer("chain", chainID),
		zap.Bool("canWrite", c.auth != nil))
	return c, nil
}

// newReadOnly builds a client over an existing caller.
func newReadOnly(caller *ledger.EscrowCaller, log *zap.Logger) *Client {
	return &Client{caller: caller, log: log}
}

func (c *Client) Close() {
	if c.rpc != nil {
		c.rpc.Close()
	}
}

func (c *Client) Contract() common.Address { return c.contract }

// Participants implements gameroom.ParticipantSource.
func (c *Client) Participants(ctx context.Context, matchID string) (gameroom.Participants, error) {
	holder, challenger, err := c.caller.Participants(&bind.CallOpts{Context: ctx}, matchID)
	if err != nil {
		return gameroom.Participants{}, fmt.Errorf("read participants of %s: %w", matchID, err)
	}
	if holder == (common.Address{}) {
		return gameroom.Participants{}, fmt.Errorf("%w: %s has no escrow", gameroom.ErrRoomNotFound, matchID)
	}
	p := gameroom.Participants{Holder: gameroom.PlayerRef(holder.Hex())}
	if challenger != (common.Address{}) {
		p.Challenger = gameroom.PlayerRef(challenger.Hex())
	}
	return p, nil
}

// DepositConfirmed implements gameroom.EscrowVerifier. The contract tracks one
// deposit per participant; which asset it is follows from the side.
func (c *Client) DepositConfirmed(ctx context.Context, matchID string, player gameroom.PlayerRef, kind gameroom.AssetKind) (bool, error) {
	ok, err := c.caller.IsDeposited(&bind.CallOpts{Context: ctx}, matchID, player.Address())
	if err != nil {
		return false, fmt.Errorf("read deposit of %s in %s: %w", player, matchID, err)
	}
	c.log.Debug("deposit checked",
		zap.String("match", matchID),
		zap.String("player", player.String()),
		zap.String("asset", string(kind)),
		zap.Bool("deposited", ok))
	return ok, nil
}

// RecordResult implements gameroom.ResultRecorder and waits for the
// transaction to be mined. A call that gave up waiting leaves its transaction
// pending, and the next call for the same match waits on it again instead of
// sending a second one.
func (c *Client) RecordResult(ctx context.Context, res gameroom.MatchResult) error {
	if c.auth == nil || c.transactor == nil {
		return ErrReadOnly
	}

	tx, err := c.sendResult(ctx, res)
	if err != nil {
		return err
	}

	receipt, err := bind.WaitMined(ctx, c.chain, tx)
	if err != nil {
		return fmt.Errorf("wait for %s: %w", tx.Hash().Hex(), err)
	}
	c.mu.Lock()
	delete(c.pending, res.MatchID)
	c.mu.Unlock()
	if receipt.Status == types.ReceiptStatusFailed {
		return fmt.Errorf("recordResult %s reverted", tx.Hash().Hex())
	}

	c.log.Info("result recorded on chain",
		zap.String("match", res.MatchID),
		zap.String("tx", tx.Hash().Hex()),
		zap.Stringer("block", receipt.BlockNumber))
	return nil
}

// sendResult returns the pending transaction for the match or sends a new one.
func (c *Client) sendResult(ctx context.Context, res gameroom.MatchResult) (*types.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tx, ok := c.pending[res.MatchID]; ok {
		c.log.Info("result already sent, waiting again",
			zap.String("match", res.MatchID),
			zap.String("tx", tx.Hash().Hex()))
		return tx, nil
	}

	nonce, err := c.chain.PendingNonceAt(ctx, c.auth.From)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	opts := *c.auth
	opts.Context = ctx
	opts.Nonce = new(big.Int).SetUint64(nonce)

	var winner common.Address
	if res.Winner != "" {
		winner = res.Winner.Address()
	}
	tx, err := c.transactor.RecordResult(&opts, res.MatchID, winner,
		ledger.ScoreArg(res.Scores.A), ledger.ScoreArg(res.Scores.B), res.Reason)
	if err != nil {
		return nil, fmt.Errorf("send recordResult: %w", err)
	}
	if c.pending == nil {
		c.pending = make(map[string]*types.Transaction)
	}
	c.pending[res.MatchID] = tx
	return tx, nil
}
