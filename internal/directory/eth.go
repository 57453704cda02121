package directory

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// registryABI covers the directory contract surface this service consumes.
const registryABI = `[
  {"type":"function","name":"register","stateMutability":"payable",
   "inputs":[{"name":"name","type":"string"},
             {"name":"platforms","type":"string[]"},
             {"name":"urls","type":"string[]"}],
   "outputs":[]},
  {"type":"function","name":"lookup","stateMutability":"view",
   "inputs":[{"name":"name","type":"string"}],
   "outputs":[{"name":"","type":"string"},
              {"name":"","type":"string[]"},
              {"name":"","type":"string[]"},
              {"name":"","type":"address"},
              {"name":"","type":"uint256"},
              {"name":"","type":"uint256"}]},
  {"type":"function","name":"registrationFee","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"count","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getAgentNames","stateMutability":"view",
   "inputs":[{"name":"offset","type":"uint256"},{"name":"limit","type":"uint256"}],
   "outputs":[{"name":"","type":"string[]"}]}
]`

// registerGasLimit is a fixed ceiling for the payable register call.
const registerGasLimit = 300_000

const dialTimeout = 5 * time.Second

// EthClient implements Client against a JSON-RPC endpoint with the sponsor
// wallet as the transaction signer.
type EthClient struct {
	eth         *ethclient.Client
	contract    *bind.BoundContract
	address     common.Address
	chainID     *big.Int
	sponsorKey  *ecdsa.PrivateKey
	sponsorAddr common.Address
	logger      *slog.Logger
}

// Dial connects to the first reachable RPC endpoint in the list and binds
// the directory contract. sponsorKeyHex may be empty, leaving the client
// read-only.
func Dial(ctx context.Context, rpcURLs []string, contractAddr, sponsorKeyHex string, logger *slog.Logger) (*EthClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !common.IsHexAddress(contractAddr) {
		return nil, fmt.Errorf("invalid contract address %q", contractAddr)
	}

	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, fmt.Errorf("parse registry ABI: %w", err)
	}

	var (
		eth     *ethclient.Client
		chainID *big.Int
		lastErr error
	)
	for _, url := range rpcURLs {
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		client, err := ethclient.DialContext(dialCtx, url)
		if err == nil {
			chainID, err = client.ChainID(dialCtx)
		}
		cancel()
		if err != nil {
			lastErr = err
			logger.Warn("RPC endpoint unavailable", "url", url, "err", err)
			continue
		}
		eth = client
		logger.Info("connected to RPC", "url", url, "chain_id", chainID)
		break
	}
	if eth == nil {
		return nil, fmt.Errorf("no reachable RPC endpoint: %w", lastErr)
	}

	address := common.HexToAddress(contractAddr)
	c := &EthClient{
		eth:      eth,
		contract: bind.NewBoundContract(address, parsed, eth, eth, eth),
		address:  address,
		chainID:  chainID,
		logger:   logger,
	}

	if sponsorKeyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(sponsorKeyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse sponsor key: %w", err)
		}
		c.sponsorKey = key
		c.sponsorAddr = crypto.PubkeyToAddress(key.PublicKey)
		logger.Info("sponsor wallet configured", "address", c.sponsorAddr.Hex())
	}
	return c, nil
}

// Close releases the underlying RPC connection.
func (c *EthClient) Close() {
	c.eth.Close()
}

// ContractAddress returns the bound directory contract address.
func (c *EthClient) ContractAddress() common.Address {
	return c.address
}

// SponsorAddress returns the sponsor wallet address (zero when read-only).
func (c *EthClient) SponsorAddress() common.Address {
	return c.sponsorAddr
}

func (c *EthClient) SponsorConfigured() bool {
	return c.sponsorKey != nil
}

func (c *EthClient) Lookup(ctx context.Context, name string) (*Record, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "lookup", name)
	if err != nil {
		// A revert is the contract confirming the name does not exist.
		// Anything else means the answer could not be determined.
		if strings.Contains(err.Error(), "execution reverted") {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("directory lookup: %w", err)
	}
	if len(out) != 6 {
		return nil, fmt.Errorf("directory lookup: unexpected result arity %d", len(out))
	}

	stored, _ := out[0].(string)
	if stored == "" {
		return nil, ErrNotFound
	}
	platforms, _ := out[1].([]string)
	urls, _ := out[2].([]string)
	registrant, _ := out[3].(common.Address)
	registeredAt, _ := out[4].(*big.Int)
	lastActive, _ := out[5].(*big.Int)

	return &Record{
		Name:         stored,
		Platforms:    platforms,
		URLs:         urls,
		Registrant:   registrant,
		RegisteredAt: time.Unix(registeredAt.Int64(), 0).UTC(),
		LastActive:   time.Unix(lastActive.Int64(), 0).UTC(),
	}, nil
}

func (c *EthClient) Count(ctx context.Context) (uint64, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "count"); err != nil {
		return 0, fmt.Errorf("directory count: %w", err)
	}
	total, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("directory count: unexpected result type")
	}
	return total.Uint64(), nil
}

func (c *EthClient) RegistrationFee(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "registrationFee"); err != nil {
		return nil, fmt.Errorf("registration fee: %w", err)
	}
	fee, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("registration fee: unexpected result type")
	}
	return fee, nil
}

func (c *EthClient) AgentNames(ctx context.Context, offset, limit uint64) ([]string, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getAgentNames",
		new(big.Int).SetUint64(offset), new(big.Int).SetUint64(limit))
	if err != nil {
		return nil, fmt.Errorf("agent names: %w", err)
	}
	names, ok := out[0].([]string)
	if !ok {
		return nil, fmt.Errorf("agent names: unexpected result type")
	}
	return names, nil
}

func (c *EthClient) SubmitRegistration(ctx context.Context, name string, platforms, urls []string, fee *big.Int) (*PendingTx, error) {
	if c.sponsorKey == nil {
		return nil, ErrNoSponsor
	}

	opts, err := bind.NewKeyedTransactorWithChainID(c.sponsorKey, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("sponsor transactor: %w", err)
	}
	opts.Context = ctx
	opts.Value = fee
	opts.GasLimit = registerGasLimit

	tx, err := c.contract.Transact(opts, "register", name, platforms, urls)
	if err != nil {
		return nil, fmt.Errorf("submit registration: %w", err)
	}
	c.logger.Info("registration transaction sent", "name", name, "tx", tx.Hash().Hex())
	return &PendingTx{Hash: tx.Hash().Hex(), tx: tx}, nil
}

func (c *EthClient) Confirm(ctx context.Context, pending *PendingTx) (*Confirmation, error) {
	if pending == nil || pending.tx == nil {
		return nil, fmt.Errorf("no pending transaction to confirm")
	}
	receipt, err := bind.WaitMined(ctx, c.eth, pending.tx)
	if err != nil {
		return nil, fmt.Errorf("await confirmation of %s: %w", pending.Hash, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("transaction %s reverted in block %d", pending.Hash, receipt.BlockNumber.Uint64())
	}
	return &Confirmation{TxHash: pending.Hash, BlockNumber: receipt.BlockNumber.Uint64()}, nil
}

func (c *EthClient) SponsorBalance(ctx context.Context) (*big.Int, error) {
	if c.sponsorKey == nil {
		return nil, ErrNoSponsor
	}
	balance, err := c.eth.BalanceAt(ctx, c.sponsorAddr, nil)
	if err != nil {
		return nil, fmt.Errorf("sponsor balance: %w", err)
	}
	return balance, nil
}
