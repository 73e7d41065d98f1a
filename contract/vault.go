package contract

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"os"
	"strings"

	"coinhouse/config"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// VaultContract wraps the custody vault: read-only valuation queries
// for the ledger cache and the payPlayer transact for settlements.
type VaultContract struct {
	Client      *ethclient.Client
	Contract    *bind.BoundContract
	ABI         abi.ABI
	Address     common.Address
	PrivateKey  *ecdsa.PrivateKey
	FromAddress common.Address
}

// ABIFile structure
type ABIFile struct {
	ABI json.RawMessage `json:"abi"`
}

// NewVaultContract creates a new vault client. VAULT_RPC_URL and
// VAULT_CONTRACT come from the environment; SERVER_PRIVATE_KEY is only
// required when settlements push payouts on-chain.
func NewVaultContract() (*VaultContract, error) {
	rpcURL := os.Getenv("VAULT_RPC_URL")
	if rpcURL == "" {
		rpcURL = config.MantleSepoliaRPC
	}

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to vault RPC: %v", err)
	}

	// Load ABI from JSON file
	abiBytes, err := os.ReadFile("contract/VaultABI.json")
	if err != nil {
		return nil, fmt.Errorf("failed to read ABI file: %v", err)
	}

	var abiFile ABIFile
	if err := json.Unmarshal(abiBytes, &abiFile); err != nil {
		return nil, fmt.Errorf("failed to parse ABI JSON: %v", err)
	}

	contractABI, err := abi.JSON(strings.NewReader(string(abiFile.ABI)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse contract ABI: %v", err)
	}

	contractAddr := os.Getenv("VAULT_CONTRACT")
	if contractAddr == "" {
		return nil, fmt.Errorf("VAULT_CONTRACT environment variable not set")
	}

	vault := &VaultContract{
		Client:  client,
		ABI:     contractABI,
		Address: common.HexToAddress(contractAddr),
	}
	vault.Contract = bind.NewBoundContract(vault.Address, contractABI, client, client, client)

	// Private key is optional for a read-only deployment
	if privateKeyHex := os.Getenv("SERVER_PRIVATE_KEY"); privateKeyHex != "" {
		privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")

		privateKey, err := crypto.HexToECDSA(privateKeyHex)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %v", err)
		}

		publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("failed to get public key")
		}

		vault.PrivateKey = privateKey
		vault.FromAddress = crypto.PubkeyToAddress(*publicKey)
	}

	log.Printf("✅ Vault contract client initialized - Address: %s", contractAddr)
	return vault, nil
}

// TotalAssets reads the pool's total pooled assets (raw integer, asset
// decimal scale) from the vault contract.
func (c *VaultContract) TotalAssets(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}

	if err := c.Contract.Call(opts, &out, "totalAssets"); err != nil {
		return nil, fmt.Errorf("totalAssets call failed: %v", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("totalAssets returned no values")
	}

	assets, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected totalAssets return type %T", out[0])
	}
	return assets, nil
}

// TotalShares reads the outstanding pool shares (raw integer, share
// decimal scale) from the vault contract.
func (c *VaultContract) TotalShares(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}

	if err := c.Contract.Call(opts, &out, "totalShares"); err != nil {
		return nil, fmt.Errorf("totalShares call failed: %v", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("totalShares returned no values")
	}

	shares, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected totalShares return type %T", out[0])
	}
	return shares, nil
}

// PayPlayer calls the vault's payPlayer method with a settled payout.
// The server pays gas; the off-chain settlement record already exists,
// so a failed transact is surfaced for reconciliation, never retried
// into a double payout.
func (c *VaultContract) PayPlayer(ctx context.Context, recipient string, amount int64) error {
	if c.PrivateKey == nil {
		return fmt.Errorf("no SERVER_PRIVATE_KEY configured, cannot transact")
	}
	if _, ok := c.ABI.Methods["payPlayer"]; !ok {
		return fmt.Errorf("abi does not contain payPlayer")
	}

	player := common.HexToAddress(recipient)
	value := big.NewInt(amount)

	chainIDBig := big.NewInt(config.MantleChainID)
	auth, err := bind.NewKeyedTransactorWithChainID(c.PrivateKey, chainIDBig)
	if err != nil {
		return fmt.Errorf("failed to create transactor: %v", err)
	}
	auth.Context = ctx
	auth.Value = big.NewInt(0) // non-payable

	nonce, err := c.Client.PendingNonceAt(ctx, c.FromAddress)
	if err != nil {
		return fmt.Errorf("failed to get nonce: %v", err)
	}
	auth.Nonce = big.NewInt(int64(nonce))

	gasPrice, err := c.Client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("failed to get gas price: %v", err)
	}
	auth.GasPrice = gasPrice

	input, err := c.ABI.Pack("payPlayer", player, value)
	if err != nil {
		return fmt.Errorf("failed to pack input: %v", err)
	}

	gasLimit, err := c.Client.EstimateGas(ctx, ethereum.CallMsg{
		From: c.FromAddress,
		To:   &c.Address,
		Data: input,
	})
	if err != nil {
		log.Printf("⚠️ Gas estimation failed, using default: %v", err)
		auth.GasLimit = uint64(200000) // safe default
	} else {
		auth.GasLimit = gasLimit + (gasLimit * 20 / 100) // +20% buffer
	}

	log.Printf("💸 Calling payPlayer(player=%s, amount=%s) with gasLimit=%d",
		player.Hex(), value.String(), auth.GasLimit)

	tx, err := c.Contract.Transact(auth, "payPlayer", player, value)
	if err != nil {
		log.Printf("❌ payPlayer failed: %v", err)
		return err
	}

	log.Printf("📤 payPlayer tx sent: %s (not waiting for confirmation)", tx.Hash().Hex())
	return nil
}

// Close closes the client connection
func (c *VaultContract) Close() {
	c.Client.Close()
}
