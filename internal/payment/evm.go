package payment

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"
)

// creditsUsedTopic is keccak256("CreditsUsed(address,uint256,uint256)"),
// the first topic of a credit-consumption log.
const creditsUsedTopic = "0xbf0c0494baf6ed7e1481b0ec6d3ed75f70442f3ac8d509e54e80251640471373"

// EVMConfig configures on-chain validation against an EVM JSON-RPC endpoint.
type EVMConfig struct {
	// RPCURL is the JSON-RPC endpoint of the chain node.
	RPCURL string
	// TokenAddress is the ERC-20 contract whose Transfer log pays for a query.
	TokenAddress string
	// CreditsAddress is the contract whose CreditsUsed log pays with credits.
	CreditsAddress string
	// MinAmount is the minimum direct payment in whole token units.
	MinAmount float64
	// MinConfirmations is the number of blocks a transaction must be behind
	// the chain head.
	MinConfirmations int64
	// TokenDecimals converts raw transfer amounts to token units. Defaults
	// to 6 when zero.
	TokenDecimals int
}

// EVMValidator validates payments by inspecting the referenced transaction
// and its receipt over JSON-RPC.
type EVMValidator struct {
	cfg        EVMConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewEVMValidator creates a validator for the given chain configuration.
func NewEVMValidator(cfg EVMConfig) *EVMValidator {
	if cfg.TokenDecimals <= 0 {
		cfg.TokenDecimals = 6
	}
	if cfg.MinConfirmations <= 0 {
		cfg.MinConfirmations = 1
	}
	return &EVMValidator{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     slog.Default(),
	}
}

// rpcRequest is a JSON-RPC 2.0 call envelope.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

// rpcResponse is a JSON-RPC 2.0 response envelope.
type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// rpcTransaction mirrors the fields of eth_getTransactionByHash we consume.
type rpcTransaction struct {
	BlockNumber *string `json:"blockNumber"`
	From        string  `json:"from"`
}

// rpcReceipt mirrors the fields of eth_getTransactionReceipt we consume.
type rpcReceipt struct {
	Status string   `json:"status"`
	Logs   []rpcLog `json:"logs"`
}

type rpcLog struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data"`
}

var errNullResult = fmt.Errorf("null result")

// call performs one JSON-RPC request and decodes the result into out. A null
// result leaves out untouched and returns errNullResult.
func (v *EVMValidator) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.RPCURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", method, resp.StatusCode)
	}

	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("%s: %w", method, envelope.Error)
	}
	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return errNullResult
	}
	return json.Unmarshal(envelope.Result, out)
}

// Validate runs the full validation sequence for a payment transaction. The
// direct flow requires a token Transfer of at least the configured minimum;
// the credit flow requires a CreditsUsed log naming the payer.
func (v *EVMValidator) Validate(ctx context.Context, txRef, payer string, useCredits bool) (bool, string) {
	v.logger.Info("validating payment", "tx", txRef, "payer", payer, "credits", useCredits)

	tx, receipt, confirmations, ok, reason := v.confirmTransaction(ctx, txRef, payer)
	if !ok {
		v.logger.Warn("payment rejected", "tx", txRef, "reason", reason)
		return false, reason
	}

	if useCredits {
		ok, reason = v.checkCreditsLog(receipt, payer)
	} else {
		ok, reason = v.checkTransferLog(receipt)
	}
	if !ok {
		v.logger.Warn("payment rejected", "tx", txRef, "reason", reason)
		return false, reason
	}

	v.logger.Info("payment validated", "tx", txRef, "from", tx.From, "confirmations", confirmations)
	return true, reason
}

// confirmTransaction checks the chain-level invariants shared by both flows:
// the transaction exists, is mined deep enough, succeeded, and was sent by
// the expected payer.
func (v *EVMValidator) confirmTransaction(ctx context.Context, txRef, payer string) (tx rpcTransaction, receipt rpcReceipt, confirmations int64, ok bool, reason string) {
	if err := v.call(ctx, "eth_getTransactionByHash", []any{txRef}, &tx); err != nil {
		if err == errNullResult {
			return tx, receipt, 0, false, "Transaction not found"
		}
		return tx, receipt, 0, false, fmt.Sprintf("Transaction not found: %s", err)
	}

	if tx.BlockNumber == nil || *tx.BlockNumber == "" {
		return tx, receipt, 0, false, "Transaction not yet mined"
	}
	txBlock, err := parseHexUint(*tx.BlockNumber)
	if err != nil {
		return tx, receipt, 0, false, fmt.Sprintf("Transaction not found: %s", err)
	}

	var headHex string
	if err := v.call(ctx, "eth_blockNumber", []any{}, &headHex); err != nil {
		return tx, receipt, 0, false, fmt.Sprintf("Validation error: %s", err)
	}
	head, err := parseHexUint(headHex)
	if err != nil {
		return tx, receipt, 0, false, fmt.Sprintf("Validation error: %s", err)
	}

	confirmations = head - txBlock
	if confirmations < v.cfg.MinConfirmations {
		return tx, receipt, confirmations, false,
			fmt.Sprintf("Insufficient confirmations (%d/%d)", confirmations, v.cfg.MinConfirmations)
	}

	if err := v.call(ctx, "eth_getTransactionReceipt", []any{txRef}, &receipt); err != nil {
		if err == errNullResult {
			return tx, receipt, confirmations, false, "Transaction receipt not found"
		}
		return tx, receipt, confirmations, false, fmt.Sprintf("Validation error: %s", err)
	}
	if receipt.Status != "0x1" {
		return tx, receipt, confirmations, false, "Transaction failed or reverted"
	}

	if !strings.EqualFold(tx.From, payer) {
		return tx, receipt, confirmations, false, fmt.Sprintf("Sender mismatch: %s != %s", tx.From, payer)
	}

	return tx, receipt, confirmations, true, ""
}

// checkTransferLog finds the token Transfer log and verifies the amount.
func (v *EVMValidator) checkTransferLog(receipt rpcReceipt) (bool, string) {
	for _, entry := range receipt.Logs {
		if !strings.EqualFold(entry.Address, v.cfg.TokenAddress) {
			continue
		}
		// A Transfer log carries the event signature plus the indexed from
		// and to addresses.
		if len(entry.Topics) < 3 {
			continue
		}
		amount, err := decodeTokenAmount(entry.Data, v.cfg.TokenDecimals)
		if err != nil {
			return false, fmt.Sprintf("Validation error: %s", err)
		}
		if amount < v.cfg.MinAmount {
			return false, "Insufficient payment amount"
		}
		return true, fmt.Sprintf("Payment validated: %g tokens", amount)
	}
	return false, "No token transfer found in transaction"
}

// checkCreditsLog finds a CreditsUsed log from the credits contract and
// verifies it names the payer.
func (v *EVMValidator) checkCreditsLog(receipt rpcReceipt, payer string) (bool, string) {
	for _, entry := range receipt.Logs {
		if !strings.EqualFold(entry.Address, v.cfg.CreditsAddress) {
			continue
		}
		if len(entry.Topics) < 3 || !strings.EqualFold(entry.Topics[0], creditsUsedTopic) {
			continue
		}
		// The indexed user address is the low 20 bytes of the first topic
		// argument.
		user := topicAddress(entry.Topics[1])
		if !strings.EqualFold(user, payer) {
			return false, fmt.Sprintf("Event user mismatch: %s != %s", user, payer)
		}
		return true, "Credit transaction validated"
	}
	return false, "No CreditsUsed event found in transaction"
}

// parseHexUint parses a 0x-prefixed hex quantity.
func parseHexUint(s string) (int64, error) {
	n := new(big.Int)
	if _, ok := n.SetString(strings.TrimPrefix(s, "0x"), 16); !ok {
		return 0, fmt.Errorf("invalid hex quantity %q", s)
	}
	return n.Int64(), nil
}

// decodeTokenAmount converts a 0x-prefixed big-endian log data word into
// whole token units.
func decodeTokenAmount(data string, decimals int) (float64, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(data, "0x"))
	if err != nil {
		return 0, fmt.Errorf("invalid log data: %w", err)
	}
	amount := new(big.Float).SetInt(new(big.Int).SetBytes(raw))
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	units, _ := new(big.Float).Quo(amount, scale).Float64()
	return units, nil
}

// topicAddress extracts the 20-byte address packed into a 32-byte topic.
func topicAddress(topic string) string {
	t := strings.TrimPrefix(topic, "0x")
	if len(t) < 40 {
		return "0x" + t
	}
	return "0x" + t[len(t)-40:]
}
