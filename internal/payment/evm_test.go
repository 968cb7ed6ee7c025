package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const (
	testToken   = "0xCaC524BcA292aaade2DF8A05cC58F0a65B1B3bB9"
	testCredits = "0x7f10Df09c2d91C8C6A8B8e1ECeAD336eE39C3c9f"
	testPayer   = "0x1111111111111111111111111111111111111111"
	testTx      = "0xabc123"
)

// chainState drives the fake JSON-RPC node. Nil transaction or receipt maps
// to a null result.
type chainState struct {
	tx      map[string]any
	receipt map[string]any
	head    string
}

func rpcServer(t *testing.T, state *chainState) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			ID     int    `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding rpc request: %v", err)
		}

		var result any
		switch req.Method {
		case "eth_getTransactionByHash":
			result = state.tx
		case "eth_blockNumber":
			result = state.head
		case "eth_getTransactionReceipt":
			result = state.receipt
		default:
			t.Errorf("unexpected rpc method %s", req.Method)
		}

		json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// addressTopic packs an address into a 32-byte indexed topic.
func addressTopic(addr string) string {
	return "0x" + strings.Repeat("0", 24) + strings.ToLower(strings.TrimPrefix(addr, "0x"))
}

// transferData encodes an amount in raw token units as a 32-byte data word.
func transferData(amount uint64) string {
	return fmt.Sprintf("0x%064x", amount)
}

func confirmedState() *chainState {
	return &chainState{
		tx: map[string]any{
			"blockNumber": "0x64",
			"from":        testPayer,
		},
		head: "0x66",
		receipt: map[string]any{
			"status": "0x1",
			"logs": []map[string]any{
				{
					"address": testToken,
					"topics":  []string{"0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef", addressTopic(testPayer), addressTopic(testCredits)},
					"data":    transferData(50_000), // 0.05 tokens at 6 decimals
				},
			},
		},
	}
}

func newValidator(url string) *EVMValidator {
	return NewEVMValidator(EVMConfig{
		RPCURL:           url,
		TokenAddress:     testToken,
		CreditsAddress:   testCredits,
		MinAmount:        0.01,
		MinConfirmations: 1,
	})
}

func TestValidateSuccess(t *testing.T) {
	srv := rpcServer(t, confirmedState())
	v := newValidator(srv.URL)

	ok, reason := v.Validate(context.Background(), testTx, testPayer, false)
	if !ok {
		t.Fatalf("expected valid payment, got %q", reason)
	}
}

func TestValidateTransactionNotFound(t *testing.T) {
	srv := rpcServer(t, &chainState{head: "0x66"})
	v := newValidator(srv.URL)

	ok, reason := v.Validate(context.Background(), testTx, testPayer, false)
	if ok {
		t.Fatal("expected rejection")
	}
	if reason != "Transaction not found" {
		t.Errorf("reason = %q", reason)
	}
}

func TestValidateNotYetMined(t *testing.T) {
	state := confirmedState()
	state.tx["blockNumber"] = nil
	srv := rpcServer(t, state)
	v := newValidator(srv.URL)

	ok, reason := v.Validate(context.Background(), testTx, testPayer, false)
	if ok {
		t.Fatal("expected rejection")
	}
	if reason != "Transaction not yet mined" {
		t.Errorf("reason = %q", reason)
	}
}

func TestValidateInsufficientConfirmations(t *testing.T) {
	state := confirmedState()
	state.head = "0x64" // same block as the transaction
	srv := rpcServer(t, state)

	v := NewEVMValidator(EVMConfig{
		RPCURL:           srv.URL,
		TokenAddress:     testToken,
		MinAmount:        0.01,
		MinConfirmations: 2,
	})

	ok, reason := v.Validate(context.Background(), testTx, testPayer, false)
	if ok {
		t.Fatal("expected rejection")
	}
	if reason != "Insufficient confirmations (0/2)" {
		t.Errorf("reason = %q", reason)
	}
}

func TestValidateReverted(t *testing.T) {
	state := confirmedState()
	state.receipt["status"] = "0x0"
	srv := rpcServer(t, state)
	v := newValidator(srv.URL)

	ok, reason := v.Validate(context.Background(), testTx, testPayer, false)
	if ok {
		t.Fatal("expected rejection")
	}
	if reason != "Transaction failed or reverted" {
		t.Errorf("reason = %q", reason)
	}
}

func TestValidateSenderMismatch(t *testing.T) {
	state := confirmedState()
	other := "0x2222222222222222222222222222222222222222"
	state.tx["from"] = other
	srv := rpcServer(t, state)
	v := newValidator(srv.URL)

	ok, reason := v.Validate(context.Background(), testTx, testPayer, false)
	if ok {
		t.Fatal("expected rejection")
	}
	if want := fmt.Sprintf("Sender mismatch: %s != %s", other, testPayer); reason != want {
		t.Errorf("reason = %q, want %q", reason, want)
	}
}

func TestValidateNoTransferLog(t *testing.T) {
	state := confirmedState()
	state.receipt["logs"] = []map[string]any{}
	srv := rpcServer(t, state)
	v := newValidator(srv.URL)

	ok, reason := v.Validate(context.Background(), testTx, testPayer, false)
	if ok {
		t.Fatal("expected rejection")
	}
	if reason != "No token transfer found in transaction" {
		t.Errorf("reason = %q", reason)
	}
}

func TestValidateInsufficientAmount(t *testing.T) {
	state := confirmedState()
	state.receipt["logs"].([]map[string]any)[0]["data"] = transferData(5_000) // 0.005 tokens
	srv := rpcServer(t, state)
	v := newValidator(srv.URL)

	ok, reason := v.Validate(context.Background(), testTx, testPayer, false)
	if ok {
		t.Fatal("expected rejection")
	}
	if reason != "Insufficient payment amount" {
		t.Errorf("reason = %q", reason)
	}
}

func TestValidateCredits(t *testing.T) {
	state := confirmedState()
	state.receipt["logs"] = []map[string]any{
		{
			"address": testCredits,
			"topics":  []string{creditsUsedTopic, addressTopic(testPayer), "0x" + strings.Repeat("0", 63) + "7"},
			"data":    transferData(1),
		},
	}
	srv := rpcServer(t, state)
	v := newValidator(srv.URL)

	ok, reason := v.Validate(context.Background(), testTx, testPayer, true)
	if !ok {
		t.Fatalf("expected valid credit payment, got %q", reason)
	}
}

func TestValidateCreditsWrongUser(t *testing.T) {
	state := confirmedState()
	other := "0x3333333333333333333333333333333333333333"
	state.receipt["logs"] = []map[string]any{
		{
			"address": testCredits,
			"topics":  []string{creditsUsedTopic, addressTopic(other), "0x" + strings.Repeat("0", 63) + "7"},
			"data":    transferData(1),
		},
	}
	srv := rpcServer(t, state)
	v := newValidator(srv.URL)

	ok, reason := v.Validate(context.Background(), testTx, testPayer, true)
	if ok {
		t.Fatal("expected rejection")
	}
	if !strings.HasPrefix(reason, "Event user mismatch:") {
		t.Errorf("reason = %q", reason)
	}
}

func TestValidateCreditsNoEvent(t *testing.T) {
	srv := rpcServer(t, confirmedState()) // only a token transfer log
	v := newValidator(srv.URL)

	ok, reason := v.Validate(context.Background(), testTx, testPayer, true)
	if ok {
		t.Fatal("expected rejection")
	}
	if reason != "No CreditsUsed event found in transaction" {
		t.Errorf("reason = %q", reason)
	}
}

func TestStaticValidatorAcceptsEverything(t *testing.T) {
	ok, _ := StaticValidator{}.Validate(context.Background(), "", "", false)
	if !ok {
		t.Fatal("static validator must accept everything")
	}
}
