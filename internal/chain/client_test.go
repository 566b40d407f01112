package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	xerrors "ChainPilot/internal/errors"
)

// stubBackend replaces a live node with canned responses.
type stubBackend struct {
	balance   *big.Int
	gasPrice  *big.Int
	chainID   *big.Int
	blockNum  uint64
	err       error
	lastQuery common.Address
	closed    bool
}

func (s *stubBackend) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	s.lastQuery = account
	return s.balance, s.err
}

func (s *stubBackend) SuggestGasPrice(_ context.Context) (*big.Int, error) {
	return s.gasPrice, s.err
}

func (s *stubBackend) ChainID(_ context.Context) (*big.Int, error) {
	return s.chainID, s.err
}

func (s *stubBackend) BlockNumber(_ context.Context) (uint64, error) {
	return s.blockNum, s.err
}

func (s *stubBackend) Close() { s.closed = true }

func TestWalletBalanceValidatesAddress(t *testing.T) {
	client := NewClientWithBackend("mainnet", &stubBackend{})

	_, err := client.WalletBalance(context.Background(), "not-an-address")
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("非法地址应返回 INVALID_ARGUMENT: %v", err)
	}
}

func TestWalletBalanceQueriesBackend(t *testing.T) {
	stub := &stubBackend{balance: big.NewInt(1500000000000000000)}
	client := NewClientWithBackend("mainnet", stub)

	balance, err := client.WalletBalance(context.Background(), "0x000000000000000000000000000000000000dEaD")
	if err != nil {
		t.Fatalf("wallet balance: %v", err)
	}
	if balance.Cmp(stub.balance) != 0 {
		t.Fatalf("unexpected balance: %s", balance)
	}
	if stub.lastQuery != common.HexToAddress("0x000000000000000000000000000000000000dEaD") {
		t.Fatalf("应查询传入的地址: %s", stub.lastQuery)
	}
}

func TestWalletBalanceWrapsRPCFailure(t *testing.T) {
	client := NewClientWithBackend("mainnet", &stubBackend{err: errors.New("connection refused")})

	_, err := client.WalletBalance(context.Background(), "0x000000000000000000000000000000000000dEaD")
	if xerrors.CodeOf(err) != xerrors.CodeUnavailable {
		t.Fatalf("RPC 故障应包装为 UNAVAILABLE: %v", err)
	}
}

func TestFetchSnapshot(t *testing.T) {
	client := NewClientWithBackend("mainnet", &stubBackend{
		chainID:  big.NewInt(1),
		blockNum: 0x12d687,
	})

	snapshot, err := client.FetchSnapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.Chain != "mainnet" || snapshot.ChainID != "1" || snapshot.BlockNumber != "0x12d687" {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
}

func TestCloseReleasesBackend(t *testing.T) {
	stub := &stubBackend{}
	client := NewClientWithBackend("mainnet", stub)
	client.Close()
	if !stub.closed {
		t.Fatalf("Close 应释放底层连接")
	}
}

func TestWalletBalanceHandlerFormatsEther(t *testing.T) {
	stub := &stubBackend{balance: big.NewInt(1500000000000000000)}
	handlers := Handlers(NewClientWithBackend("mainnet", stub))

	payload, err := handlers["wallet_balance"](context.Background(),
		map[string]any{"address": "0x000000000000000000000000000000000000dEaD"}, "s1")
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	result := payload.(map[string]any)
	if result["balance_wei"] != "1500000000000000000" || result["balance_eth"] != "1.500000" {
		t.Fatalf("unexpected payload: %+v", result)
	}
}

func TestGasPriceHandlerFormatsGwei(t *testing.T) {
	stub := &stubBackend{gasPrice: big.NewInt(25500000000)}
	handlers := Handlers(NewClientWithBackend("mainnet", stub))

	payload, err := handlers["gas_price"](context.Background(), nil, "s1")
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	result := payload.(map[string]any)
	if result["price_wei"] != "25500000000" || result["price_gwei"] != "25.50" {
		t.Fatalf("unexpected payload: %+v", result)
	}
}

func TestWalletBalanceHandlerRequiresAddress(t *testing.T) {
	handlers := Handlers(NewClientWithBackend("mainnet", &stubBackend{}))

	_, err := handlers["wallet_balance"](context.Background(), map[string]any{}, "s1")
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("缺少地址应返回 INVALID_ARGUMENT: %v", err)
	}
}
