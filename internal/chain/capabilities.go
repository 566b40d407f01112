package chain

import (
	"context"
	"fmt"
	"math/big"

	"ChainPilot/internal/capability"
	xerrors "ChainPilot/internal/errors"
)

var weiPerEther = new(big.Float).SetFloat64(1e18)

// Handlers returns the built-in chain query handlers keyed by capability
// name, ready to be bound against the capability catalogue.
func Handlers(client *Client) map[string]capability.Handler {
	return map[string]capability.Handler{
		"wallet_balance": walletBalance(client),
		"gas_price":      gasPrice(client),
		"chain_snapshot": chainSnapshot(client),
	}
}

func walletBalance(client *Client) capability.Handler {
	return func(ctx context.Context, args map[string]any, _ string) (any, error) {
		address, ok := args["address"].(string)
		if !ok || address == "" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "wallet_balance 需要 address 参数")
		}
		balance, err := client.WalletBalance(ctx, address)
		if err != nil {
			return nil, err
		}
		ether := new(big.Float).Quo(new(big.Float).SetInt(balance), weiPerEther)
		return map[string]any{
			"address":     address,
			"balance_wei": balance.String(),
			"balance_eth": fmt.Sprintf("%.6f", ether),
		}, nil
	}
}

func gasPrice(client *Client) capability.Handler {
	return func(ctx context.Context, _ map[string]any, _ string) (any, error) {
		price, err := client.GasPrice(ctx)
		if err != nil {
			return nil, err
		}
		gwei := new(big.Float).Quo(new(big.Float).SetInt(price), big.NewFloat(1e9))
		return map[string]any{
			"price_wei":  price.String(),
			"price_gwei": fmt.Sprintf("%.2f", gwei),
		}, nil
	}
}

func chainSnapshot(client *Client) capability.Handler {
	return func(ctx context.Context, _ map[string]any, _ string) (any, error) {
		snapshot, err := client.FetchSnapshot(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"chain":        snapshot.Chain,
			"chain_id":     snapshot.ChainID,
			"block_number": snapshot.BlockNumber,
		}, nil
	}
}
