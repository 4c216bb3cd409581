package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/redis/go-redis/v9"

	"github.com/operon-labs/feegate/internal/ledger"
	"github.com/operon-labs/feegate/internal/settle"
)

// feebal is an operator debugging tool: it prints a user's credit balance,
// lifetime reimbursements, and (if an RPC endpoint is given) native balance.
func main() {
	redisAddr := flag.String("redis", "localhost:6379", "redis address")
	rpcURL := flag.String("rpc", "", "chain RPC endpoint (optional)")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: feebal [-redis addr] [-rpc url] <address>")
		os.Exit(2)
	}
	user := common.HexToAddress(flag.Arg(0))
	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
	bal, _ := ledger.New(rdb).Balance(ctx, user)
	earned, _ := settle.Earned(ctx, rdb, user.Hex())
	fmt.Printf("credit:  %s fee juice\n", bal)
	fmt.Printf("earned:  %s tokens\n", earned)

	if *rpcURL != "" {
		eth, err := ethclient.Dial(*rpcURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "rpc dial: %v\n", err)
			os.Exit(1)
		}
		native, _ := eth.BalanceAt(ctx, user, nil)
		fmt.Printf("native:  %s wei\n", native)
	}
}
