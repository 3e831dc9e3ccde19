// dealscout scans retail sources for resale arbitrage opportunities.
//
// Usage:
//
//	dealscout scan --query "wireless mouse" [--sources alpha,beta] [--max-results 10]
//	dealscout sources
//	dealscout serve [--addr :8088]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
