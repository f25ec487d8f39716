// Command ledger-token issues caller tokens for the ledger API.
//
//	CALLER_JWT_SECRET=... ledger-token -caller atm-gateway -scope ledger:write
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/boddenberg/retail-ledger/internal/config"
	"github.com/boddenberg/retail-ledger/internal/service"
)

func main() {
	caller := flag.String("caller", "", "calling system, stored in the token subject")
	scope := flag.String("scope", "ledger", "scope claim")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	_ = config.LoadDotEnv(".env")
	cfg := config.Load()

	if *caller == "" {
		fmt.Fprintln(os.Stderr, "ledger-token: -caller is required")
		os.Exit(2)
	}
	tokens, err := service.NewCallerTokens(cfg.CallerJWTSecret, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledger-token: %v\n", err)
		os.Exit(1)
	}
	token, err := tokens.Issue(*caller, *scope)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledger-token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
