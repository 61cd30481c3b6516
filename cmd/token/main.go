// Command token issues an admin bearer token for one organization.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/temmyjay001/claimsflow-webhooks/internal/auth"
	"github.com/temmyjay001/claimsflow-webhooks/internal/config"
)

func main() {
	org := flag.String("org", "", "organization id (required)")
	subject := flag.String("sub", "operator", "token subject")
	scopes := flag.String("scopes", strings.Join(auth.AllScopes, ","), "comma separated scopes")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *org == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	token, err := auth.NewService(cfg.JWTSecret, cfg.JWTIssuer).
		IssueToken(*org, *subject, strings.Split(*scopes, ","), *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to issue token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
