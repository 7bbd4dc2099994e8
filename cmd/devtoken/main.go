// devtoken mints a bearer token for local testing against a running server.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"watchtower/internal/identity"
	"watchtower/internal/platform/config"
	id "watchtower/pkg/domain"
)

func main() {
	user := flag.String("user", "", "user id (uuid); generated when empty")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	userID := id.UserID{}
	if *user == "" {
		userID = id.NewUserID()
	} else if userID, err = id.ParseUserID(*user); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	token, err := identity.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer).IssueToken(userID, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("user_id=%s\ntoken=%s\n", userID, token)
}
