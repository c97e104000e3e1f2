// Command token mints an HS256 bearer token for local testing against a
// gateway configured with JWT_SECRET.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"imagegateway/internal/auth"
)

func main() {
	_ = godotenv.Load()

	subject := flag.StringP("subject", "s", "", "token subject (required)")
	scopes := flag.StringSlice("scopes", nil, "scopes to grant, comma separated")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	issuer := flag.String("issuer", os.Getenv("JWT_ISSUER"), "issuer claim")
	secret := flag.String("secret", "", "HMAC secret (defaults to JWT_SECRET)")
	flag.Parse()

	if *secret == "" {
		*secret = os.Getenv("JWT_SECRET")
	}
	if strings.TrimSpace(*subject) == "" || *secret == "" {
		fmt.Fprintln(os.Stderr, "token: --subject and a secret (--secret or JWT_SECRET) are required")
		flag.Usage()
		os.Exit(2)
	}

	tok, err := auth.IssueHS256([]byte(*secret), auth.TokenRequest{
		Subject: *subject,
		Scopes:  *scopes,
		Issuer:  *issuer,
		TTL:     *ttl,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "token:", err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
