// Command deviceauthctl runs the device side of the flow against a
// deviceauthd server: it requests a device code, prints the user code and
// verification URI, then polls the token endpoint until approval or expiry.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
)

func main() {
	var (
		serverURL = flag.String("server", "http://localhost:8080", "base URL of the deviceauthd server")
		clientID  = flag.String("client-id", "", "OAuth2 client id (required)")
		scope     = flag.String("scope", "", "space-separated scopes to request")
	)
	flag.Parse()

	if *clientID == "" {
		fmt.Fprintln(os.Stderr, "deviceauthctl: -client-id is required")
		os.Exit(2)
	}

	cfg := &oauth2.Config{
		ClientID: *clientID,
		Scopes:   strings.Fields(*scope),
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: strings.TrimRight(*serverURL, "/") + "/device_authorization",
			TokenURL:      strings.TrimRight(*serverURL, "/") + "/token",
		},
	}

	ctx := context.Background()
	authorization, err := cfg.DeviceAuth(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "deviceauthctl: requesting device code: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Visit %s and enter code %s\n", authorization.VerificationURI, authorization.UserCode)
	if authorization.VerificationURIComplete != "" {
		fmt.Printf("Or open %s\n", authorization.VerificationURIComplete)
	}

	token, err := cfg.DeviceAccessToken(ctx, authorization)
	if err != nil {
		fmt.Fprintf(os.Stderr, "deviceauthctl: polling for token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("access_token: %s\n", token.AccessToken)
	fmt.Printf("token_type:   %s\n", token.TokenType)
	if token.RefreshToken != "" {
		fmt.Printf("refresh_token: %s\n", token.RefreshToken)
	}
}
