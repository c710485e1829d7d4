package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"homeescrow/cmd/internal/passphrase"
	"homeescrow/config"
	"homeescrow/crypto"
	"homeescrow/rpc"
)

// runKeygen creates an operator keystore and prints its address.
func runKeygen(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	outPath := fs.String("out", "./operator.keystore", "Keystore file to create")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	pass, err := passphrase.NewSource(operatorPassEnv, passphrase.WithConfirmation()).Get()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(*outPath, key, pass); err != nil {
		return fmt.Errorf("save keystore: %w", err)
	}
	fmt.Fprintf(stdout, "address %s\nkeystore %s\n", key.PubKey().Address().String(), *outPath)
	return nil
}

// runToken mints a bearer token for an address or keystore using the
// configured HMAC secret.
func runToken(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	configFile := fs.String("config", "./config.toml", "Path to the configuration file")
	keystorePath := fs.String("keystore", "", "Keystore holding the caller key")
	address := fs.String("address", "", "Caller bech32 address when no keystore is given")
	scopes := fs.String("scopes", "", "Comma separated scopes, e.g. admin")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return errors.New("auth secret not configured")
	}

	var subject [20]byte
	switch {
	case *keystorePath != "":
		pass, err := passphrase.NewSource(operatorPassEnv).Get()
		if err != nil {
			return err
		}
		key, err := crypto.LoadFromKeystore(*keystorePath, pass)
		if err != nil {
			return fmt.Errorf("load keystore: %w", err)
		}
		subject = key.PubKey().Address().Array()
	case *address != "":
		subject, err = crypto.ParseAddress(*address)
		if err != nil {
			return err
		}
	default:
		return errors.New("provide -keystore or -address")
	}

	token, err := rpc.IssueToken([]byte(strings.TrimSpace(cfg.Auth.HMACSecret)), subject,
		cfg.Auth.Issuer, cfg.Auth.Audience, splitScopes(*scopes), *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, token)
	return nil
}

func splitScopes(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
