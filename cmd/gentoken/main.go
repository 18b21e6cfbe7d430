// Command gentoken mints local-mode ID tokens for development and load
// tests. The signing secret is read from LOCAL_AUTH_SHARED_SECRET.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"boardsync/identity"
)

type options struct {
	count    int
	prefix   string
	start    int
	ttl      time.Duration
	issuer   string
	audience string
}

func main() {
	var (
		opts   options
		output = flag.String("output", "", "file to write generated tokens as a JSON array")
	)
	flag.IntVar(&opts.count, "count", 1, "number of tokens to generate")
	flag.StringVar(&opts.prefix, "prefix", "+1555000", "phone prefix for generated numbers when count > 1")
	flag.IntVar(&opts.start, "start", 1, "starting suffix for generated numbers when count > 1")
	flag.DurationVar(&opts.ttl, "ttl", time.Hour, "token lifetime")
	flag.StringVar(&opts.issuer, "issuer", os.Getenv("TOKEN_ISSUER"), "iss claim")
	flag.StringVar(&opts.audience, "audience", os.Getenv("TOKEN_AUDIENCE"), "aud claim")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}
	secret := os.Getenv("LOCAL_AUTH_SHARED_SECRET")
	if secret == "" {
		log.Fatal("LOCAL_AUTH_SHARED_SECRET must be set")
	}

	tokens, err := generateTokens([]byte(secret), opts, flag.Args(), time.Now())
	if err != nil {
		log.Fatalf("generate token: %v", err)
	}

	if *output != "" {
		if err := writeTokens(*output, tokens); err != nil {
			log.Fatalf("write tokens: %v", err)
		}
	}

	fmt.Print(tokens[0])
}

func phonesFor(opts options, args []string) ([]string, error) {
	if opts.count < 1 {
		return nil, errors.New("count must be at least 1")
	}
	if opts.start < 0 {
		return nil, errors.New("start must not be negative")
	}
	if len(args) > 0 {
		if opts.count > 1 {
			return nil, errors.New("explicit phone number cannot be provided when generating multiple tokens")
		}
		return args[:1], nil
	}
	if opts.count == 1 {
		return []string{fmt.Sprintf("%s%04d", opts.prefix, opts.start)}, nil
	}
	phones := make([]string, opts.count)
	for i := range phones {
		phones[i] = fmt.Sprintf("%s%04d", opts.prefix, opts.start+i)
	}
	return phones, nil
}

func generateTokens(secret []byte, opts options, args []string, now time.Time) ([]string, error) {
	phones, err := phonesFor(opts, args)
	if err != nil {
		return nil, err
	}
	tokens := make([]string, len(phones))
	for i, raw := range phones {
		phone, err := identity.NormalizePhone(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", raw, err)
		}
		tok, err := identity.SignLocalToken(secret, phone, opts.issuer, opts.audience, now, opts.ttl)
		if err != nil {
			return nil, err
		}
		tokens[i] = tok
	}
	return tokens, nil
}

func writeTokens(path string, tokens []string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := sonic.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
