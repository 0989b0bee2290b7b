// Command tokenseal encrypts a Deriv API token with a password so the server
// can open the operator session without the token sitting in plain config.
//
//	DIGITBOT_DERIV_TOKEN_PASSWORD=... tokenseal -out token.json < token.txt
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/alanyoungcy/digitbot/internal/crypto"
)

func main() {
	out := flag.String("out", "deriv_token.json", "output path for the sealed token")
	verify := flag.Bool("verify", false, "open -out with the password instead of sealing")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	password := os.Getenv("DIGITBOT_DERIV_TOKEN_PASSWORD")
	if password == "" {
		logger.Error("DIGITBOT_DERIV_TOKEN_PASSWORD must be set")
		os.Exit(2)
	}

	if *verify {
		data, err := os.ReadFile(*out)
		if err != nil {
			logger.Error("read sealed token", slog.String("error", err.Error()))
			os.Exit(1)
		}
		tok, err := crypto.OpenToken(data, password)
		if err != nil {
			logger.Error("open sealed token", slog.String("error", err.Error()))
			os.Exit(1)
		}
		fmt.Printf("ok: token of %d characters\n", len(tok))
		return
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		logger.Error("read token from stdin", slog.String("error", err.Error()))
		os.Exit(1)
	}
	token := strings.TrimSpace(line)

	sealed, err := crypto.SealToken(token, password)
	if err != nil {
		logger.Error("seal token", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := os.WriteFile(*out, sealed, 0o600); err != nil {
		logger.Error("write sealed token", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("sealed token written", slog.String("path", *out))
}
