package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/thedongcc/Tcom-sub002/internal/version"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "completion":
			os.Exit(runCompletion(os.Args[2:], os.Stdout, os.Stderr))
		case "__complete-sessions":
			os.Exit(runCompleteSessions(os.Args[2:], os.Stdout, os.Stderr))
		}
	}
	os.Exit(run(os.Args[1:], os.Stdin, os.Stderr))
}

func run(args []string, in io.Reader, errOut io.Writer) int {
	return runWithSender(args, in, errOut, sendWrite)
}

func runWithSender(args []string, in io.Reader, errOut io.Writer, send func(Config, []byte) error) int {
	cfg, err := parseArgs(args, errOut)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return exitUsage
	}
	if cfg.ShowVersion {
		if version.Version == "" || version.Version == "dev" {
			fmt.Fprintln(os.Stdout, "tcom-send dev")
		} else {
			fmt.Fprintf(os.Stdout, "tcom-send version %s\n", version.Version)
		}
		return 0
	}
	if cfg.Debug {
		cfg.Verbose = true
	}
	cfg.LogWriter = errOut
	logf(cfg, "server %s token %s", cfg.URL, maskToken(cfg.Token, cfg.Debug))

	if err := resolveSession(&cfg); err != nil {
		return handleSendError(err, errOut)
	}

	payload, err := io.ReadAll(in)
	if err != nil {
		fmt.Fprintf(errOut, "read stdin: %v\n", err)
		return exitServer
	}

	if send == nil {
		return 0
	}
	if err := send(cfg, payload); err != nil {
		return handleSendError(err, errOut)
	}
	return 0
}

// runCompleteSessions prints session names for shell completion. Failures
// stay quiet so a dead server never breaks tab completion.
func runCompleteSessions(args []string, out io.Writer, errOut io.Writer) int {
	cfg, err := parseCompletionArgs(args)
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		return 1
	}
	names, err := fetchSessionNames(cfg)
	if err != nil {
		return 0
	}
	for _, name := range names {
		fmt.Fprintln(out, name)
	}
	return 0
}

func parseCompletionArgs(args []string) (Config, error) {
	fs := flag.NewFlagSet("tcom-send __complete-sessions", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	urlFlag := fs.String("url", "", "tcom server URL")
	tokenFlag := fs.String("token", "", "Auth token")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	url := strings.TrimSpace(*urlFlag)
	if url == "" {
		url = strings.TrimSpace(os.Getenv("TCOM_URL"))
	}
	if url == "" {
		url = defaultServerURL
	}
	token := strings.TrimSpace(*tokenFlag)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("TCOM_TOKEN"))
	}
	return Config{URL: url, Token: token}, nil
}
