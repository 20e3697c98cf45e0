package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

const defaultServerURL = "http://127.0.0.1:8738"

type Config struct {
	URL         string
	Token       string
	SessionRef  string
	SessionID   string
	SessionName string
	Connect     bool
	Hex         bool
	Topic       string
	QoS         int
	Retain      bool
	RetainSet   bool
	Verbose     bool
	Debug       bool
	ShowVersion bool
	LogWriter   io.Writer
}

func parseArgs(args []string, errOut io.Writer) (Config, error) {
	fs := flag.NewFlagSet("tcom-send", flag.ContinueOnError)
	fs.SetOutput(errOut)
	urlFlag := fs.String("url", "", "tcom server URL (env: TCOM_URL, default: http://127.0.0.1:8738)")
	tokenFlag := fs.String("token", "", "Auth token (env: TCOM_TOKEN, default: none)")
	connectFlag := fs.Bool("connect", false, "Connect the session first if it is idle")
	hexFlag := fs.Bool("hex", false, "Treat stdin as hex digits instead of raw bytes")
	topicFlag := fs.String("topic", "", "MQTT topic override for this write")
	qosFlag := fs.Int("qos", -1, "MQTT QoS override for this write (0-2)")
	retainFlag := fs.Bool("retain", false, "MQTT retain flag for this write")
	verboseFlag := fs.Bool("verbose", false, "Verbose output")
	debugFlag := fs.Bool("debug", false, "Debug output (implies --verbose)")
	helpFlag := fs.Bool("help", false, "Show this help message")
	versionFlag := fs.Bool("version", false, "Print version and exit")
	fs.Usage = func() {
		printSendHelp(fs.Output())
	}

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *helpFlag {
		fs.Usage()
		return Config{}, flag.ErrHelp
	}

	if *versionFlag {
		return Config{ShowVersion: true}, nil
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return Config{}, fmt.Errorf("session name or id required")
	}

	sessionRef := strings.TrimSpace(fs.Arg(0))
	if sessionRef == "" {
		fs.Usage()
		return Config{}, fmt.Errorf("session name or id required")
	}

	if *qosFlag < -1 || *qosFlag > 2 {
		fs.Usage()
		return Config{}, fmt.Errorf("qos must be 0, 1, or 2")
	}

	retainSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "retain" {
			retainSet = true
		}
	})

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

	return Config{
		URL:        url,
		Token:      token,
		SessionRef: sessionRef,
		Connect:    *connectFlag,
		Hex:        *hexFlag,
		Topic:      strings.TrimSpace(*topicFlag),
		QoS:        *qosFlag,
		Retain:     *retainFlag,
		RetainSet:  retainSet,
		Verbose:    *verboseFlag,
		Debug:      *debugFlag,
	}, nil
}

func printSendHelp(out io.Writer) {
	fmt.Fprintln(out, "Usage: tcom-send [options] <session-name-or-id>")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Send stdin to a session on a running tcom server")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Options:")
	writeSendOption(out, "--url URL", "tcom server URL (env: TCOM_URL, default: http://127.0.0.1:8738)")
	writeSendOption(out, "--token TOKEN", "Auth token (env: TCOM_TOKEN, default: none)")
	writeSendOption(out, "--connect", "Connect the session first if it is idle")
	writeSendOption(out, "--hex", "Treat stdin as hex digits instead of raw bytes")
	writeSendOption(out, "--topic TOPIC", "MQTT topic override for this write")
	writeSendOption(out, "--qos N", "MQTT QoS override for this write (0-2)")
	writeSendOption(out, "--retain", "MQTT retain flag for this write")
	writeSendOption(out, "--verbose", "Show request/response details")
	writeSendOption(out, "--debug", "Show detailed debug info (implies --verbose)")
	writeSendOption(out, "--help", "Show this help message")
	writeSendOption(out, "--version", "Print version and exit")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Arguments:")
	fmt.Fprintln(out, "  session-name-or-id  Session to write to; a unique name prefix works too")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Examples:")
	fmt.Fprintln(out, "  echo \"AT\" | tcom-send \"bench meter\"")
	fmt.Fprintln(out, "  printf '01 03 00 00 00 0A' | tcom-send --hex --connect plc")
	fmt.Fprintln(out, "  echo '{\"cmd\":\"ping\"}' | tcom-send --topic devices/ping broker")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Exit codes:")
	fmt.Fprintln(out, "  0  Success")
	fmt.Fprintln(out, "  1  Usage error")
	fmt.Fprintln(out, "  2  Session not connected")
	fmt.Fprintln(out, "  3  Network or server error")
}

func writeSendOption(out io.Writer, name, desc string) {
	fmt.Fprintf(out, "  %-14s %s\n", name, desc)
}
