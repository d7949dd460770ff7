// Command cofrapctl walks a user through the credential lifecycle from a
// terminal: lookup, registration, 2FA setup, login and renewal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterh/liner"

	"github.com/cofrap/cofrap_auth/internal/gateway"
	"github.com/cofrap/cofrap_auth/internal/logging"
)

const defaultGatewayURL = "http://gateway.openfaas.svc.cluster.local:8080"

func main() {
	_ = godotenv.Load()

	gatewayURL := flag.String("gateway", envOr("OPENFAAS_GATEWAY_URL", defaultGatewayURL), "identity functions base URL")
	proxyURL := flag.String("proxy", os.Getenv("COFRAP_PROXY_URL"), "talk to a cofrap proxy instead of the gateway")
	timeout := flag.Duration("timeout", 10*time.Second, "per-call timeout")
	qrDir := flag.String("qr-dir", "", "write issued QR codes as PNG files into this directory")
	verbose := flag.Bool("v", false, "log upstream calls")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: cofrapctl [-gateway URL | -proxy URL] [-qr-dir DIR]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	logLevel := "error"
	if *verbose {
		logLevel = "debug"
	}
	logger := logging.NewTo(os.Stderr, logLevel)

	var client *gateway.Client
	if *proxyURL != "" {
		client = gateway.New(*proxyURL, *timeout, gateway.WithRoutes(gateway.ProxyRoutes), gateway.WithLogger(logger))
	} else {
		client = gateway.New(*gatewayURL, *timeout, gateway.WithLogger(logger))
	}

	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	t := &terminal{in: line, out: os.Stdout, qrDir: *qrDir}
	code := t.run(ctx, client, logger)
	stop()
	line.Close()
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

