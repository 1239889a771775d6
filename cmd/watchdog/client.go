package main

import (
	"time"

	"github.com/spf13/pflag"

	"github.com/loykin/watchdog/pkg/client"
)

// APIFlags are the connection flags shared by commands that query a running
// watchdog's status server.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
	Insecure   bool
	CACert     string
}

func addAPIFlags(fs *pflag.FlagSet, f *APIFlags, defaultURL string) {
	fs.StringVar(&f.APIUrl, "api-url", defaultURL, "status server URL (e.g. http://127.0.0.1:9090)")
	fs.DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	fs.BoolVar(&f.Insecure, "insecure", false, "skip TLS certificate verification")
	fs.StringVar(&f.CACert, "ca-cert", "", "CA certificate used to verify an https status server")
}

// newAPIClient builds a status-API client from the connection flags.
func newAPIClient(f APIFlags) (*client.Client, error) {
	cfg := client.Config{
		BaseURL:  f.APIUrl,
		Timeout:  f.APITimeout,
		Insecure: f.Insecure,
	}
	if f.CACert != "" {
		cfg.TLS = &client.TLSClientConfig{CACert: f.CACert}
	}
	return client.New(cfg)
}
