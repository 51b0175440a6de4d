package bybit

import (
	bybit_api "github.com/bybit-exchange/bybit.go.api"
)

// DemoURL is the paper-trading environment.
const DemoURL = "https://api-demo.bybit.com"

// Client reads account state from Bybit for the risk gate. It never places
// orders.
type Client struct {
	httpClient *bybit_api.Client
	category   string
	testnet    bool
	demo       bool
	retry      RetryConfig
}

// Config holds the configuration for the Bybit client
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
	Demo      bool   // Demo trading environment
	Category  string // linear, inverse or spot; defaults to linear
	Retry     RetryConfig
}

// NewClient creates a new Bybit client
func NewClient(config Config) *Client {
	baseURL := bybit_api.MAINNET
	switch {
	case config.Demo:
		baseURL = DemoURL
	case config.Testnet:
		baseURL = bybit_api.TESTNET
	}
	if config.Category == "" {
		config.Category = "linear"
	}
	if config.Retry.MaxRetries == 0 && config.Retry.InitialDelay == 0 {
		config.Retry = DefaultRetryConfig()
	}

	httpClient := bybit_api.NewBybitHttpClient(
		config.APIKey,
		config.APISecret,
		bybit_api.WithBaseURL(baseURL),
	)

	return &Client{
		httpClient: httpClient,
		category:   config.Category,
		testnet:    config.Testnet,
		demo:       config.Demo,
		retry:      config.Retry,
	}
}

// Environment returns demo, testnet or mainnet.
func (c *Client) Environment() string {
	switch {
	case c.demo:
		return "demo"
	case c.testnet:
		return "testnet"
	default:
		return "mainnet"
	}
}
