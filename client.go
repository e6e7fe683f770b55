// Package intellirouter is the Go client for the IntelliRouter API.
//
//	client, err := intellirouter.NewClient(intellirouter.WithAPIKey("..."))
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//	chain, err := client.Chains.Get(ctx, "chain-123")
package intellirouter

import (
	"io"
	"time"

	"github.com/lspecian/intellirouter-go/src/chains"
	"github.com/lspecian/intellirouter-go/src/config"
	"github.com/lspecian/intellirouter-go/src/transports"
	irhttp "github.com/lspecian/intellirouter-go/src/transports/http"
)

// Client is the root handle. Resource clients are built once, when the
// Client is constructed, and share its transport.
type Client struct {
	Chains *chains.Client

	config    *config.Config
	transport transports.Transport
	logger    func(format string, args ...interface{})
}

type clientOptions struct {
	configOpts []config.Option
	httpOpts   []irhttp.Option
	transport  transports.Transport
	logger     func(format string, args ...interface{})
}

// Option configures NewClient.
type Option func(*clientOptions)

func WithAPIKey(key string) Option { return WithConfig(config.WithAPIKey(key)) }

func WithBaseURL(u string) Option { return WithConfig(config.WithBaseURL(u)) }

func WithTimeout(d time.Duration) Option { return WithConfig(config.WithTimeout(d)) }

func WithMaxRetries(n int) Option { return WithConfig(config.WithMaxRetries(n)) }

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(perSecond float64) Option { return WithConfig(config.WithRateLimit(perSecond)) }

func WithConfigFile(path string) Option { return WithConfig(config.WithConfigFile(path)) }

// WithDotEnv reads settings from a .env file after the process environment.
func WithDotEnv(path string) Option { return WithConfig(config.WithDotEnv(path)) }

// WithConfig passes options straight to config.Load.
func WithConfig(opts ...config.Option) Option {
	return func(o *clientOptions) { o.configOpts = append(o.configOpts, opts...) }
}

// WithHTTPOptions customizes the default HTTP transport.
func WithHTTPOptions(opts ...irhttp.Option) Option {
	return func(o *clientOptions) { o.httpOpts = append(o.httpOpts, opts...) }
}

// WithTransport replaces the HTTP transport. The transport is then
// responsible for authentication, so no API key is required.
func WithTransport(t transports.Transport) Option {
	return func(o *clientOptions) { o.transport = t }
}

func WithLogger(logger func(format string, args ...interface{})) Option {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewClient resolves configuration and builds the client. Without an API key
// and without a custom transport it fails with a *errors.ConfigurationError.
func NewClient(opts ...Option) (*Client, error) {
	o := &clientOptions{logger: func(format string, args ...interface{}) {}}
	for _, opt := range opts {
		opt(o)
	}

	cfgOpts := append([]config.Option{config.WithLogger(o.logger)}, o.configOpts...)
	cfg, err := config.Load(cfgOpts...)
	if err != nil {
		return nil, err
	}

	t := o.transport
	if t == nil {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		httpOpts := append([]irhttp.Option{irhttp.WithLogger(o.logger)}, o.httpOpts...)
		t = irhttp.NewHTTPTransport(cfg, httpOpts...)
	}
	o.logger("intellirouter client configured for %s", cfg.BaseURL)

	return &Client{
		Chains:    chains.NewClient(t),
		config:    cfg,
		transport: t,
		logger:    o.logger,
	}, nil
}

// Config returns the resolved settings.
func (c *Client) Config() *config.Config { return c.config }

// Close releases the transport's connections when it holds any.
func (c *Client) Close() error {
	if closer, ok := c.transport.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
