package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bloodnet/platform/internal/shared/config"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// NewProvider builds the provider selected by cfg.Provider
func NewProvider(cfg config.NotificationConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Provider {
	case "", "log":
		return NewLogProvider(logger), nil
	case "http":
		if cfg.RelayURL == "" {
			return nil, fmt.Errorf("NOTIFY_RELAY_URL is required for the http provider")
		}
		return NewHTTPMailProvider(cfg), nil
	}
	return nil, fmt.Errorf("unknown notification provider %q", cfg.Provider)
}

// LogProvider writes messages to the log instead of sending them
type LogProvider struct {
	logger *zap.Logger
}

// NewLogProvider creates a log-only provider
func NewLogProvider(logger *zap.Logger) *LogProvider {
	return &LogProvider{logger: logger.Named("mail")}
}

func (p *LogProvider) Name() string { return "log" }

// Send implements Provider
func (p *LogProvider) Send(_ context.Context, msg *Message) error {
	p.logger.Info("mail",
		zap.String("id", msg.ID),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("body_len", len(msg.Body)),
	)
	return nil
}

// HTTPMailProvider posts messages to an HTTP mail relay
type HTTPMailProvider struct {
	client *resty.Client
	from   string
}

type relayRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// NewHTTPMailProvider creates a relay client for cfg.RelayURL
func NewHTTPMailProvider(cfg config.NotificationConfig) *HTTPMailProvider {
	client := resty.New().
		SetBaseURL(cfg.RelayURL).
		SetTimeout(10*time.Second).
		SetHeader("Content-Type", "application/json")
	if cfg.RelayToken != "" {
		client.SetAuthToken(cfg.RelayToken)
	}
	return &HTTPMailProvider{client: client, from: cfg.FromAddress}
}

func (p *HTTPMailProvider) Name() string { return "http" }

// Send implements Provider
func (p *HTTPMailProvider) Send(ctx context.Context, msg *Message) error {
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", msg.ID).
		SetBody(relayRequest{From: p.from, To: msg.To, Subject: msg.Subject, Text: msg.Body}).
		Post("")
	if err != nil {
		return fmt.Errorf("mail relay request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("mail relay returned %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// MockProvider records messages in memory, for tests
type MockProvider struct {
	mu         sync.Mutex
	sent       []Message
	failures   int
	failOnSend bool
}

// NewMockProvider creates a new mock provider
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (p *MockProvider) Name() string { return "mock" }

// Send implements Provider
func (p *MockProvider) Send(_ context.Context, msg *Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failOnSend {
		p.failures++
		return fmt.Errorf("mock send failure")
	}
	p.sent = append(p.sent, *msg)
	return nil
}

// SetFailOnSend sets whether Send should fail
func (p *MockProvider) SetFailOnSend(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failOnSend = fail
}

// Sent returns all delivered messages
func (p *MockProvider) Sent() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.sent...)
}

// Failures returns the number of failed send attempts
func (p *MockProvider) Failures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}

// Recorder is a synchronous Sink that keeps every call, for tests
type Recorder struct {
	mu   sync.Mutex
	sent []Message
}

// Send implements Sink
func (r *Recorder) Send(_ context.Context, to, subject, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Message{To: to, Subject: subject, Body: body})
}

// Sent returns all recorded messages
func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.sent...)
}

// To returns the recipients of messages with the given subject
func (r *Recorder) To(subject string) []string {
	var out []string
	for _, m := range r.Sent() {
		if m.Subject == subject {
			out = append(out, m.To)
		}
	}
	return out
}

var (
	_ Provider = (*LogProvider)(nil)
	_ Provider = (*HTTPMailProvider)(nil)
	_ Provider = (*MockProvider)(nil)
	_ Sink     = (*Recorder)(nil)
)
