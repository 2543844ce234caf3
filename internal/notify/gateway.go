package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var ErrNotificationFailed = errors.New("notification failed")

type Message struct {
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
}

type Result struct {
	Accepted       bool   `json:"accepted"`
	ProviderResult string `json:"provider_result"`
}

// Gateway is the outbound messaging provider.
type Gateway interface {
	Send(ctx context.Context, message Message) (Result, error)
}

type GatewayConfig struct {
	Kind    string
	URL     string
	Token   string
	Timeout time.Duration
}

// NewGateway picks a provider by kind. An http kind without a URL falls
// back to logging the message.
func NewGateway(cfg GatewayConfig) Gateway {
	switch cfg.Kind {
	case "", "log":
		return LogGateway{}
	case "noop":
		return NoopGateway{}
	case "fail":
		return FailGateway{}
	case "http", "webhook":
		if cfg.URL == "" {
			return LogGateway{}
		}
		return NewHTTPGateway(cfg.URL, cfg.Token, cfg.Timeout)
	default:
		if strings.HasPrefix(cfg.Kind, "http://") || strings.HasPrefix(cfg.Kind, "https://") {
			return NewHTTPGateway(cfg.Kind, cfg.Token, cfg.Timeout)
		}
		return LogGateway{}
	}
}

type LogGateway struct{}

func (LogGateway) Send(ctx context.Context, message Message) (Result, error) {
	logrus.WithFields(logrus.Fields{
		"from": message.From,
		"to":   message.To,
	}).Infof("notify send: %s", message.Text)
	return Result{Accepted: true, ProviderResult: "logged"}, nil
}

type NoopGateway struct{}

func (NoopGateway) Send(ctx context.Context, message Message) (Result, error) {
	return Result{Accepted: true}, nil
}

type FailGateway struct{}

func (FailGateway) Send(ctx context.Context, message Message) (Result, error) {
	return Result{}, errors.New("provider failure")
}

// HTTPGateway posts the message as JSON to a provider endpoint.
type HTTPGateway struct {
	client *resty.Client
	url    string
}

type providerResponse struct {
	Accepted  *bool  `json:"accepted"`
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
}

func NewHTTPGateway(url, token string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetTransport(otelhttp.NewTransport(http.DefaultTransport)).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &HTTPGateway{client: client, url: url}
}

func (g *HTTPGateway) Send(ctx context.Context, message Message) (Result, error) {
	var body providerResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(message).
		SetResult(&body).
		Post(g.url)
	if err != nil {
		return Result{}, fmt.Errorf("provider request: %w", err)
	}
	if resp.IsError() {
		return Result{ProviderResult: resp.Status()}, fmt.Errorf("provider rejected request: %s", resp.Status())
	}

	result := Result{Accepted: true, ProviderResult: body.MessageID}
	if body.Accepted != nil {
		result.Accepted = *body.Accepted
	}
	if result.ProviderResult == "" {
		result.ProviderResult = body.Status
	}
	if result.ProviderResult == "" {
		result.ProviderResult = resp.Status()
	}
	return result, nil
}
