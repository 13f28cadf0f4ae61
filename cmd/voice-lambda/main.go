// Command voice-lambda relays voice-provider callbacks from API Gateway to
// the receptionist API. Providers get a stable public endpoint while the
// API itself runs behind a private load balancer.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/wolfman30/voice-receptionist/pkg/logging"
)

// Provider webhooks carry a tenant id as the final path segment.
var relayPrefixes = []string{
	"/webhooks/telnyx/voice-ai/",
	"/webhooks/retell/",
}

var relayPaths = map[string]bool{
	"/v1/tool-call":   true,
	"/v1/call-events": true,
}

var forwardedHeaders = []string{
	"content-type",
	"telnyx-timestamp",
	"telnyx-signature",
	"x-retell-signature",
	"x-request-id",
}

type relayConfig struct {
	upstreamBaseURL string
	upstreamTimeout time.Duration
}

func loadRelayConfig() (relayConfig, error) {
	baseURL := strings.TrimSpace(os.Getenv("UPSTREAM_BASE_URL"))
	if baseURL == "" {
		return relayConfig{}, errors.New("UPSTREAM_BASE_URL is required")
	}

	timeout := 4 * time.Second
	if raw := strings.TrimSpace(os.Getenv("UPSTREAM_TIMEOUT")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return relayConfig{}, fmt.Errorf("invalid UPSTREAM_TIMEOUT: %w", err)
		}
		timeout = parsed
	}

	return relayConfig{
		upstreamBaseURL: strings.TrimRight(baseURL, "/"),
		upstreamTimeout: timeout,
	}, nil
}

func main() {
	logger := logging.New(os.Getenv("LOG_LEVEL"))
	cfg, err := loadRelayConfig()
	if err != nil {
		logger.Error("invalid relay configuration", "error", err)
		os.Exit(1)
	}

	r := &relay{cfg: cfg, client: &http.Client{Timeout: cfg.upstreamTimeout}, logger: logger}
	lambda.Start(r.handle)
}

type relay struct {
	cfg    relayConfig
	client *http.Client
	logger *logging.Logger
}

func (r *relay) handle(ctx context.Context, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	method := strings.ToUpper(strings.TrimSpace(evt.RequestContext.HTTP.Method))
	path := requestPath(evt)

	if path == "/health" {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusOK, Body: "ok"}, nil
	}
	if !relayable(path) {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusNotFound}, nil
	}
	if method != http.MethodPost {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusMethodNotAllowed}, nil
	}

	body, err := eventBody(evt)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusBadRequest, Body: "invalid body"}, nil
	}

	target := r.cfg.upstreamBaseURL + path
	if qs := strings.TrimSpace(evt.RawQueryString); qs != "" {
		target += "?" + qs
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.cfg.upstreamTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusInternalServerError}, nil
	}
	for _, h := range forwardedHeaders {
		if v := strings.TrimSpace(headerValue(evt.Headers, h)); v != "" {
			req.Header.Set(h, v)
		}
	}
	if host := strings.TrimSpace(evt.RequestContext.DomainName); host != "" {
		req.Header.Set("X-Forwarded-Host", host)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("upstream unreachable", "path", path, "error", err)
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusBadGateway, Body: "upstream error"}, nil
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	out := events.APIGatewayV2HTTPResponse{
		StatusCode: resp.StatusCode,
		Body:       string(respBody),
		Headers:    map[string]string{},
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		out.Headers["content-type"] = ct
	}
	return out, nil
}

func requestPath(evt events.APIGatewayV2HTTPRequest) string {
	if p := strings.TrimSpace(evt.RawPath); p != "" {
		return p
	}
	return strings.TrimSpace(evt.RequestContext.HTTP.Path)
}

func relayable(path string) bool {
	if relayPaths[path] {
		return true
	}
	for _, prefix := range relayPrefixes {
		tenant := strings.TrimPrefix(path, prefix)
		if tenant != path && tenant != "" && !strings.Contains(tenant, "/") {
			return true
		}
	}
	return false
}

func eventBody(evt events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if !evt.IsBase64Encoded {
		return []byte(evt.Body), nil
	}
	return base64.StdEncoding.DecodeString(evt.Body)
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
