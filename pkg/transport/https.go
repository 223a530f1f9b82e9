// Package transport provides the HTTPS client used to dispatch AS4
// envelopes with TLS 1.2/1.3 as recommended by the eDelivery AS4 profile.
// Transport failures are reported as EBMS:0005 connection failures so the
// pull coordination can recover them locally via backoff.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirosfoundation/go-as4-gateway/pkg/ebms"
)

// ContentTypeSOAP is the content type of a plain SOAP 1.2 envelope.
const ContentTypeSOAP = "application/soap+xml"

// HTTPSConfig holds TLS and timeout settings for the client.
type HTTPSConfig struct {
	MinTLSVersion uint16
	Certificates  []tls.Certificate
	RootCAs       *x509.CertPool
	Timeout       time.Duration

	// InsecureSkipVerify disables server certificate verification.
	// Development only.
	InsecureSkipVerify bool
}

// DefaultHTTPSConfig returns TLS 1.2+ with a 60s request timeout.
func DefaultHTTPSConfig() *HTTPSConfig {
	return &HTTPSConfig{
		MinTLSVersion: tls.VersionTLS12,
		Timeout:       60 * time.Second,
	}
}

// HTTPSClient posts envelopes to remote gateway endpoints.
type HTTPSClient struct {
	client *http.Client
}

// NewHTTPSClient creates a client from the given configuration.
func NewHTTPSClient(cfg *HTTPSConfig) *HTTPSClient {
	if cfg == nil {
		cfg = DefaultHTTPSConfig()
	}

	tlsConfig := &tls.Config{
		MinVersion:         cfg.MinTLSVersion,
		Certificates:       cfg.Certificates,
		RootCAs:            cfg.RootCAs,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	if tlsConfig.MinVersion == 0 {
		tlsConfig.MinVersion = tls.VersionTLS12
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &HTTPSClient{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: tlsConfig,
			},
		},
	}
}

// Send posts body to url and returns the response body. Network-level
// failures and 5xx responses become EBMS:0005 connection failures; other
// non-2xx responses are EBMS:0004.
func (c *HTTPSClient) Send(ctx context.Context, url string, body []byte, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if contentType == "" {
		contentType = ContentTypeSOAP
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, ebms.NewProtocolErrorFrom(ebms.ErrorConnectionFailure,
			"error contacting "+url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ebms.NewProtocolErrorFrom(ebms.ErrorConnectionFailure,
			"reading response from "+url, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode >= 500:
		return nil, ebms.NewProtocolError(ebms.ErrorConnectionFailure,
			fmt.Sprintf("endpoint %s answered %d", url, resp.StatusCode))
	default:
		return nil, ebms.NewProtocolError(ebms.ErrorOther,
			fmt.Sprintf("endpoint %s answered %d", url, resp.StatusCode))
	}
}
