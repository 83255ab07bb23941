package apiclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"golang.org/x/net/publicsuffix"
)

// Doer issues a single HTTP request. Implementations must honor ctx cancellation.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

type retryDoer struct {
	client *retry.Client
}

func (d retryDoer) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return d.client.DoWithContext(ctx, req)
}

// newBaseHTTPClient returns the default client. The cookie jar carries the
// refresh cookie the server sets on login.
func newBaseHTTPClient() (*http.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &http.Client{
		Jar: jar,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}, nil
}

// newTransport wraps base with go-httpretry. maxRetries only covers network
// failures of the transport itself; authorization retries are handled by the Client.
func newTransport(base *http.Client, maxRetries int) (Doer, error) {
	if base == nil {
		var err error
		if base, err = newBaseHTTPClient(); err != nil {
			return nil, err
		}
	}
	rc, err := retry.NewClient(
		retry.WithHTTPClient(base),
		retry.WithMaxRetries(maxRetries),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retry client: %w", err)
	}
	return retryDoer{client: rc}, nil
}
