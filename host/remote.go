package host

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/guseggert/cmdbridge/transport"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

// DialRemote waits for a worker listening at baseURL to become healthy, then attaches to its session endpoint.
// tlsConfig is used for https URLs and may be nil.
func DialRemote(ctx context.Context, baseURL string, tlsConfig *tls.Config, log *zap.SugaredLogger) (io.ReadWriteCloser, error) {
	log = log.Named("remote")
	baseURL = strings.TrimSuffix(baseURL, "/")

	newClient := func() *http.Client {
		return &http.Client{Transport: &http.Transport{TLSClientConfig: tlsConfig}}
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = newClient()
	retryClient.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		return 100 * time.Millisecond
	}
	retryClient.RetryMax = 50
	retryClient.Logger = &logAdapter{SugaredLogger: log}
	httpClient := retryClient.StandardClient()

	if err := waitHealthy(ctx, httpClient, baseURL); err != nil {
		return nil, err
	}
	log.Debugw("remote worker is healthy", "URL", baseURL)

	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/session"
	// the WebSocket handshake is not retried, a busy worker answers 409
	return transport.DialWebSocket(ctx, wsURL, newClient())
}

func waitHealthy(ctx context.Context, httpClient *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("waiting for remote worker: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status code %d", resp.StatusCode)
	}
	return nil
}
