package outbound

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// downloadMedia fetches url over plain HTTP, retrying transient
// failures for a few seconds. Control-plane calls are deliberately not
// retried this way; a public media URL hosted off the control plane is
// safe to hammer briefly when it 5xxs or times out.
func downloadMedia(ctx context.Context, httpClient *http.Client, url string) ([]byte, error) {
	mediaBackoff := backoff.NewExponentialBackOff()
	mediaBackoff.InitialInterval = 500 * time.Millisecond
	mediaBackoff.MaxInterval = 3 * time.Second
	mediaBackoff.MaxElapsedTime = 15 * time.Second

	var data []byte
	err := backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("media fetch: http %d", resp.StatusCode)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		data = body
		return nil
	}, mediaBackoff)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	return data, nil
}
