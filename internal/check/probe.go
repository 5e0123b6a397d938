package check

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// probeSampler issues a GET against endpoint and reports:
//
//	up           1 for a 2xx/3xx answer, otherwise 0
//	status_code  the HTTP status, 0 when no response arrived
//	latency_ms   time to the response headers
//
// A connection failure is a sample with up=0, not an error, so rules such as
// "up < 1" can fire on it.
func probeSampler(endpoint string, client *http.Client) sampler {
	return func(ctx context.Context) (Sample, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		start := time.Now()
		resp, err := client.Do(req)
		latency := float64(time.Since(start).Microseconds()) / 1000
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return Sample{"up": 0, "status_code": 0, "latency_ms": latency}, nil
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

		up := 0.0
		if resp.StatusCode < 400 {
			up = 1
		}
		return Sample{
			"up":          up,
			"status_code": float64(resp.StatusCode),
			"latency_ms":  latency,
		}, nil
	}
}
