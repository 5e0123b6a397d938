package check

import (
	"context"
	"net/http"
)

// promSampler scrapes a Prometheus text endpoint. Every metric family becomes
// a field named after the family, valued at the sum of its series.
func promSampler(endpoint string, client *http.Client) sampler {
	return func(ctx context.Context) (Sample, error) {
		mfs, err := fetchMetrics(ctx, client, endpoint)
		if err != nil {
			return nil, err
		}
		s := make(Sample, len(mfs))
		for name, mf := range mfs {
			s[name] = sumFamily(mf)
		}
		return s, nil
	}
}
