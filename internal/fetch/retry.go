package fetch

import (
	"context"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
)

// RetryPolicy classifies the outcome of one download request. It returns
// true when the request should be retried, and the error to surface when not.
//
// Cancelled or expired contexts are never retried. Transport errors are
// retried unless they are redirect, scheme or TLS verification failures.
// 429, 503, and any 5xx except 501 are retried.
func RetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if resp == nil && err == nil {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// isExpiredLinkStatus reports whether storage rejected a link because it is
// no longer valid. Pre-signed URLs fail with 403 or 410 once expired.
func isExpiredLinkStatus(code int) bool {
	return code == http.StatusForbidden || code == http.StatusGone
}
