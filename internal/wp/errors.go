package wp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jonathan/blog-autopilot/internal/types"
)

// wpError is the WordPress REST error envelope.
type wpError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Status int                        `json:"status"`
		Params map[string]json.RawMessage `json:"params"`
	} `json:"data"`
}

// classify maps an HTTP failure response onto the error taxonomy:
// 401/403 auth and 400/422 validation are permanent, 429 is transient
// with the platform's Retry-After hint, everything 5xx is transient.
func classify(resp *http.Response, body []byte) *types.StepError {
	var envelope wpError
	_ = json.Unmarshal(body, &envelope)

	detail := envelope.Message
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}
	detail = fmt.Sprintf("%s (%s %s: %d)", detail, resp.Request.Method, resp.Request.URL.Path, resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &types.StepError{Kind: types.KindPermanent, Detail: "auth rejected: " + detail}
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		se := &types.StepError{Kind: types.KindPermanent, Detail: "validation failed: " + detail}
		if len(envelope.Data.Params) > 0 {
			se.Fields = make(map[string]string, len(envelope.Data.Params))
			for field, msg := range envelope.Data.Params {
				se.Fields[field] = string(msg)
			}
		}
		return se
	case resp.StatusCode == http.StatusTooManyRequests:
		return &types.StepError{
			Kind:       types.KindTransient,
			Detail:     "rate limited: " + detail,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode >= 500:
		return &types.StepError{Kind: types.KindTransient, Detail: "platform unavailable: " + detail}
	default:
		return &types.StepError{Kind: types.KindPermanent, Detail: detail}
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
