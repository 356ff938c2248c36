package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Target describes the request a call sends. A zero Method means GET.
type Target struct {
	URL    string
	Method string
	Header http.Header
	Body   []byte
}

// Get targets url with a GET request.
func Get(url string) Target {
	return Target{URL: url, Method: http.MethodGet}
}

// PostJSON targets url with v encoded as a JSON body.
func PostJSON(url string, v any) (Target, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Target{}, fmt.Errorf("encode request body: %w", err)
	}
	return Target{
		URL:    url,
		Method: http.MethodPost,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   body,
	}, nil
}

func (t Target) method() string {
	if t.Method == "" {
		return http.MethodGet
	}
	return t.Method
}

// newRequest builds a fresh request; the body reader is not shared between attempts.
func (t Target) newRequest(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if t.Body != nil {
		body = bytes.NewReader(t.Body)
	}

	req, err := http.NewRequestWithContext(ctx, t.method(), t.URL, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range t.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Cache-Control", "no-store")
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json, text/plain;q=0.9, */*;q=0.8")
	}
	return req, nil
}
