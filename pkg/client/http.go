package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stormstack/lightning/pkg/errdefs"
)

const defaultTimeout = 10 * time.Second

// rest is the shared envelope-aware HTTP core of both clients.
type rest struct {
	base   string
	bearer string
	http   *http.Client
}

func newREST(base, bearer string) rest {
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return rest{
		base:   strings.TrimRight(base, "/"),
		bearer: bearer,
		http:   &http.Client{Timeout: defaultTimeout},
	}
}

// envelope mirrors the server's success wire form.
type envelope struct {
	Data json.RawMessage `json:"data"`
}

// errorBody mirrors the server's error wire form.
type errorBody struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

// do issues a request and decodes the data envelope into out (out may be
// nil when the caller only needs success/failure).
func (c *rest) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errdefs.Internal(err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return errdefs.Internal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errdefs.Wrap(errdefs.KindResourceUnavailable, err, "%s %s failed", method, path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errdefs.Internal(err)
	}

	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return errdefs.Internal(fmt.Errorf("malformed response envelope: %w", err))
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return errdefs.Internal(fmt.Errorf("malformed response data: %w", err))
	}
	return nil
}

// decodeError rebuilds a taxonomy error from the error envelope.
func decodeError(status int, raw []byte) error {
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil || body.Error.Code == "" {
		return errdefs.New(errdefs.KindInternal, "unexpected response status %d", status)
	}
	e := errdefs.New(errdefs.Kind(body.Error.Code), "%s", body.Error.Message)
	if len(body.Error.Details) > 0 {
		e = e.WithDetails(body.Error.Details)
	}
	return e
}
