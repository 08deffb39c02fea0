// Package debrid converts protected download links into direct
// streaming URLs through the AllDebrid API.
package debrid

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/dydhzo/wastream/internal/httpclient"
	"github.com/dydhzo/wastream/internal/log"
	"github.com/dydhzo/wastream/internal/xerrors"
)

const DefaultAPIURL = "https://apislow.alldebrid.com/v4"

// DefaultAgent identifies this addon to the API; requests without an
// agent parameter are rejected.
const DefaultAgent = "WAStream"

// ErrLinkDown marks a link the host has removed. Callers record it in
// the dead-link table so it is filtered from future results.
var ErrLinkDown = xerrors.New("link down")

// ErrUnsupportedHost means the debrid service cannot handle this host
// at all; retrying is pointless.
var ErrUnsupportedHost = xerrors.New("host not supported")

type Options struct {
	Logger     log.Logger
	HTTP       *httpclient.Client
	APIURL     string
	Agent      string
	MaxRetries int
	RetryDelay time.Duration
}

type Client struct {
	lg         log.Logger
	http       *httpclient.Client
	apiURL     string
	agent      string
	maxRetries int
	retryDelay time.Duration

	// swapped in tests to skip real sleeps
	sleep func(ctx context.Context, d time.Duration) error
}

func New(opts Options) (*Client, error) {
	if opts.HTTP == nil {
		return nil, xerrors.New("debrid: http client is required")
	}
	lg := opts.Logger
	if lg == nil {
		lg = log.Nop()
	}
	apiURL := opts.APIURL
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	agent := opts.Agent
	if agent == "" {
		agent = DefaultAgent
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 10
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	return &Client{
		lg:         lg.With("component", "debrid"),
		http:       opts.HTTP,
		apiURL:     apiURL,
		agent:      agent,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		sleep:      sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type apiResponse struct {
	Status string `json:"status"`
	Error  struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Data struct {
		Links []json.RawMessage `json:"links"`
		Link  string            `json:"link"`
	} `json:"data"`
}

// firstLink pulls the first entry of data.links, which the API returns
// either as a plain string or as an object with a "link" field.
func (r *apiResponse) firstLink() string {
	if len(r.Data.Links) == 0 {
		return ""
	}
	raw := r.Data.Links[0]
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Link string `json:"link"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Link
	}
	return ""
}

// Resolve turns a dl-protect link into a direct streaming URL. The
// two-step flow (redirector then unlock) is retried up to MaxRetries
// with RetryDelay between attempts; LINK_DOWN and unsupported-host
// answers short-circuit because they never heal on retry.
func (c *Client) Resolve(ctx context.Context, apikey, protectedLink string) (string, error) {
	if apikey == "" {
		return "", xerrors.New("debrid: api key is empty")
	}

	c.lg.Debug(ctx, "converting link", "link", protectedLink)

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		direct, retry, err := c.attempt(ctx, apikey, protectedLink)
		if err == nil {
			return direct, nil
		}
		if !retry {
			return "", err
		}
		lastErr = err
		c.lg.Warn(ctx, "debrid attempt failed",
			"attempt", attempt,
			"max_attempts", c.maxRetries,
			"error", err.Error(),
		)
		if attempt < c.maxRetries {
			if serr := c.sleep(ctx, c.retryDelay); serr != nil {
				return "", serr
			}
		}
	}

	err := xerrors.Wrapf(lastErr, "debrid: failed after %d attempts", c.maxRetries)
	c.lg.Error(ctx, err, "link conversion exhausted retries")
	return "", err
}

// attempt runs one redirector+unlock pass. retry reports whether the
// failure is transient.
func (c *Client) attempt(ctx context.Context, apikey, protectedLink string) (direct string, retry bool, err error) {
	red, err := c.call(ctx, "/link/redirector", apikey, protectedLink)
	if err != nil {
		return "", true, err
	}

	if red.Status != "success" {
		switch red.Error.Code {
		case "LINK_HOST_NOT_SUPPORTED", "LINK_HOST_UNAVAILABLE":
			return "", false, xerrors.Wrapf(ErrUnsupportedHost, "%s: %s", red.Error.Code, red.Error.Message)
		case "LINK_DOWN":
			return "", false, ErrLinkDown
		}
		return "", true, xerrors.Newf("redirector error: %s - %s", red.Error.Code, red.Error.Message)
	}

	first := red.firstLink()
	if first == "" {
		return "", true, xerrors.New("redirector returned no links")
	}

	unlock, err := c.call(ctx, "/link/unlock", apikey, first)
	if err != nil {
		return "", true, err
	}

	if unlock.Status != "success" {
		if unlock.Error.Code == "LINK_DOWN" {
			return "", false, ErrLinkDown
		}
		return "", true, xerrors.Newf("unlock error: %s - %s", unlock.Error.Code, unlock.Error.Message)
	}

	if unlock.Data.Link == "" {
		return "", true, xerrors.New("unlock returned no link")
	}

	c.lg.Debug(ctx, "link converted")
	return unlock.Data.Link, false, nil
}

func (c *Client) call(ctx context.Context, path, apikey, link string) (*apiResponse, error) {
	resp, err := c.http.Get(ctx, c.apiURL+path,
		httpclient.WithQuery("agent", c.agent),
		httpclient.WithQuery("apikey", apikey),
		httpclient.WithQuery("link", link),
	)
	if err != nil {
		return nil, xerrors.Wrapf(err, "debrid %s", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, xerrors.Newf("debrid %s: status %d", path, resp.StatusCode)
	}

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, xerrors.Wrapf(err, "debrid %s: decode", path)
	}
	return &out, nil
}
