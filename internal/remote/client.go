package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/vmm/internal/model"
)

// Client is a repository adapter that forwards every call to a repository
// service over HTTP. It implements repository.Adapter and repository.Pinger.
//
//	engine ──► Client.Search ──► POST {base}/repository/search ──► Handler
//	                                     │
//	              *model.Root ◄── 200 ───┤
//	              *model.Error ◄─ 4xx/5xx ErrorBody
//
// Transport failures and undecodable answers surface as RepositoryUnavailable
// so the engine can skip the repository in tolerant mode.
type Client struct {
	http  *http.Client
	log   zerolog.Logger
	base  string
	calls atomic.Uint64
	fails atomic.Uint64
}

// NewClient creates a client for the service at base, e.g.
// "http://hr.example:8081". Every call is bounded by timeout.
func NewClient(base string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
		log:  log.With().Str("component", "remote").Str("url", base).Logger(),
	}
}

// Calls returns the number of calls made and how many failed.
func (c *Client) Calls() (total, failed uint64) {
	return c.calls.Load(), c.fails.Load()
}

func (c *Client) Get(ctx context.Context, req *model.Root) (*model.Root, error) {
	return c.call(ctx, OpGet, req)
}

func (c *Client) Search(ctx context.Context, req *model.Root) (*model.Root, error) {
	return c.call(ctx, OpSearch, req)
}

func (c *Client) Login(ctx context.Context, req *model.Root) (*model.Root, error) {
	return c.call(ctx, OpLogin, req)
}

func (c *Client) Create(ctx context.Context, req *model.Root) (*model.Root, error) {
	return c.call(ctx, OpCreate, req)
}

func (c *Client) Update(ctx context.Context, req *model.Root) (*model.Root, error) {
	return c.call(ctx, OpUpdate, req)
}

func (c *Client) Delete(ctx context.Context, req *model.Root) (*model.Root, error) {
	return c.call(ctx, OpDelete, req)
}

// Ping checks GET {base}/health.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/health", nil)
	if err != nil {
		return model.Wrap(model.KindRepositoryUnavailable, err, "bad health request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return model.Wrap(model.KindRepositoryUnavailable, err, "health check failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	return nil
}

func (c *Client) call(ctx context.Context, op string, req *model.Root) (*model.Root, error) {
	c.calls.Add(1)
	out := model.NewRoot()
	if err := c.postJSON(ctx, c.base+"/repository/"+op, req, out); err != nil {
		c.fails.Add(1)
		c.log.Debug().Err(err).Str("op", op).Msg("remote call failed")
		return nil, err
	}
	return out, nil
}

func (c *Client) postJSON(ctx context.Context, url string, body, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return model.Wrap(model.KindInternal, err, "encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return model.Wrap(model.KindInternal, err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return model.Wrap(model.KindRepositoryUnavailable, err, "repository service unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return model.Wrap(model.KindRepositoryUnavailable, err, "undecodable response")
	}
	return nil
}

// decodeError turns a failed response into a *model.Error. Bodies that are
// not an ErrorBody become RepositoryUnavailable.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body ErrorBody
	if err := json.Unmarshal(data, &body); err != nil || body.Kind == "" {
		return model.Errorf(model.KindRepositoryUnavailable, "http %d: %s",
			resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return body.Model()
}

// String identifies the client in logs.
func (c *Client) String() string {
	return fmt.Sprintf("remote(%s)", c.base)
}
