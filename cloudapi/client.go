/*Package cloudapi talks to the cloud channel API over REST.

The client implements the channel store, agent directory and connection
reporter interfaces, so the integration and processors can run against the
hosted channel system. It can also talk directly to a mux router instead of
marshalling HTTP, which is the tool of choice for unit tests.
*/
package cloudapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/getdoover/digital-matter/channel"
)

// Client provides access to the channel REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	token      string
	ctx        context.Context
}

var (
	_ channel.Store              = Client{}
	_ channel.Directory          = Client{}
	_ channel.ConnectionReporter = Client{}
)

// NewWithURL creates a client making REST requests to the cloud API.
//
// WithToken adds an authorization token to the request header.
func NewWithURL(url string) Client {
	return Client{
		url:        url,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

// NewWithRouter creates a client making pseudo-REST requests through the
// mux router, without a network.
func NewWithRouter(router *mux.Router) Client {
	return Client{router: router}
}

// WithToken returns a new client with a bearer token.
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// WithContext returns a new client with a base request context.
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

func (c Client) context(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	if c.ctx != nil {
		return c.ctx
	}
	return context.Background()
}

func (c Client) do(ctx context.Context, method, path string, body interface{}, result interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return http.StatusInternalServerError, err
		}
		reader = bytes.NewReader(encoded)
	}
	r, _ := http.NewRequestWithContext(c.context(ctx), method, c.url+path, reader)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}

	var res *http.Response
	var resBody []byte
	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		res = rec.Result()
		resBody = rec.Body.Bytes()
	} else {
		if c.token != "" {
			r.Header.Add("Authorization", "Bearer "+c.token)
		}
		var err error
		res, err = c.httpClient.Do(r)
		if err != nil {
			return http.StatusInternalServerError, err
		}
		defer res.Body.Close()
		resBody, _ = io.ReadAll(res.Body)
	}

	status := res.StatusCode
	if status == http.StatusNotFound {
		return status, channel.ErrNotFound
	}
	if status != http.StatusOK && status != http.StatusCreated && status != http.StatusNoContent {
		return status, fmt.Errorf("handler returned wrong status code: got %v. Error: %s",
			status, strings.TrimSpace(string(resBody)))
	}
	if result != nil && len(resBody) > 0 {
		return status, json.Unmarshal(resBody, result)
	}
	return status, nil
}

func channelPath(agentID, name string) string {
	return "/agents/" + url.PathEscape(agentID) + "/channels/" + url.PathEscape(name)
}

// GetAggregate implements channel.Store.
func (c Client) GetAggregate(ctx context.Context, agentID, name string) (channel.Document, error) {
	var aggregate channel.Document
	_, err := c.do(ctx, http.MethodGet, channelPath(agentID, name)+"/aggregate", nil, &aggregate)
	if err != nil {
		return nil, err
	}
	return aggregate, nil
}

type publishRequest struct {
	Payload channel.Document `json:"payload"`
	SaveLog bool             `json:"save_log"`
}

// Publish implements channel.Store.
func (c Client) Publish(ctx context.Context, agentID, name string, doc channel.Document, saveLog bool) error {
	_, err := c.do(ctx, http.MethodPost, channelPath(agentID, name)+"/messages",
		publishRequest{Payload: doc, SaveLog: saveLog}, nil)
	return err
}

// MessagesInWindow implements channel.Store.
func (c Client) MessagesInWindow(ctx context.Context, agentID, name string, start, end time.Time) ([]channel.Message, error) {
	path := fmt.Sprintf("%s/messages?start=%s&end=%s", channelPath(agentID, name),
		url.QueryEscape(start.UTC().Format(time.RFC3339)),
		url.QueryEscape(end.UTC().Format(time.RFC3339)))
	var messages []channel.Message
	_, err := c.do(ctx, http.MethodGet, path, nil, &messages)
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// ListAgents implements channel.Directory.
func (c Client) ListAgents(ctx context.Context) ([]channel.Agent, error) {
	var agents []channel.Agent
	_, err := c.do(ctx, http.MethodGet, "/agents", nil, &agents)
	if err != nil {
		return nil, err
	}
	return agents, nil
}

type pingRequest struct {
	OnlineAt  time.Time                `json:"online_at"`
	Status    channel.ConnectionStatus `json:"connection_status"`
	OfflineAt time.Time                `json:"offline_at"`
}

// PingConnection implements channel.ConnectionReporter.
func (c Client) PingConnection(ctx context.Context, agentID string, onlineAt time.Time, status channel.ConnectionStatus, offlineAt time.Time) error {
	_, err := c.do(ctx, http.MethodPost, "/agents/"+url.PathEscape(agentID)+"/connection_ping",
		pingRequest{OnlineAt: onlineAt, Status: status, OfflineAt: offlineAt}, nil)
	return err
}
