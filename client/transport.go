package client

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"

	"github.com/bec-fabric/bec/broker"
	"github.com/bec-fabric/bec/cmn/cos"
)

var transportJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Transport is the single blocking read operation awaitRPC and cached
// reads need. BrokerTransport is the default, in-process path;
// HTTPTransport is the fallback for a client running outside the
// broker's own process, with only a supervisor's HTTP facade reachable.
type Transport interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
}

// BrokerTransport reads directly off the shared broker connection.
type BrokerTransport struct {
	b broker.Broker
}

func NewBrokerTransport(b broker.Broker) BrokerTransport { return BrokerTransport{b: b} }

func (t BrokerTransport) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return t.b.Get(ctx, key)
}

// getResponse is the JSON shape the supervisor's /broker/get endpoint
// returns: the raw value base64-encoded, since broker values are
// arbitrary bytes rather than always-valid UTF-8.
type getResponse struct {
	Found bool   `json:"found"`
	Value string `json:"value,omitempty"`
}

// HTTPTransport polls a supervisor's HTTP facade (component M) instead of
// holding a direct broker connection - the long-poll fallback transport
// named in SPEC_FULL's domain stack, for a client deployed outside the
// fabric's own process group.
type HTTPTransport struct {
	BaseURL string
	Client  *fasthttp.Client
	Timeout time.Duration
}

func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{
		BaseURL: baseURL,
		Client:  &fasthttp.Client{},
		Timeout: 5 * time.Second,
	}
}

func (t *HTTPTransport) Get(ctx context.Context, key string) ([]byte, bool, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("%s/broker/get?key=%s", t.BaseURL, key))
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := t.Client.DoTimeout(req, resp, t.Timeout); err != nil {
		return nil, false, cos.NewErrTransport("http_get", 0, err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, false, cos.NewErrTransport("http_get", 0, fmt.Errorf("status %d", resp.StatusCode()))
	}
	var gr getResponse
	if err := transportJSON.Unmarshal(resp.Body(), &gr); err != nil {
		return nil, false, err
	}
	if !gr.Found {
		return nil, false, nil
	}
	raw, err := base64.StdEncoding.DecodeString(gr.Value)
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}
