package supervisor

import (
	"context"
	"encoding/base64"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"

	"github.com/bec-fabric/bec/broker"
)

var httpJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// HTTPServer exposes the heartbeat/health endpoint and the broker-get
// long-poll fallback that client.HTTPTransport polls against, over
// fasthttp - the supervisor's lightweight HTTP facade for a client
// process without a direct broker connection.
type HTTPServer struct {
	b      broker.Broker
	server *fasthttp.Server
}

func NewHTTPServer(b broker.Broker) *HTTPServer {
	s := &HTTPServer{b: b}
	s.server = &fasthttp.Server{Handler: s.handle}
	return s
}

// ListenAndServe blocks serving addr until the server is shut down.
func (s *HTTPServer) ListenAndServe(addr string) error {
	return s.server.ListenAndServe(addr)
}

func (s *HTTPServer) Shutdown() error { return s.server.Shutdown() }

func (s *HTTPServer) handle(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/healthz":
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString(`{"status":"ok"}`)
	case "/broker/get":
		s.handleBrokerGet(ctx)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

// brokerGetResponse mirrors client.getResponse's wire shape exactly -
// the two sides of the HTTPTransport fallback protocol.
type brokerGetResponse struct {
	Found bool   `json:"found"`
	Value string `json:"value,omitempty"`
}

func (s *HTTPServer) handleBrokerGet(ctx *fasthttp.RequestCtx) {
	key := string(ctx.QueryArgs().Peek("key"))
	if key == "" {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}
	raw, found, err := s.b.Get(context.Background(), key)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	resp := brokerGetResponse{Found: found}
	if found {
		resp.Value = base64.StdEncoding.EncodeToString(raw)
	}
	payload, err := httpJSON.Marshal(resp)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetBody(payload)
}
