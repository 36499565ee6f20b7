package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const maxCommandBody = 1 << 20

// Gateway serves the same methods as the gRPC services over HTTP/JSON.
// Handlers call the service methods in-process.
type Gateway struct {
	addr       string
	srv        *GRPCServer
	deps       *ServerDeps
	mux        *runtime.ServeMux
	marshaler  runtime.Marshaler
	httpServer *http.Server
}

type route struct {
	verb    string
	pattern string
	method  string
}

var routes = []route{
	{http.MethodGet, "/v1/pool", "GetPool"},
	{http.MethodGet, "/v1/accounts/{address}", "GetAccount"},
	{http.MethodGet, "/v1/accounts/{address}/claims", "ListClaims"},
	{http.MethodGet, "/v1/accounts/{address}/journals", "ListJournals"},
	{http.MethodGet, "/v1/tokens/{token}/balances/{holder}", "GetTokenBalance"},
	{http.MethodGet, "/v1/liquidations", "ListLiquidations"},
	{http.MethodGet, "/v1/status", "GetSystemStatus"},
	{http.MethodGet, "/v1/admin/integrity", "VerifyIntegrity"},
	{http.MethodGet, "/v1/admin/log", "GetCommandLogInfo"},
	{http.MethodPost, "/v1/admin/rebuild-projections", "RebuildProjections"},
	{http.MethodPost, "/v1/admin/snapshot", "TakeSnapshot"},
}

func newGateway(addr string, srv *GRPCServer, deps *ServerDeps) *Gateway {
	g := &Gateway{
		addr: addr,
		srv:  srv,
		deps: deps,
		mux:  runtime.NewServeMux(),
		marshaler: &runtime.JSONPb{
			MarshalOptions: protojson.MarshalOptions{UseProtoNames: true},
		},
	}

	for _, rt := range routes {
		m, ok := srv.methods[rt.method]
		if !ok {
			panic(fmt.Sprintf("gateway route %s %s: unknown method %s", rt.verb, rt.pattern, rt.method))
		}
		if err := g.mux.HandlePath(rt.verb, rt.pattern, g.unary(m)); err != nil {
			panic(fmt.Sprintf("gateway route %s %s: %v", rt.verb, rt.pattern, err))
		}
	}
	if err := g.mux.HandlePath(http.MethodPost, "/v1/commands/{command_type}", g.submitCommand); err != nil {
		panic(fmt.Sprintf("gateway command route: %v", err))
	}
	return g
}

// unary maps path and query parameters onto a Struct request.
func (g *Gateway) unary(m method) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		fields := make(map[string]interface{}, len(pathParams))
		for k, vs := range r.URL.Query() {
			if len(vs) > 0 {
				fields[k] = vs[0]
			}
		}
		for k, v := range pathParams {
			fields[k] = v
		}

		req, err := structpb.NewStruct(fields)
		if err != nil {
			g.writeError(w, r, status.Error(codes.InvalidArgument, err.Error()))
			return
		}
		g.respond(w, r, m, req)
	}
}

// submitCommand forwards the raw JSON body to the parser untouched.
func (g *Gateway) submitCommand(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
	if err != nil {
		g.writeError(w, r, status.Errorf(codes.InvalidArgument, "read body: %v", err))
		return
	}

	commandType := pathParams["command_type"]
	m := method{
		service: IngestServiceName,
		name:    "SubmitCommand",
		handler: func(ctx context.Context, _ *structpb.Struct) (interface{}, error) {
			return g.srv.submitRaw(ctx, commandType, body)
		},
	}
	g.respond(w, r, m, nil)
}

func (g *Gateway) respond(w http.ResponseWriter, r *http.Request, m method, req *structpb.Struct) {
	out, err := g.srv.invoke(r.Context(), m, req)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	data, err := g.marshaler.Marshal(out)
	if err != nil {
		g.writeError(w, r, status.Errorf(codes.Internal, "marshal: %v", err))
		return
	}
	w.Header().Set("Content-Type", g.marshaler.ContentType(out))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, err error) {
	runtime.HTTPError(r.Context(), g.mux, g.marshaler, w, r, err)
}

// Handler returns the full HTTP handler including health endpoints.
func (g *Gateway) Handler() http.Handler {
	httpMux := http.NewServeMux()
	if g.deps.HealthChecker != nil {
		httpMux.HandleFunc("/healthz", g.deps.HealthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", g.deps.HealthChecker.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok"}`)
		})
	}
	httpMux.Handle("/", g.mux)
	return httpMux
}

// Start serves HTTP until ctx is cancelled.
func (g *Gateway) Start(ctx context.Context) error {
	g.httpServer = &http.Server{
		Addr:              g.addr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		g.deps.Logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		g.httpServer.Shutdown(shutdownCtx)
	}()

	g.deps.Logger.Info().Str("addr", g.addr).Msg("HTTP gateway listening")
	if err := g.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
