package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"RebalancePool/internal/event"
	"RebalancePool/internal/ingestion"
	"RebalancePool/internal/ledger"
	"RebalancePool/internal/query"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

var (
	principal  = common.HexToAddress("0xf000")
	collateral = common.HexToAddress("0xc000")
)

func newTestServer(t *testing.T) (*GRPCServer, chan event.Command) {
	t.Helper()
	reg := ledger.NewTokenRegistry()
	require.NoError(t, reg.Register(ledger.TokenInfo{Symbol: "fUSD", Address: principal, Decimals: 18}))
	require.NoError(t, reg.Register(ledger.TokenInfo{Symbol: "wstETH", Address: collateral, Decimals: 18}))

	parser, err := ingestion.NewParser(reg, principal, collateral)
	require.NoError(t, err)

	cmds := make(chan event.Command, 4)
	srv := NewGRPCServer("127.0.0.1:0", "127.0.0.1:0", &ServerDeps{
		InjectService: ingestion.NewInjectService(parser, cmds),
		Logger:        zerolog.Nop(),
		StartTime:     time.Now(),
	})
	return srv, cmds
}

func TestToStatus(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{query.ErrNotFound, codes.NotFound},
		{fmt.Errorf("wrapped: %w", query.ErrUnknownToken), codes.InvalidArgument},
		{fmt.Errorf("%w: bad amount", ingestion.ErrInvalidCommand), codes.InvalidArgument},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{status.Error(codes.Unimplemented, "nope"), codes.Unimplemented},
		{fmt.Errorf("boom"), codes.Internal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, status.Code(toStatus(tc.err)), tc.err.Error())
	}
}

func TestPageArgs(t *testing.T) {
	req, err := structpb.NewStruct(map[string]interface{}{"limit": "25", "before": float64(100)})
	require.NoError(t, err)

	limit, before, err := pageArgs(req)
	require.NoError(t, err)
	assert.Equal(t, 25, limit)
	require.NotNil(t, before)
	assert.Equal(t, int64(100), *before)

	limit, before, err = pageArgs(&structpb.Struct{})
	require.NoError(t, err)
	assert.Zero(t, limit)
	assert.Nil(t, before)

	bad, err := structpb.NewStruct(map[string]interface{}{"limit": "ten"})
	require.NoError(t, err)
	_, _, err = pageArgs(bad)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestAddressArg(t *testing.T) {
	req, err := structpb.NewStruct(map[string]interface{}{"address": "0x00000000000000000000000000000000000000aa"})
	require.NoError(t, err)

	addr, err := addressArg(req, "address")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xaa"), addr)

	_, err = addressArg(req, "holder")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestToStruct_UsesJSONTags(t *testing.T) {
	out, err := toStruct(&query.ClaimResponse{Sequence: 9, Token: "0xe000", Amount: "5"})
	require.NoError(t, err)

	fields := out.GetFields()
	assert.Equal(t, float64(9), fields["sequence"].GetNumberValue())
	assert.Equal(t, "5", fields["amount"].GetStringValue())
}

func TestSubmitCommand_Struct(t *testing.T) {
	srv, cmds := newTestServer(t)

	payload, err := structpb.NewStruct(map[string]interface{}{
		"sender":       "0x0000000000000000000000000000000000000001",
		"nonce":        float64(1),
		"timestamp_us": float64(1700000000000000),
		"amount":       "10",
	})
	require.NoError(t, err)
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"command_type": structpb.NewStringValue("Deposit"),
		"payload":      structpb.NewStructValue(payload),
	}}

	out, err := srv.invoke(context.Background(), srv.methods["SubmitCommand"], req)
	require.NoError(t, err)
	assert.True(t, out.GetFields()["accepted"].GetBoolValue())
	assert.True(t, strings.HasPrefix(out.GetFields()["idempotency_key"].GetStringValue(), "admin-"))

	cmd := <-cmds
	dep, ok := cmd.(*event.DepositCmd)
	require.True(t, ok)
	assert.Equal(t, time.UnixMicro(1700000000000000).UTC(), dep.Timestamp())
}

func TestSubmitCommand_MissingPayload(t *testing.T) {
	srv, _ := newTestServer(t)

	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"command_type": structpb.NewStringValue("Deposit"),
	}}
	_, err := srv.invoke(context.Background(), srv.methods["SubmitCommand"], req)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGateway_SubmitCommand(t *testing.T) {
	srv, cmds := newTestServer(t)
	h := srv.gateway.Handler()

	body := `{"idempotency_key":"http-1","sender":"0x0000000000000000000000000000000000000001",` +
		`"nonce":3,"timestamp_us":1700000000000000,"amount":"max"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/commands/Unlock", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "http-1", resp["idempotency_key"])
	assert.Equal(t, "Unlock", resp["command_type"])

	cmd := <-cmds
	assert.Equal(t, event.CommandTypeUnlock, cmd.CommandType())
	assert.Equal(t, int64(3), cmd.SourceSequence())
}

func TestGateway_RejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.gateway.Handler()

	cases := []struct {
		verb, path, body string
	}{
		{http.MethodPost, "/v1/commands/Deposit", `{"sender":"nope"}`},
		{http.MethodPost, "/v1/commands/Teleport", `{}`},
		{http.MethodGet, "/v1/accounts/not-an-address", ""},
		{http.MethodGet, "/v1/accounts/0x0000000000000000000000000000000000000001/claims?limit=x", ""},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.verb, tc.path, strings.NewReader(tc.body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, tc.path)
	}
}

func TestGateway_Health(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.gateway.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServiceDescs_CoverEveryMethod(t *testing.T) {
	srv, _ := newTestServer(t)

	registered := 0
	for _, name := range []string{QueryServiceName, IngestServiceName, AdminServiceName} {
		registered += len(srv.serviceDesc(name).Methods)
	}
	assert.Equal(t, len(srv.methods), registered)

	info := srv.grpcServer.GetServiceInfo()
	assert.Contains(t, info, QueryServiceName)
	assert.Contains(t, info, AdminServiceName)
}
