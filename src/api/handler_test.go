package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xb10c/mempool-addrindex/src/addrindex"
	"github.com/0xb10c/mempool-addrindex/src/script"
	"github.com/0xb10c/mempool-addrindex/src/test"
	"github.com/0xb10c/mempool-addrindex/src/types"
)

// stuckIndex never calls back, or calls back with err if set.
type stuckIndex struct {
	err error
}

func (s stuckIndex) Query(addr types.Address, handleQuery addrindex.QueryHandler) {
	if s.err != nil {
		handleQuery(s.err, nil, nil)
	}
}

func (s stuckIndex) Stats(handleStats addrindex.StatsHandler) {}

func newTestRouter(index Index, basePath string) (*gin.Engine, *Service) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	s := NewService(index, test.Params)
	s.InitRouter(r, basePath)
	return r, s
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func newTestIndexer(t *testing.T) *addrindex.Indexer {
	idx, err := addrindex.New(addrindex.Config{
		Resolver: script.NewResolver(test.Params, nil),
	})
	require.NoError(t, err)
	t.Cleanup(idx.Stop)
	return idx
}

func TestService_Health(t *testing.T) {
	r, _ := newTestRouter(stuckIndex{}, "/")
	w := get(r, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"code":0,"msg":"ok"}`, w.Body.String())
}

func TestService_Address(t *testing.T) {
	idx := newTestIndexer(t)
	r, _ := newTestRouter(idx, "/api")

	funding := test.NewTx(1, test.Pay("a", 5000))
	spend := test.NewSpendingTx([]test.Prevout{test.PrevoutOf(funding, 0, "a")}, test.Pay("b", 4000))
	for _, tx := range []*wire.MsgTx{funding, spend} {
		done := make(chan error, 1)
		idx.Index(tx, func(err error) { done <- err })
		require.NoError(t, <-done)
	}

	w := get(r, "/api/address/"+test.GetAddress("a").EncodeAddress())
	require.Equal(t, http.StatusOK, w.Code)

	var resp AddressResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Data)
	assert.Equal(t, []types.OutputRecord{
		{Point: types.OutputPoint{TxID: test.TxID(funding), Index: 0}, Value: 5000},
	}, resp.Data.Outputs)
	assert.Equal(t, []types.SpendRecord{{
		Point:          types.InputPoint{TxID: test.TxID(spend), Index: 0},
		PreviousOutput: types.OutputPoint{TxID: test.TxID(funding), Index: 0},
	}}, resp.Data.Spends)

	// txids are printed in RPC byte order
	assert.True(t, strings.Contains(w.Body.String(), test.TxID(funding).String()))

	w = get(r, "/api/address/"+test.GetAddress("nobody").EncodeAddress())
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"code": 0,
		"msg": "ok",
		"data": {"address": "`+test.GetAddress("nobody").EncodeAddress()+`", "spends": [], "outputs": []}
	}`, w.Body.String())

	w = get(r, "/api/stats")
	require.Equal(t, http.StatusOK, w.Code)
	var statsResp StatsResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &statsResp))
	require.NotNil(t, statsResp.Data)
	assert.Equal(t, 2, statsResp.Data.Transactions)
	assert.Equal(t, 3, statsResp.Data.Outputs+statsResp.Data.Spends)
}

func TestService_InvalidAddress(t *testing.T) {
	r, _ := newTestRouter(stuckIndex{}, "/")

	w := get(r, "/address/notanaddress")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// a mainnet address on a regtest index
	w = get(r, "/address/1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestService_QueryError(t *testing.T) {
	r, _ := newTestRouter(stuckIndex{err: errors.New("index stopped")}, "/")

	w := get(r, "/address/"+test.GetAddress("a").EncodeAddress())
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "index stopped")
}

func TestService_Timeout(t *testing.T) {
	r, s := newTestRouter(stuckIndex{}, "/")
	s.queryTimeout = 10 * time.Millisecond

	w := get(r, "/address/"+test.GetAddress("a").EncodeAddress())
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)

	w = get(r, "/stats")
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestService_Metrics(t *testing.T) {
	newTestIndexer(t)
	r, _ := newTestRouter(stuckIndex{}, "/")

	w := get(r, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "addrindex_indexed_transactions_total")
}
