package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/popdeploy/internal/retry"
)

// mockHTTPClient replays queued responses and records requests.
type mockHTTPClient struct {
	responses []mockResponse
	callCount int
	bodies    []string
	headers   []http.Header
}

type mockResponse struct {
	statusCode int
	body       string
	err        error
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	body, _ := io.ReadAll(req.Body)
	m.bodies = append(m.bodies, string(body))
	m.headers = append(m.headers, req.Header.Clone())

	if m.callCount >= len(m.responses) {
		return nil, fmt.Errorf("no more mock responses configured")
	}
	resp := m.responses[m.callCount]
	m.callCount++

	if resp.err != nil {
		return nil, resp.err
	}
	return &http.Response{
		StatusCode: resp.statusCode,
		Body:       io.NopCloser(strings.NewReader(resp.body)),
		Header:     make(http.Header),
	}, nil
}

func signedRawHex(t *testing.T, chainID *big.Int, tx *types.Transaction) string {
	t.Helper()
	signer, err := NewLocalSigner(GanachePrivateKeys[0], chainID)
	require.NoError(t, err)
	signed, err := signer.SignTx(context.Background(), signer.Address(), tx)
	require.NoError(t, err)
	raw, err := signed.MarshalBinary()
	require.NoError(t, err)
	return hexutil.Encode(raw)
}

func newTestRPCSigner(client HTTPClient) *RPCSigner {
	return NewRPCSigner(RPCSignerConfig{
		Endpoint:   "http://127.0.0.1:7545",
		ChainID:    big.NewInt(1337),
		Retry:      retry.Config{Attempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
		HTTPClient: client,
	})
}

func TestRPCSigner_SignTx(t *testing.T) {
	chainID := big.NewInt(1337)
	tx := creationTx(7)
	rawHex := signedRawHex(t, chainID, tx)
	from := common.HexToAddress("0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1")

	t.Run("raw string result", func(t *testing.T) {
		client := &mockHTTPClient{responses: []mockResponse{
			{statusCode: 200, body: fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"result":%q}`, rawHex)},
		}}
		signer := newTestRPCSigner(client)

		signed, err := signer.SignTx(context.Background(), from, tx)
		require.NoError(t, err)
		assert.Equal(t, uint64(7), signed.Nonce())

		var req jsonRPCRequest
		require.NoError(t, json.Unmarshal([]byte(client.bodies[0]), &req))
		assert.Equal(t, "eth_signTransaction", req.Method)
		args := req.Params[0].(map[string]any)
		assert.Equal(t, from.Hex(), args["from"])
		assert.NotContains(t, args, "to")
		assert.Equal(t, "0x7", args["nonce"])
		assert.Equal(t, "0x539", args["chainId"])
		assert.NotEmpty(t, args["gasPrice"])
	})

	t.Run("geth object result", func(t *testing.T) {
		client := &mockHTTPClient{responses: []mockResponse{
			{statusCode: 200, body: fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"result":{"raw":%q,"tx":{}}}`, rawHex)},
		}}
		signed, err := newTestRPCSigner(client).SignTx(context.Background(), from, tx)
		require.NoError(t, err)
		assert.Equal(t, tx.Data(), signed.Data())
	})

	t.Run("retries server errors", func(t *testing.T) {
		client := &mockHTTPClient{responses: []mockResponse{
			{statusCode: 503, body: "unavailable"},
			{err: fmt.Errorf("connection reset by peer")},
			{statusCode: 200, body: fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"result":%q}`, rawHex)},
		}}
		_, err := newTestRPCSigner(client).SignTx(context.Background(), from, tx)
		require.NoError(t, err)
		assert.Equal(t, 3, client.callCount)
	})

	t.Run("client error is not retried", func(t *testing.T) {
		client := &mockHTTPClient{responses: []mockResponse{
			{statusCode: 401, body: "unauthorized"},
		}}
		_, err := newTestRPCSigner(client).SignTx(context.Background(), from, tx)
		require.Error(t, err)
		assert.Equal(t, 1, client.callCount)
	})

	t.Run("locked account is not retried", func(t *testing.T) {
		client := &mockHTTPClient{responses: []mockResponse{
			{statusCode: 200, body: `{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"sender account not recognized"}}`},
		}}
		_, err := newTestRPCSigner(client).SignTx(context.Background(), from, tx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sender account not recognized")
		assert.Equal(t, 1, client.callCount)
	})
}

func TestRPCSigner_APIKeyHeader(t *testing.T) {
	client := &mockHTTPClient{responses: []mockResponse{
		{statusCode: 200, body: `{"jsonrpc":"2.0","id":1,"result":[]}`},
	}}
	signer := NewRPCSigner(RPCSignerConfig{Endpoint: "http://signer", APIKey: "secret", ChainID: big.NewInt(1), HTTPClient: client})

	_, err := signer.Addresses(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "secret", client.headers[0].Get("X-API-Key"))
}

func TestRPCSigner_Addresses(t *testing.T) {
	client := &mockHTTPClient{responses: []mockResponse{
		{statusCode: 200, body: `{"jsonrpc":"2.0","id":1,"result":["0x90f8bf6a479f320ead074411a4b0e7944ea8c9c1","0xffcf8fdee72ac11b5c542428b35eef5769c409f0"]}`},
	}}

	addrs, err := newTestRPCSigner(client).Addresses(context.Background())
	require.NoError(t, err)
	require.Len(t, addrs, 2)
	assert.Equal(t, common.HexToAddress("0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1"), addrs[0])
	assert.Empty(t, client.headers[0].Get("X-API-Key"))
}
