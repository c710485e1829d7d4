package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"homeescrow/core/events"
	"homeescrow/core/identity"
	"homeescrow/core/state"
	"homeescrow/crypto"
	nativecommon "homeescrow/native/common"
	"homeescrow/native/listing"
	"homeescrow/storage"
)

const testJWTSecret = "rpc-test-secret-rpc-test-secret-0123"

var (
	testSeller = testAddress(0x11)
	testBuyer  = testAddress(0x22)
	testTitle  = testAddress(0x33)
	testVault  = testAddress(0xEE)
	sellerKey  = strings.Repeat("k", listing.DefaultMinKeyLength)
	revealKey  = "0x" + strings.Repeat("ab", 32)
)

func testAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

type testEnv struct {
	server      *Server
	http        *httptest.Server
	engine      *listing.Engine
	pauses      *nativecommon.PauseSwitch
	broadcaster *events.Broadcaster
	manager     *state.Manager
}

func newTestEnv(t *testing.T, cfg ServerConfig) *testEnv {
	t.Helper()
	mgr, err := state.NewManager(storage.NewMemDB(), testVault)
	require.NoError(t, err)
	_, err = mgr.ApplyAllocations([]state.Allocation{
		{Address: testBuyer, Balance: big.NewInt(10_000_000)},
	})
	require.NoError(t, err)

	pauses := nativecommon.NewPauseSwitch()
	broadcaster := events.NewBroadcaster(64)
	engine := listing.NewEngine()
	engine.SetState(mgr)
	engine.SetIdentifierService(identity.RandomIssuer{})
	engine.SetPauses(pauses)
	engine.SetEmitter(broadcaster)

	if !cfg.Auth.Enabled {
		cfg.Auth = AuthConfig{Enabled: true, HMACSecret: testJWTSecret, Issuer: "rpc-tests"}
	}
	srv, err := NewServer(engine, cfg,
		WithPauseSwitch(pauses),
		WithBroadcaster(broadcaster))
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{server: srv, http: ts, engine: engine, pauses: pauses, broadcaster: broadcaster, manager: mgr}
}

func (env *testEnv) balance(t *testing.T, addr [20]byte) int64 {
	t.Helper()
	balance, err := env.manager.Balance(addr)
	require.NoError(t, err)
	return balance.Int64()
}

func tokenFor(t *testing.T, addr [20]byte, scopes ...string) string {
	t.Helper()
	token, err := IssueToken([]byte(testJWTSecret), addr, "rpc-tests", "", scopes, time.Hour)
	require.NoError(t, err)
	return token
}

type rpcReply struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func (env *testEnv) call(t *testing.T, token, method string, params interface{}) (int, rpcReply) {
	t.Helper()
	body := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		body["params"] = []interface{}{params}
	}
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, env.http.URL+"/", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := env.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var reply rpcReply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	return resp.StatusCode, reply
}

func (env *testEnv) mustCall(t *testing.T, token, method string, params interface{}, out interface{}) {
	t.Helper()
	status, reply := env.call(t, token, method, params)
	require.Nilf(t, reply.Error, "%s failed: %+v", method, reply.Error)
	require.Equal(t, http.StatusOK, status)
	if out != nil {
		require.NoError(t, json.Unmarshal(reply.Result, out))
	}
}

func (env *testEnv) createListing(t *testing.T) listingJSON {
	t.Helper()
	var created listingJSON
	env.mustCall(t, tokenFor(t, testSeller), "listing_create", map[string]interface{}{
		"propertyAddress":   "12 Harbour Lane",
		"sellerPublicKey":   sellerKey,
		"price":             "350000000",
		"listingPeriodDays": 30,
	}, &created)
	return created
}

func (env *testEnv) submitOffer(t *testing.T, amount string) {
	t.Helper()
	var commit map[string]string
	env.mustCall(t, "", "listing_commitAmount", map[string]string{"amount": amount, "key": revealKey}, &commit)
	env.mustCall(t, tokenFor(t, testBuyer), "listing_submitOffer", map[string]interface{}{
		"amountHash":           commit["amountHash"],
		"encryptedTerms":       "0xdeadbeef",
		"inspectionPeriodDays": 10,
		"titleCompany":         crypto.FormatAddress(testTitle),
		"deposit":              "2000000",
	}, nil)
}
