package node

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aperturerobotics/go-aptos-composer-wasi/moveabi/moveabitest"
	"github.com/aperturerobotics/go-aptos-composer-wasi/movetype"
)

// fakeFullnode serves the coin and aptos_account fixtures under 0x1.
func fakeFullnode(t *testing.T, apiKey string) (*httptest.Server, *[]string) {
	t.Helper()
	var seen []string
	r := mux.NewRouter()
	r.HandleFunc("/v1/accounts/{address}/module/{name}", func(w http.ResponseWriter, req *http.Request) {
		seen = append(seen, req.URL.String())
		w.Header().Set("Content-Type", "application/json")
		if apiKey != "" && req.Header.Get("Authorization") != "Bearer "+apiKey {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"message": "bad key", "error_code": "unauthorized"})
			return
		}
		vars := mux.Vars(req)
		if vars["address"] != movetype.AddressOne.StringLong() || (vars["name"] != "coin" && vars["name"] != "aptos_account") {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{
				"message":    "Module not found by Address(" + vars["address"] + "), Module name(" + vars["name"] + ")",
				"error_code": "module_not_found",
			})
			return
		}
		json.NewEncoder(w).Encode(moveabitest.Bytecode(vars["name"]))
	}).Methods(http.MethodGet)
	r.HandleFunc("/v1/broken/{what}", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down\n"))
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestResolveURL(t *testing.T) {
	u, err := ResolveURL("Mainnet")
	require.NoError(t, err)
	assert.Equal(t, NetworkURLs[Mainnet], u)

	u, err = ResolveURL("http://localhost:9000/v1/")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/v1", u)

	for _, bad := range []string{"moonnet", "ftp://x", "http://"} {
		_, err := ResolveURL(bad)
		assert.ErrorIs(t, err, ErrUnknownNetwork, bad)
	}
}

func TestGetModule(t *testing.T) {
	srv, seen := fakeFullnode(t, "")
	c, err := NewClient(srv.URL+"/v1", "")
	require.NoError(t, err)
	c.Logger = zaptest.NewLogger(t)

	mod, err := c.GetModule(t.Context(), movetype.AddressOne, "coin", 0)
	require.NoError(t, err)
	assert.Equal(t, "coin", mod.ABI.Name)
	assert.Equal(t, "0x1::coin", mod.ID())
	code, err := mod.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xa1, 0x1c, 0xeb, 0x0b, 'c', 'o', 'i', 'n'}, code)

	_, err = c.GetModule(t.Context(), movetype.AddressOne, "aptos_account", 42)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/v1/accounts/" + movetype.AddressOne.StringLong() + "/module/coin",
		"/v1/accounts/" + movetype.AddressOne.StringLong() + "/module/aptos_account?ledger_version=42",
	}, *seen)
}

func TestGetModuleNotFound(t *testing.T) {
	srv, _ := fakeFullnode(t, "")
	c, err := NewClient(srv.URL+"/v1", "")
	require.NoError(t, err)

	_, err = c.FetchModuleABI(t.Context(), "0x1::nope")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "module_not_found", apiErr.ErrorCode)
}

func TestAPIKey(t *testing.T) {
	srv, _ := fakeFullnode(t, "secret")

	c, err := NewClient(srv.URL+"/v1", "wrong")
	require.NoError(t, err)
	_, err = c.FetchModuleABI(t.Context(), "0x1::coin")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.False(t, IsNotFound(err))

	c.APIKey = "secret"
	abi, err := c.FetchModuleABI(t.Context(), "0x1::coin")
	require.NoError(t, err)
	assert.NotNil(t, abi.Function("withdraw"))
}

func TestPlainTextError(t *testing.T) {
	srv, _ := fakeFullnode(t, "")
	c := &Client{BaseURL: srv.URL + "/v1"}

	var out map[string]any
	err := c.get(t.Context(), "/broken/thing", nil, &out)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "upstream down", apiErr.Message)
	assert.Equal(t, "fullnode returned 502: upstream down", apiErr.Error())
}

func TestSplitModuleID(t *testing.T) {
	addr, name, err := SplitModuleID("0x1::coin")
	require.NoError(t, err)
	assert.Equal(t, movetype.AddressOne, addr)
	assert.Equal(t, "coin", name)

	for _, bad := range []string{"coin", "0x1::", "0x1::coin::transfer", "zz::coin"} {
		_, _, err := SplitModuleID(bad)
		assert.Error(t, err, bad)
	}
}
