package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/tokentrace/internal/domain"
)

func TestMirrorClient_TokenInfo(t *testing.T) {
	t.Run("decodes token metadata", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/tokens/0.0.123", r.URL.Path)
			fmt.Fprint(w, `{"name":"Demo","symbol":"DMO","decimals":"8","treasury_account_id":"0.0.99"}`)
		}))
		defer srv.Close()

		client := NewMirrorClient(srv.URL, 0)
		info, err := client.TokenInfo(context.Background(), "0.0.123")
		require.NoError(t, err)
		assert.Equal(t, "Demo", info.Name)
		assert.Equal(t, "DMO", info.Symbol)
		assert.Equal(t, int32(8), info.Decimals)
		assert.Equal(t, "0.0.99", info.TreasuryAccount)
	})

	t.Run("decimals as number", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"name":"Demo","symbol":"DMO","decimals":6}`)
		}))
		defer srv.Close()

		client := NewMirrorClient(srv.URL, 0)
		info, err := client.TokenInfo(context.Background(), "0.0.123")
		require.NoError(t, err)
		assert.Equal(t, int32(6), info.Decimals)
	})

	t.Run("404 yields ErrTokenNotFound", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		client := NewMirrorClient(srv.URL, 0)
		_, err := client.TokenInfo(context.Background(), "0.0.404")
		assert.ErrorIs(t, err, ErrTokenNotFound)
	})

	t.Run("malformed body yields ErrMalformedResponse", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"name":`)
		}))
		defer srv.Close()

		client := NewMirrorClient(srv.URL, 0)
		_, err := client.TokenInfo(context.Background(), "0.0.123")
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})
}

func TestMirrorClient_TokenBalances(t *testing.T) {
	t.Run("follows typed cursor", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.RawQuery == "" {
				fmt.Fprint(w, `{"balances":[{"account":"0.0.1","balance":100}],"links":{"next":"/api/v1/tokens/0.0.123/balances?limit=100&account.id=lt:0.0.1"}}`)
				return
			}
			assert.Equal(t, "limit=100&account.id=lt:0.0.1", r.URL.RawQuery)
			fmt.Fprint(w, `{"balances":[{"account":"0.0.2","balance":200}],"links":{"next":null}}`)
		}))
		defer srv.Close()

		client := NewMirrorClient(srv.URL, 0)

		page, err := client.TokenBalances(context.Background(), "0.0.123", "")
		require.NoError(t, err)
		require.Len(t, page.Balances, 1)
		assert.Equal(t, "0.0.1", page.Balances[0].Account)
		require.False(t, page.Next.Empty())

		page, err = client.TokenBalances(context.Background(), "0.0.123", page.Next)
		require.NoError(t, err)
		require.Len(t, page.Balances, 1)
		assert.Equal(t, int64(200), page.Balances[0].Balance)
		assert.True(t, page.Next.Empty())
	})
}

func TestMirrorClient_AccountTransactions(t *testing.T) {
	t.Run("first page uses gt floor, later pages lt cursor", func(t *testing.T) {
		var queries []string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			queries = append(queries, r.URL.Query().Get("timestamp"))
			fmt.Fprint(w, `{"transactions":[]}`)
		}))
		defer srv.Close()

		client := NewMirrorClient(srv.URL, 0)

		_, err := client.AccountTransactions(context.Background(), TransactionQuery{
			Account:      "0.0.1",
			Limit:        50,
			AfterSeconds: 1700000000,
		})
		require.NoError(t, err)

		_, err = client.AccountTransactions(context.Background(), TransactionQuery{
			Account: "0.0.1",
			Limit:   50,
			Before:  domain.ConsensusTimestamp("1700050000.000000001"),
		})
		require.NoError(t, err)

		require.Equal(t, []string{"gt:1700000000", "lt:1700050000.000000001"}, queries)
	})
}

func TestParseCursor(t *testing.T) {
	assert.Equal(t, Cursor("limit=100&account.id=lt:0.0.5"),
		ParseCursor("/api/v1/tokens/0.0.1/balances?limit=100&account.id=lt:0.0.5"))
	assert.True(t, ParseCursor("/api/v1/tokens/0.0.1/balances").Empty())
}
