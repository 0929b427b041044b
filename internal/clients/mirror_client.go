// Package clients contains typed wrappers over remote APIs.
package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/tokentrace/internal/domain"
	"github.com/vadiminshakov/tokentrace/pkg/retrier"
)

const (
	// DefaultBaseURL is the public Hedera mainnet mirror node.
	DefaultBaseURL = "https://mainnet-public.mirrornode.hedera.com/api/v1"

	defaultTimeout = 30 * time.Second
)

var (
	// ErrTokenNotFound is returned when the mirror node does not know the token id.
	ErrTokenNotFound = errors.New("token not found")
	// ErrMalformedResponse is returned when a mirror node response cannot be decoded.
	ErrMalformedResponse = errors.New("malformed mirror node response")
)

// Cursor is an opaque pagination cursor extracted from a mirror node
// "links.next" value. The zero Cursor means no further pages.
type Cursor string

// ParseCursor extracts the cursor from a links.next path such as
// "/api/v1/tokens/0.0.1/balances?limit=100&account.id=lt:0.0.5".
func ParseCursor(next string) Cursor {
	if i := strings.IndexByte(next, '?'); i >= 0 {
		return Cursor(next[i+1:])
	}
	return ""
}

// Empty reports whether there are no further pages.
func (c Cursor) Empty() bool {
	return c == ""
}

// AccountBalance is one row of a token balances page.
type AccountBalance struct {
	Account string `json:"account"`
	Balance int64  `json:"balance"`
}

// BalancesPage is a single page of the token balances endpoint.
type BalancesPage struct {
	Balances []AccountBalance
	Next     Cursor
}

// TokenTransfer is one transfer leg inside a transaction. Amount is in raw
// integer units; negative amounts are debits.
type TokenTransfer struct {
	TokenID string `json:"token_id"`
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

// Transaction is a mirror node transaction with its token transfer legs.
type Transaction struct {
	ConsensusTimestamp domain.ConsensusTimestamp `json:"consensus_timestamp"`
	TransactionID      string                    `json:"transaction_id"`
	MemoBase64         string                    `json:"memo_base64"`
	ChargedFee         int64                     `json:"charged_tx_fee"`
	TokenTransfers     []TokenTransfer           `json:"token_transfers"`
}

// TransactionsPage is a single page of the transactions endpoint,
// most recent first.
type TransactionsPage struct {
	Transactions []Transaction `json:"transactions"`
}

// TransactionQuery describes one page request of an account's history.
// Before, when set, pages backward (exclusive upper bound); otherwise
// AfterSeconds sets the lower time bound of the first page.
type TransactionQuery struct {
	Account      string
	Limit        int
	Before       domain.ConsensusTimestamp
	AfterSeconds int64
}

// MirrorClient is a thin typed wrapper over the mirror node REST API.
type MirrorClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewMirrorClient creates a mirror node client. An empty baseURL selects
// the public mainnet mirror node, a zero timeout the default.
func NewMirrorClient(baseURL string, timeout time.Duration) *MirrorClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &MirrorClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// decimalsValue tolerates the mirror node reporting decimals as either
// a JSON number or a quoted string.
type decimalsValue int32

func (d *decimalsValue) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*d = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return err
	}
	*d = decimalsValue(v)
	return nil
}

type tokenResponse struct {
	Name              string        `json:"name"`
	Symbol            string        `json:"symbol"`
	Decimals          decimalsValue `json:"decimals"`
	TreasuryAccountID string        `json:"treasury_account_id"`
}

type balancesResponse struct {
	Balances []AccountBalance `json:"balances"`
	Links    struct {
		Next *string `json:"next"`
	} `json:"links"`
}

// TokenInfo fetches token metadata. A 404 yields ErrTokenNotFound.
func (c *MirrorClient) TokenInfo(ctx context.Context, tokenID string) (domain.TokenInfo, error) {
	var resp tokenResponse
	if err := c.get(ctx, fmt.Sprintf("%s/tokens/%s", c.baseURL, url.PathEscape(tokenID)), &resp); err != nil {
		return domain.TokenInfo{}, errors.Wrapf(err, "fetch token info for %s", tokenID)
	}

	return domain.TokenInfo{
		ID:              tokenID,
		Name:            resp.Name,
		Symbol:          resp.Symbol,
		Decimals:        int32(resp.Decimals),
		TreasuryAccount: resp.TreasuryAccountID,
	}, nil
}

// TokenBalances fetches one page of token holders. The returned cursor is
// empty when the server reports no next page.
func (c *MirrorClient) TokenBalances(ctx context.Context, tokenID string, cursor Cursor) (BalancesPage, error) {
	u := fmt.Sprintf("%s/tokens/%s/balances", c.baseURL, url.PathEscape(tokenID))
	if !cursor.Empty() {
		u += "?" + string(cursor)
	}

	var resp balancesResponse
	if err := c.get(ctx, u, &resp); err != nil {
		return BalancesPage{}, errors.Wrapf(err, "fetch balances for %s", tokenID)
	}

	page := BalancesPage{Balances: resp.Balances}
	if resp.Links.Next != nil {
		page.Next = ParseCursor(*resp.Links.Next)
	}
	return page, nil
}

// AccountTransactions fetches one page of an account's transaction history,
// most recent first.
func (c *MirrorClient) AccountTransactions(ctx context.Context, q TransactionQuery) (TransactionsPage, error) {
	params := url.Values{}
	params.Set("account.id", q.Account)
	params.Set("limit", strconv.Itoa(q.Limit))
	if !q.Before.IsZero() {
		params.Set("timestamp", "lt:"+string(q.Before))
	} else {
		params.Set("timestamp", fmt.Sprintf("gt:%d", q.AfterSeconds))
	}

	var resp TransactionsPage
	u := fmt.Sprintf("%s/transactions?%s", c.baseURL, params.Encode())
	if err := c.get(ctx, u, &resp); err != nil {
		return TransactionsPage{}, errors.Wrapf(err, "fetch transactions for %s", q.Account)
	}
	return resp, nil
}

func (c *MirrorClient) get(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response body")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return retrier.Permanent(ErrTokenNotFound)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return retrier.Permanent(fmt.Errorf("mirror node returned status %d: %s", resp.StatusCode, string(body)))
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("mirror node returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrapf(ErrMalformedResponse, "decode %s: %v", u, err)
	}
	return nil
}
