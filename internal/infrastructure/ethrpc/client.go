package ethrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"txwatch/internal/domain"
)

// ERC-20 and staking-router function selectors.
const (
	selectorBalanceOf = "0x70a08231"
	selectorAllowance = "0xdd62ed3e"
	selectorApprove   = "0x095ea7b3"
	selectorStake     = "0xa694fc3a"
)

// Client talks JSON-RPC to the connected node. Submission goes through
// eth_sendTransaction, so the account key lives with the node or wallet
// backend, never here.
type Client struct {
	url        string
	httpClient *http.Client
	idCounter  uint64
	account    string
}

type Config struct {
	URL     string
	Account string
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("rpc url is required")
	}
	return &Client{
		url:        cfg.URL,
		httpClient: &http.Client{},
		account:    strings.ToLower(cfg.Account),
	}, nil
}

func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var result string
	if err := c.call(ctx, "eth_blockNumber", []any{}, &result); err != nil {
		return 0, err
	}
	return parseHexUint(result)
}

func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	var result string
	if err := c.call(ctx, "eth_chainId", []any{}, &result); err != nil {
		return 0, err
	}
	return parseHexUint(result)
}

// TransactionReceipt looks up a receipt by hash. A null result means the
// transaction is not mined yet; that is not an error. The raw response is
// normalized down to the domain shape at this boundary.
func (c *Client) TransactionReceipt(ctx context.Context, hash string) (domain.Receipt, bool, error) {
	var result *rpcReceipt
	if err := c.call(ctx, "eth_getTransactionReceipt", []any{hash}, &result); err != nil {
		return domain.Receipt{}, false, err
	}
	if result == nil {
		return domain.Receipt{}, false, nil
	}

	blockNumber, err := parseHexUint(result.BlockNumber)
	if err != nil {
		return domain.Receipt{}, false, err
	}
	txIndex, err := parseHexUint(result.TransactionIndex)
	if err != nil {
		return domain.Receipt{}, false, err
	}
	status, err := parseHexUint(result.Status)
	if err != nil {
		return domain.Receipt{}, false, err
	}

	return domain.Receipt{
		BlockHash:        result.BlockHash,
		BlockNumber:      blockNumber,
		TransactionHash:  result.TransactionHash,
		TransactionIndex: txIndex,
		Status:           status,
		From:             strings.ToLower(result.From),
		To:               strings.ToLower(result.To),
		ContractAddress:  strings.ToLower(result.ContractAddress),
	}, true, nil
}

// BalanceOf reads the ERC-20 balance of the configured account.
func (c *Client) BalanceOf(ctx context.Context, token string) (*big.Int, error) {
	data := selectorBalanceOf + padAddress(c.account)
	return c.callUint256(ctx, token, data)
}

// Allowance reads the ERC-20 allowance granted by the configured account
// to the spender.
func (c *Client) Allowance(ctx context.Context, token, spender string) (*big.Int, error) {
	data := selectorAllowance + padAddress(c.account) + padAddress(spender)
	return c.callUint256(ctx, token, data)
}

// SubmitApprove submits approve(spender, amount) on the token contract and
// returns the accepted transaction hash.
func (c *Client) SubmitApprove(ctx context.Context, token, spender string, amount *big.Int) (string, error) {
	data := selectorApprove + padAddress(spender) + padUint256(amount)
	return c.sendTransaction(ctx, token, data)
}

// SubmitStake submits stake(amount) on the staking router.
func (c *Client) SubmitStake(ctx context.Context, router string, amount *big.Int) (string, error) {
	data := selectorStake + padUint256(amount)
	return c.sendTransaction(ctx, router, data)
}

func (c *Client) callUint256(ctx context.Context, to, data string) (*big.Int, error) {
	params := []any{
		map[string]any{"to": strings.ToLower(to), "data": data},
		"latest",
	}
	var result string
	if err := c.call(ctx, "eth_call", params, &result); err != nil {
		return nil, err
	}
	return parseHexBig(result)
}

func (c *Client) sendTransaction(ctx context.Context, to, data string) (string, error) {
	if c.account == "" {
		return "", errors.New("account is required for submission")
	}
	params := []any{
		map[string]any{
			"from": c.account,
			"to":   strings.ToLower(to),
			"data": data,
		},
	}
	var hash string
	if err := c.call(ctx, "eth_sendTransaction", params, &hash); err != nil {
		return "", err
	}
	if hash == "" {
		return "", errors.New("node returned an empty transaction hash")
	}
	return hash, nil
}

type rpcReceipt struct {
	BlockHash        string `json:"blockHash"`
	BlockNumber      string `json:"blockNumber"`
	TransactionHash  string `json:"transactionHash"`
	TransactionIndex string `json:"transactionIndex"`
	Status           string `json:"status"`
	From             string `json:"from"`
	To               string `json:"to"`
	ContractAddress  string `json:"contractAddress"`
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	id := atomic.AddUint64(&c.idCounter, 1)
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("rpc status %d", resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return err
	}
	if decoded.Error != nil {
		return fmt.Errorf("rpc error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}
	if result == nil {
		return nil
	}
	if len(decoded.Result) == 0 {
		return errors.New("rpc result is empty")
	}
	return json.Unmarshal(decoded.Result, result)
}

func parseHexUint(value string) (uint64, error) {
	trimmed := strings.TrimPrefix(value, "0x")
	if trimmed == "" {
		return 0, errors.New("empty hex value")
	}
	return strconv.ParseUint(trimmed, 16, 64)
}

func parseHexBig(value string) (*big.Int, error) {
	trimmed := strings.TrimPrefix(value, "0x")
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex value: %s", value)
	}
	return parsed, nil
}

func padAddress(address string) string {
	trimmed := strings.TrimPrefix(strings.ToLower(address), "0x")
	return strings.Repeat("0", 64-len(trimmed)) + trimmed
}

func padUint256(value *big.Int) string {
	hex := value.Text(16)
	return strings.Repeat("0", 64-len(hex)) + hex
}
