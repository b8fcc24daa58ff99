package market

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const baseURL = "https://fapi.binance.com"

// APIClient 合约行情 REST 客户端（仅只读查询，无需签名）。
type APIClient struct {
	client *http.Client
}

func NewAPIClient() *APIClient {
	return &APIClient{
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// GetCurrentPrice 查询交易对最新价格。
func (c *APIClient) GetCurrentPrice(symbol string) (float64, error) {
	req, err := http.NewRequest(http.MethodGet, baseURL+"/fapi/v1/ticker/price", nil)
	if err != nil {
		return 0, err
	}

	q := req.URL.Query()
	q.Add("symbol", Normalize(symbol))
	req.URL.RawQuery = q.Encode()

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("查询价格失败: %s", string(body))
	}

	var ticker struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &ticker); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(ticker.Price, 64)
}
