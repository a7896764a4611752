// Package shopify предоставляет клиент для коммерческого бэкенда (Shopify
// Admin REST API) и опрашивающий его поллер.
package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	apiVersion       = "2024-07"
	defaultPageLimit = 250
	// Shopify принимает не более 50 inventory_item_ids за один запрос.
	inventoryBatchSize = 50
)

// Client инкапсулирует HTTP-взаимодействие с админским API магазина.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient создаёт клиент для магазина shop с указанным токеном доступа.
// Непустой baseURL заменяет стандартный адрес админского API.
func NewClient(shop, token, baseURL string) *Client {
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.myshopify.com/admin/api/%s", shop, apiVersion)
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = nil
	rc.HTTPClient.Timeout = 15 * time.Second

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: rc.StandardClient(),
	}
}

// OrderQuery описывает параметры выборки заказов.
type OrderQuery struct {
	Status            string
	FulfillmentStatus string
	Limit             int
	CreatedAtMin      time.Time
	CreatedAtMax      time.Time
}

// LineItem описывает позицию заказа в нормализованном виде.
type LineItem struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Price         float64 `json:"price"`
	Quantity      int     `json:"quantity"`
	TotalDiscount float64 `json:"total_discount"`
	LineTotal     float64 `json:"line_total"`
}

// Customer описывает покупателя заказа.
type Customer struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// OrderSummary — заказ с ценами, приведёнными к числам с двумя знаками.
type OrderSummary struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	CreatedAt            time.Time  `json:"created_at"`
	SubtotalPrice        float64    `json:"subtotal_price"`
	TotalTax             float64    `json:"total_tax"`
	TotalShipping        float64    `json:"total_shipping"`
	TotalPrice           float64    `json:"total_price"`
	CurrentSubtotalPrice float64    `json:"current_subtotal_price"`
	TotalDiscounts       float64    `json:"total_discounts"`
	FinancialStatus      string     `json:"financial_status"`
	FulfillmentStatus    string     `json:"fulfillment_status"`
	Customer             *Customer  `json:"customer,omitempty"`
	LineItems            []LineItem `json:"line_items"`
}

// Totals — сводка по заказам за период. Округление до двух знаков
// выполняется после суммирования, а не по каждой позиции.
type Totals struct {
	OrderCount           int            `json:"orderCount"`
	SubtotalPrice        float64        `json:"subtotalPrice"`
	CurrentSubtotalPrice float64        `json:"currentSubtotalPrice"`
	TotalTax             float64        `json:"totalTax"`
	TotalShipping        float64        `json:"totalShipping"`
	TotalDiscounts       float64        `json:"totalDiscounts"`
	FinalTotalPrice      float64        `json:"finalTotalPrice"`
	Orders               []OrderSummary `json:"orders"`
}

type restLineItem struct {
	ID            json.Number `json:"id"`
	Title         string      `json:"title"`
	Price         string      `json:"price"`
	Quantity      int         `json:"quantity"`
	TotalDiscount string      `json:"total_discount"`
}

type restCustomer struct {
	ID        json.Number `json:"id"`
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name"`
	Email     string      `json:"email"`
}

type restOrder struct {
	ID                    json.Number `json:"id"`
	Name                  string      `json:"name"`
	CreatedAt             string      `json:"created_at"`
	SubtotalPrice         string      `json:"subtotal_price"`
	TotalTax              string      `json:"total_tax"`
	TotalShippingPriceSet *struct {
		ShopMoney *struct {
			Amount string `json:"amount"`
		} `json:"shop_money"`
	} `json:"total_shipping_price_set"`
	TotalPrice           string         `json:"total_price"`
	CurrentSubtotalPrice string         `json:"current_subtotal_price"`
	TotalDiscounts       string         `json:"total_discounts"`
	FinancialStatus      string         `json:"financial_status"`
	FulfillmentStatus    string         `json:"fulfillment_status"`
	Customer             *restCustomer  `json:"customer"`
	LineItems            []restLineItem `json:"line_items"`
}

type restOrdersResponse struct {
	Orders []restOrder `json:"orders"`
}

func (c *Client) get(ctx context.Context, path string, query url.Values, dst any) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("shopify client not configured")
	}

	u := c.baseURL + "/" + path + ".json"
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Shopify-Access-Token", c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// ListOrders возвращает заказы, удовлетворяющие запросу, с ценами,
// приведёнными к числам. Отсутствующие поля (например, стоимость доставки)
// заменяются нулями.
func (c *Client) ListOrders(ctx context.Context, q OrderQuery) ([]OrderSummary, error) {
	query := url.Values{}
	if q.Status != "" {
		query.Set("status", q.Status)
	}
	if q.FulfillmentStatus != "" {
		query.Set("fulfillment_status", q.FulfillmentStatus)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	query.Set("limit", strconv.Itoa(limit))
	if !q.CreatedAtMin.IsZero() {
		query.Set("created_at_min", q.CreatedAtMin.Format(time.RFC3339))
	}
	if !q.CreatedAtMax.IsZero() {
		query.Set("created_at_max", q.CreatedAtMax.Format(time.RFC3339))
	}
	query.Set("fields", "id,name,created_at,subtotal_price,total_tax,total_shipping_price_set,total_price,current_subtotal_price,total_discounts,financial_status,fulfillment_status,customer,line_items")

	var resp restOrdersResponse
	if err := c.get(ctx, "orders", query, &resp); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	orders := make([]OrderSummary, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		orders = append(orders, normalizeOrder(o))
	}
	return orders, nil
}

// OrderTotals возвращает сводку по заказам за период: количество,
// нормализованные суммы и разбивку по заказам.
func (c *Client) OrderTotals(ctx context.Context, from, to time.Time) (*Totals, error) {
	orders, err := c.ListOrders(ctx, OrderQuery{
		Status:       "any",
		CreatedAtMin: from,
		CreatedAtMax: to,
	})
	if err != nil {
		return nil, fmt.Errorf("order totals: %w", err)
	}

	t := &Totals{
		OrderCount: len(orders),
		Orders:     orders,
	}
	for _, o := range orders {
		t.SubtotalPrice += o.SubtotalPrice
		t.CurrentSubtotalPrice += o.CurrentSubtotalPrice
		t.TotalTax += o.TotalTax
		t.TotalShipping += o.TotalShipping
		t.TotalDiscounts += o.TotalDiscounts
		t.FinalTotalPrice += o.TotalPrice
	}

	t.SubtotalPrice = round2(t.SubtotalPrice)
	t.CurrentSubtotalPrice = round2(t.CurrentSubtotalPrice)
	t.TotalTax = round2(t.TotalTax)
	t.TotalShipping = round2(t.TotalShipping)
	t.TotalDiscounts = round2(t.TotalDiscounts)
	t.FinalTotalPrice = round2(t.FinalTotalPrice)

	return t, nil
}

func normalizeOrder(o restOrder) OrderSummary {
	createdAt, _ := time.Parse(time.RFC3339, o.CreatedAt)

	shipping := 0.0
	if o.TotalShippingPriceSet != nil && o.TotalShippingPriceSet.ShopMoney != nil {
		shipping = parsePrice(o.TotalShippingPriceSet.ShopMoney.Amount)
	}

	items := make([]LineItem, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		price := parsePrice(li.Price)
		discount := parsePrice(li.TotalDiscount)
		items = append(items, LineItem{
			ID:            li.ID.String(),
			Title:         li.Title,
			Price:         price,
			Quantity:      li.Quantity,
			TotalDiscount: discount,
			LineTotal:     price*float64(li.Quantity) - discount,
		})
	}

	var customer *Customer
	if o.Customer != nil {
		customer = &Customer{
			ID:        o.Customer.ID.String(),
			FirstName: o.Customer.FirstName,
			LastName:  o.Customer.LastName,
			Email:     o.Customer.Email,
		}
	}

	return OrderSummary{
		ID:                   o.ID.String(),
		Name:                 o.Name,
		CreatedAt:            createdAt,
		SubtotalPrice:        parsePrice(o.SubtotalPrice),
		TotalTax:             parsePrice(o.TotalTax),
		TotalShipping:        shipping,
		TotalPrice:           parsePrice(o.TotalPrice),
		CurrentSubtotalPrice: parsePrice(o.CurrentSubtotalPrice),
		TotalDiscounts:       parsePrice(o.TotalDiscounts),
		FinancialStatus:      o.FinancialStatus,
		FulfillmentStatus:    o.FulfillmentStatus,
		Customer:             customer,
		LineItems:            items,
	}
}

func parsePrice(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
