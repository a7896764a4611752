package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Variant — вариант товара с агрегированным остатком на складе.
// IsSoldOut истинен, только если остатком управляет Shopify и доступное
// количество равно нулю.
type Variant struct {
	ID                  string  `json:"id"`
	Title               string  `json:"title"`
	Price               float64 `json:"price"`
	SKU                 string  `json:"sku"`
	InventoryItemID     string  `json:"inventory_item_id,omitempty"`
	InventoryManagement string  `json:"inventory_management"`
	InventoryPolicy     string  `json:"inventory_policy"`
	InventoryQuantity   int     `json:"inventory_quantity"`
	IsSoldOut           bool    `json:"is_sold_out"`
}

// Product — товар с вариантами и признаками распроданности.
type Product struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	Handle             string    `json:"handle"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	Variants           []Variant `json:"variants"`
	HasSoldOutVariants bool      `json:"has_sold_out_variants"`
	AllVariantsSoldOut bool      `json:"all_variants_sold_out"`
}

// ProductList — результат выборки товаров.
type ProductList struct {
	Products     []Product `json:"products"`
	TotalCount   int       `json:"total_count"`
	SoldOutCount int       `json:"sold_out_count"`
	SoldOutOnly  bool      `json:"sold_out_only"`
}

type restVariant struct {
	ID                  json.Number `json:"id"`
	Title               string      `json:"title"`
	Price               string      `json:"price"`
	SKU                 string      `json:"sku"`
	InventoryItemID     json.Number `json:"inventory_item_id"`
	InventoryManagement string      `json:"inventory_management"`
	InventoryPolicy     string      `json:"inventory_policy"`
}

type restProduct struct {
	ID        json.Number   `json:"id"`
	Title     string        `json:"title"`
	Handle    string        `json:"handle"`
	CreatedAt string        `json:"created_at"`
	UpdatedAt string        `json:"updated_at"`
	Variants  []restVariant `json:"variants"`
}

type restProductsResponse struct {
	Products []restProduct `json:"products"`
}

type restInventoryLevel struct {
	InventoryItemID json.Number `json:"inventory_item_id"`
	Available       *int        `json:"available"`
}

type restInventoryResponse struct {
	InventoryLevels []restInventoryLevel `json:"inventory_levels"`
}

// Products возвращает товары с агрегированными остатками. При soldOutOnly
// в списке остаются только товары, у которых распродан хотя бы один вариант.
func (c *Client) Products(ctx context.Context, soldOutOnly bool) (*ProductList, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(defaultPageLimit))
	query.Set("fields", "id,title,handle,created_at,updated_at,variants")

	var resp restProductsResponse
	if err := c.get(ctx, "products", query, &resp); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	inventory := c.fetchInventory(ctx, resp.Products)

	var products []Product
	soldOutCount := 0
	for _, p := range resp.Products {
		product := normalizeProduct(p, inventory)
		if product.HasSoldOutVariants {
			soldOutCount++
		}
		if soldOutOnly && !product.HasSoldOutVariants {
			continue
		}
		products = append(products, product)
	}

	return &ProductList{
		Products:     products,
		TotalCount:   len(products),
		SoldOutCount: soldOutCount,
		SoldOutOnly:  soldOutOnly,
	}, nil
}

// ProductInventory возвращает остатки по идентификаторам вариантов —
// снимок склада на момент вызова.
func (c *Client) ProductInventory(ctx context.Context) (map[string]int, error) {
	list, err := c.Products(ctx, false)
	if err != nil {
		return nil, err
	}

	inv := make(map[string]int)
	for _, p := range list.Products {
		for _, v := range p.Variants {
			inv[v.ID] = v.InventoryQuantity
		}
	}
	return inv, nil
}

// fetchInventory собирает доступные остатки по inventory_item_id.
// Ошибки не фатальны: товары без данных об остатках считаются нулевыми.
func (c *Client) fetchInventory(ctx context.Context, products []restProduct) map[string]int {
	seen := make(map[string]bool)
	var ids []string
	for _, p := range products {
		for _, v := range p.Variants {
			id := v.InventoryItemID.String()
			if id == "" || id == "0" || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}

	inventory := make(map[string]int)
	for i := 0; i < len(ids); i += inventoryBatchSize {
		batch := ids[i:min(i+inventoryBatchSize, len(ids))]

		query := url.Values{}
		query.Set("inventory_item_ids", strings.Join(batch, ","))
		query.Set("limit", strconv.Itoa(defaultPageLimit))

		var resp restInventoryResponse
		if err := c.get(ctx, "inventory_levels", query, &resp); err != nil {
			return inventory
		}

		for _, level := range resp.InventoryLevels {
			available := 0
			if level.Available != nil {
				available = *level.Available
			}
			inventory[level.InventoryItemID.String()] += available
		}
	}
	return inventory
}

func normalizeProduct(p restProduct, inventory map[string]int) Product {
	createdAt, _ := time.Parse(time.RFC3339, p.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339, p.UpdatedAt)

	variants := make([]Variant, 0, len(p.Variants))
	hasSoldOut := false
	allSoldOut := len(p.Variants) > 0
	for _, v := range p.Variants {
		quantity := inventory[v.InventoryItemID.String()]
		soldOut := v.InventoryManagement == "shopify" && quantity == 0
		if soldOut {
			hasSoldOut = true
		} else {
			allSoldOut = false
		}

		variants = append(variants, Variant{
			ID:                  v.ID.String(),
			Title:               v.Title,
			Price:               parsePrice(v.Price),
			SKU:                 v.SKU,
			InventoryItemID:     v.InventoryItemID.String(),
			InventoryManagement: v.InventoryManagement,
			InventoryPolicy:     v.InventoryPolicy,
			InventoryQuantity:   quantity,
			IsSoldOut:           soldOut,
		})
	}

	return Product{
		ID:                 p.ID.String(),
		Title:              p.Title,
		Handle:             p.Handle,
		CreatedAt:          createdAt,
		UpdatedAt:          updatedAt,
		Variants:           variants,
		HasSoldOutVariants: hasSoldOut,
		AllVariantsSoldOut: allSoldOut,
	}
}
