// Package models defines the source records read by the migrator and the
// run statistics it reports.
package models

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Image is a media reference embedded in commerce records.
type Image struct {
	ID   int    `json:"id"`
	Src  string `json:"src"`
	Name string `json:"name"`
	Alt  string `json:"alt"`
}

// Category is a commerce product category.
type Category struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Parent      int    `json:"parent"`
	Description string `json:"description"`
	Display     string `json:"display"`
	MenuOrder   int    `json:"menu_order"`
	Count       int    `json:"count"`
	Image       *Image `json:"image"`
}

// CategoryRef is the short category form attached to products.
type CategoryRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Attribute is a product or variation attribute. Variations carry a single
// Option, parent products carry the full Options list.
type Attribute struct {
	ID      int      `json:"id"`
	Name    string   `json:"name"`
	Option  string   `json:"option"`
	Options []string `json:"options"`
}

// Product is a commerce catalog product.
type Product struct {
	ID               int           `json:"id"`
	Name             string        `json:"name"`
	Slug             string        `json:"slug"`
	Permalink        string        `json:"permalink"`
	Type             string        `json:"type"`
	Status           string        `json:"status"`
	Description      string        `json:"description"`
	ShortDescription string        `json:"short_description"`
	SKU              string        `json:"sku"`
	Price            string        `json:"price"`
	RegularPrice     string        `json:"regular_price"`
	SalePrice        string        `json:"sale_price"`
	AverageRating    string        `json:"average_rating"`
	RatingCount      int           `json:"rating_count"`
	DateModified     string        `json:"date_modified"`
	Categories       []CategoryRef `json:"categories"`
	Images           []Image       `json:"images"`
	Attributes       []Attribute   `json:"attributes"`
	Variations       []int         `json:"variations"`
}

// IsVariable reports whether the product has variations.
func (p Product) IsVariable() bool {
	return p.Type == "variable" || len(p.Variations) > 0
}

// Variation is a purchasable variant of a variable product.
type Variation struct {
	ID            int         `json:"id"`
	SKU           string      `json:"sku"`
	Status        string      `json:"status"`
	Price         string      `json:"price"`
	RegularPrice  string      `json:"regular_price"`
	SalePrice     string      `json:"sale_price"`
	StockQuantity *int        `json:"stock_quantity"`
	StockStatus   string      `json:"stock_status"`
	Attributes    []Attribute `json:"attributes"`
	Image         *Image      `json:"image"`

	// ParentID is filled in by the importer; the variations endpoint is
	// scoped to the parent and does not always echo it back.
	ParentID int `json:"parent_id"`
}

// Address is a billing or shipping address.
type Address struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Address1  string `json:"address_1"`
	Address2  string `json:"address_2"`
	City      string `json:"city"`
	State     string `json:"state"`
	Postcode  string `json:"postcode"`
	Country   string `json:"country"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// Line joins the non-empty address parts with commas.
func (a Address) Line() string {
	parts := make([]string, 0, 6)
	for _, p := range []string{a.Address1, a.Address2, a.City, a.State, a.Postcode, a.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Customer is a registered commerce customer.
type Customer struct {
	ID        int     `json:"id"`
	Email     string  `json:"email"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Username  string  `json:"username"`
	Billing   Address `json:"billing"`
	Shipping  Address `json:"shipping"`
}

// Phone prefers the billing phone and falls back to shipping.
func (c Customer) Phone() string {
	if p := strings.TrimSpace(c.Billing.Phone); p != "" {
		return p
	}
	return strings.TrimSpace(c.Shipping.Phone)
}

// Address prefers the billing address and falls back to shipping.
func (c Customer) Address() string {
	if line := c.Billing.Line(); line != "" {
		return line
	}
	return c.Shipping.Line()
}

// Amount decodes prices that the source sends either as JSON strings or numbers.
type Amount float64

// UnmarshalJSON implements json.Unmarshaler.
func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		*a = 0
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return err
	}
	*a = Amount(v)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(float64(a))
}

// LineItem is one purchased line of an order.
type LineItem struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	ProductID   int    `json:"product_id"`
	VariationID int    `json:"variation_id"`
	Quantity    int    `json:"quantity"`
	SKU         string `json:"sku"`
	Price       Amount `json:"price"`
	Total       Amount `json:"total"`
}

// ShippingLine is a shipping method applied to an order.
type ShippingLine struct {
	MethodTitle string `json:"method_title"`
	Total       Amount `json:"total"`
}

// Order is a commerce order.
type Order struct {
	ID            int            `json:"id"`
	Status        string         `json:"status"`
	Currency      string         `json:"currency"`
	DateCreated   string         `json:"date_created"`
	Total         Amount         `json:"total"`
	ShippingTotal Amount         `json:"shipping_total"`
	DiscountTotal Amount         `json:"discount_total"`
	CustomerID    int            `json:"customer_id"`
	CustomerNote  string         `json:"customer_note"`
	PaymentMethod string         `json:"payment_method"`
	TransactionID string         `json:"transaction_id"`
	OrderKey      string         `json:"order_key"`
	Billing       Address        `json:"billing"`
	LineItems     []LineItem     `json:"line_items"`
	ShippingLines []ShippingLine `json:"shipping_lines"`
}
