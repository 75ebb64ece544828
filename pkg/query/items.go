package query

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// ResultPage is one page of items as returned by the backend.
type ResultPage[T any] struct {
	Items    []T
	Total    int
	PageSize int
}

// Full reports whether the page was filled, which is how the backend signals
// that another page may follow.
func (p ResultPage[T]) Full() bool {
	return len(p.Items) > 0 && len(p.Items) == p.PageSize
}

// Product is the normalized product shape.
type Product struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	Price        decimal.Decimal `json:"price"`
	Category     string          `json:"category,omitempty"`
	ImageURL     string          `json:"imageUrl,omitempty"`
	MerchantID   string          `json:"merchantId,omitempty"`
	MerchantName string          `json:"merchantName,omitempty"`
	InStock      bool            `json:"inStock"`
}

// Merchant is the normalized merchant shape.
type Merchant struct {
	ID           string  `json:"id"`
	BusinessName string  `json:"businessName"`
	Category     string  `json:"category,omitempty"`
	Location     string  `json:"location,omitempty"`
	LogoURL      string  `json:"logoUrl,omitempty"`
	Verified     bool    `json:"verified"`
	Rating       float64 `json:"rating,omitempty"`
}

// RawMerchantRef is the merchant reference embedded in a product. The backend
// sends either a bare id string or a populated object.
type RawMerchantRef struct {
	ID           string `json:"_id"`
	AltID        string `json:"id"`
	BusinessName string `json:"businessName"`
	Name         string `json:"name"`
}

// UnmarshalJSON accepts a plain id string as well as an object.
func (r *RawMerchantRef) UnmarshalJSON(b []byte) error {
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		r.ID = id
		return nil
	}
	type alias RawMerchantRef
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*r = RawMerchantRef(a)
	return nil
}

// RawProduct mirrors the loose product document served by the backend.
type RawProduct struct {
	ID            string          `json:"_id"`
	AltID         string          `json:"id"`
	Name          string          `json:"name"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Price         json.RawMessage `json:"price"`
	Category      string          `json:"category"`
	Images        []string        `json:"images"`
	Image         string          `json:"image"`
	ImageURL      string          `json:"imageUrl"`
	PrimaryImage  string          `json:"primaryImage"`
	Merchant      *RawMerchantRef `json:"merchant"`
	MerchantID    string          `json:"merchantId"`
	MerchantName  string          `json:"merchantName"`
	StockQuantity *int            `json:"stockQuantity"`
	InStock       *bool           `json:"inStock"`
	IsActive      *bool           `json:"isActive"`
}

// RawMerchant mirrors the loose merchant document served by the backend.
type RawMerchant struct {
	ID             string   `json:"_id"`
	AltID          string   `json:"id"`
	BusinessName   string   `json:"businessName"`
	Name           string   `json:"name"`
	BusinessType   string   `json:"businessType"`
	Category       string   `json:"category"`
	Location       string   `json:"location"`
	Address        string   `json:"address"`
	Logo           string   `json:"logo"`
	LogoURL        string   `json:"logoUrl"`
	IsVerified     *bool    `json:"isVerified"`
	Verified       *bool    `json:"verified"`
	VerifiedStatus string   `json:"verificationStatus"`
	Rating         *float64 `json:"rating"`
}

// NormalizeProduct resolves the fallback fields of a raw product into one shape.
func NormalizeProduct(raw RawProduct) Product {
	p := Product{
		ID:          firstNonEmpty(raw.ID, raw.AltID),
		Name:        firstNonEmpty(raw.Name, raw.Title),
		Description: raw.Description,
		Price:       parsePrice(raw.Price),
		Category:    raw.Category,
		ImageURL:    firstNonEmpty(firstOf(raw.Images), raw.PrimaryImage, raw.Image, raw.ImageURL),
		MerchantID:  raw.MerchantID,
		InStock:     true,
	}
	p.MerchantName = raw.MerchantName
	if raw.Merchant != nil {
		p.MerchantID = firstNonEmpty(raw.Merchant.ID, raw.Merchant.AltID, p.MerchantID)
		p.MerchantName = firstNonEmpty(raw.Merchant.BusinessName, raw.Merchant.Name, p.MerchantName)
	}

	switch {
	case raw.InStock != nil:
		p.InStock = *raw.InStock
	case raw.StockQuantity != nil:
		p.InStock = *raw.StockQuantity > 0
	}
	if raw.IsActive != nil && !*raw.IsActive {
		p.InStock = false
	}
	return p
}

// NormalizeMerchant resolves the fallback fields of a raw merchant into one shape.
func NormalizeMerchant(raw RawMerchant) Merchant {
	m := Merchant{
		ID:           firstNonEmpty(raw.ID, raw.AltID),
		BusinessName: firstNonEmpty(raw.BusinessName, raw.Name),
		Category:     firstNonEmpty(raw.Category, raw.BusinessType),
		Location:     firstNonEmpty(raw.Location, raw.Address),
		LogoURL:      firstNonEmpty(raw.Logo, raw.LogoURL),
	}
	switch {
	case raw.IsVerified != nil:
		m.Verified = *raw.IsVerified
	case raw.Verified != nil:
		m.Verified = *raw.Verified
	default:
		m.Verified = strings.EqualFold(raw.VerifiedStatus, "verified")
	}
	if raw.Rating != nil {
		m.Rating = *raw.Rating
	}
	return m
}

// parsePrice accepts a JSON number or a numeric string. Anything else is zero.
func parsePrice(b json.RawMessage) decimal.Decimal {
	if len(b) == 0 || string(b) == "null" {
		return decimal.Zero
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return decimal.Zero
	}
	return d
}

func firstOf(s []string) string {
	for _, v := range s {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
