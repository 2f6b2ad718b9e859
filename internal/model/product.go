package model

import "time"

// ProductStatus mirrors products.status. Only Online products can be streamed.
type ProductStatus int

const (
	ProductOffline ProductStatus = iota
	ProductDetected
	ProductUpdating
	ProductTesting
	ProductOnline
)

// Valid reports whether s is one of the known statuses.
func (s ProductStatus) Valid() bool { return s >= ProductOffline && s <= ProductOnline }

// Product is a distributable item (`products` table). VersionID points to
// the active version, which always belongs to this product.
type Product struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Status     ProductStatus `json:"status"`
	CreatedAt  time.Time     `json:"createdAt"`
	Process    string        `json:"process"`
	VersionID  *string       `json:"versionId"`
	LastUpdate *time.Time    `json:"lastUpdate"`
}

// ProductVersion is one uploaded build of a product. Key is the hex
// secretbox key of the vault blob and is never serialized.
type ProductVersion struct {
	ID         string    `json:"id"`
	ProductID  string    `json:"productId"`
	Version    string    `json:"version"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUpdate time.Time `json:"lastUpdate"`
	Key        string    `json:"-"`
}
