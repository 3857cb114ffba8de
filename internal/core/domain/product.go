package domain

import "github.com/shopspring/decimal"

type Product struct {
	ID            int64
	Name          string
	Price         decimal.Decimal
	StockQuantity int
	Version       Version
}

// HasStock reports whether quantity units can be taken without going negative.
func (p *Product) HasStock(quantity int) bool {
	return p.StockQuantity >= quantity
}

// Reserve takes quantity units out of stock and stamps a new version.
func (p *Product) Reserve(quantity int) {
	p.StockQuantity -= quantity
	p.Version = NewVersion()
}

// Restock returns quantity units to stock and stamps a new version.
func (p *Product) Restock(quantity int) {
	p.StockQuantity += quantity
	p.Version = NewVersion()
}
