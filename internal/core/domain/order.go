package domain

import (
	"fmt"
	"time"
)

type OrderStatus string

const (
	OrderStatusPendingFulfillment OrderStatus = "PendingFulfillment"
	OrderStatusFulfilled          OrderStatus = "Fulfilled"
	OrderStatusCancelled          OrderStatus = "Cancelled"
)

// ParseOrderStatus accepts the canonical status names.
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch OrderStatus(s) {
	case OrderStatusPendingFulfillment, OrderStatusFulfilled, OrderStatusCancelled:
		return OrderStatus(s), nil
	}
	return "", fmt.Errorf("invalid order status %q", s)
}

func (s OrderStatus) Valid() bool {
	_, err := ParseOrderStatus(string(s))
	return err == nil
}

// Terminal reports whether no further transition is defined for s.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFulfilled || s == OrderStatusCancelled
}

type OrderItem struct {
	OrderID   int64
	ProductID int64
	Quantity  int
}

type Order struct {
	ID        int64
	OrderDate time.Time
	Status    OrderStatus
	Items     []OrderItem
	Version   Version
}

// Clone returns a copy that shares no item slice with o.
func (o Order) Clone() Order {
	c := o
	c.Items = append([]OrderItem(nil), o.Items...)
	c.Version = o.Version.Clone()
	return c
}
