package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-engine/internal/adapter/storage"
	"github.com/rl1809/inventory-engine/internal/core/domain"
	"github.com/rl1809/inventory-engine/internal/core/service"
)

const (
	productCount  = 3
	initialStock  = 20
	totalRequests = 200
	cancelRatio   = 0.3
)

func main() {
	ctx := context.Background()
	logger := zap.NewNop()

	store := storage.NewMemoryStore()
	coordinator := service.NewRetryCoordinator(logger)
	inventory := service.NewInventoryService(store, coordinator, logger)
	products := service.NewProductService(store, coordinator, logger)

	ids := make([]int64, 0, productCount)
	for i := 0; i < productCount; i++ {
		p, err := products.CreateProduct(ctx, service.ProductInput{
			Name:          fmt.Sprintf("stress-product-%d", i),
			Price:         decimal.NewFromInt(10),
			StockQuantity: initialStock,
		})
		if err != nil {
			log.Fatalf("failed to create product: %v", err)
		}
		ids = append(ids, p.ID)
	}

	var placed, cancelled, insufficient, conflicts, other atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			items := []service.OrderItemInput{{ProductID: ids[rand.IntN(len(ids))], Quantity: 1}}
			order, err := inventory.PlaceOrder(ctx, items)
			if err != nil {
				switch {
				case errors.Is(err, domain.ErrBadRequest):
					insufficient.Add(1)
				case errors.Is(err, domain.ErrConflict):
					conflicts.Add(1)
				default:
					other.Add(1)
				}
				return
			}
			placed.Add(1)

			if rand.Float64() < cancelRatio {
				if err := inventory.CancelOrder(ctx, order.ID); err == nil {
					cancelled.Add(1)
				} else if errors.Is(err, domain.ErrConflict) {
					conflicts.Add(1)
				}
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Products:         %d x %d units\n", productCount, initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Placed:           %d\n", placed.Load())
	fmt.Printf("Cancelled:        %d\n", cancelled.Load())
	fmt.Printf("Out of stock:     %d\n", insufficient.Load())
	fmt.Printf("Conflicts:        %d\n", conflicts.Load())
	fmt.Printf("Other errors:     %d\n", other.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	all, err := products.ListProducts(ctx)
	if err != nil {
		log.Fatalf("failed to list products: %v", err)
	}
	remaining := 0
	negative := false
	for _, p := range all {
		fmt.Printf("Product %d stock: %d\n", p.ID, p.StockQuantity)
		remaining += p.StockQuantity
		if p.StockQuantity < 0 {
			negative = true
		}
	}
	if negative {
		fmt.Println("FAIL: stock went negative")
	} else {
		fmt.Println("PASS: stock never negative")
	}

	// Units held by live orders versus units actually taken from stock.
	consumed := productCount*initialStock - remaining
	net := int(placed.Load() - cancelled.Load())
	fmt.Printf("Units reserved by live orders: %d, stock consumed: %d, overwritten: %d\n",
		net, consumed, net-consumed)
}
