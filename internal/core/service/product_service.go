package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-engine/internal/core/domain"
	"github.com/rl1809/inventory-engine/internal/port"
)

type ProductInput struct {
	Name          string
	Price         decimal.Decimal
	StockQuantity int
}

func (in ProductInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return domain.BadRequestf("name is required")
	}
	if !in.Price.IsPositive() {
		return domain.BadRequestf("price must be greater than 0")
	}
	if in.StockQuantity < 0 {
		return domain.BadRequestf("stock quantity must be a non-negative number")
	}
	return nil
}

// ProductService manages the product catalogue. Writes share the
// RetryCoordinator with order operations.
type ProductService struct {
	store       port.Store
	coordinator *RetryCoordinator
	logger      *zap.Logger
}

func NewProductService(store port.Store, coordinator *RetryCoordinator, logger *zap.Logger) *ProductService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if coordinator == nil {
		coordinator = NewRetryCoordinator(logger)
	}
	return &ProductService{store: store, coordinator: coordinator, logger: logger}
}

func (s *ProductService) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	uow, err := s.store.Begin(ctx)
	if err != nil {
		return domain.Product{}, domain.Internal(err)
	}
	product, err := s.loadProduct(ctx, uow, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *ProductService) ListProducts(ctx context.Context) ([]domain.Product, error) {
	uow, err := s.store.Begin(ctx)
	if err != nil {
		return nil, domain.Internal(err)
	}
	products, err := uow.ListProducts(ctx)
	if err != nil {
		return nil, domain.Internal(err)
	}
	return products, nil
}

func (s *ProductService) CreateProduct(ctx context.Context, in ProductInput) (result domain.Product, err error) {
	ctx, span := tracer.Start(ctx, "ProductService.CreateProduct")
	defer func() { endSpan(span, err) }()

	s.logger.Info("creating product", zap.String("name", in.Name))

	if err := in.validate(); err != nil {
		return domain.Product{}, err
	}

	uow, err := s.store.Begin(ctx)
	if err != nil {
		return domain.Product{}, domain.Internal(err)
	}

	existing, err := uow.GetProductByName(ctx, in.Name)
	if err != nil {
		return domain.Product{}, domain.Internal(err)
	}
	if existing != nil {
		s.logger.Warn("product name already exists", zap.String("name", in.Name))
		return domain.Product{}, domain.Conflictf("product with the same name already exists")
	}

	product := &domain.Product{
		Name:          in.Name,
		Price:         in.Price,
		StockQuantity: in.StockQuantity,
		Version:       domain.NewVersion(),
	}
	uow.AddProduct(product)
	if _, err := s.coordinator.Commit(ctx, uow); err != nil {
		return domain.Product{}, err
	}

	span.SetAttributes(attribute.Int64("product.id", product.ID))
	s.logger.Info("created product", zap.Int64("product_id", product.ID))
	return *product, nil
}

func (s *ProductService) UpdateProduct(ctx context.Context, id int64, in ProductInput) (result domain.Product, err error) {
	ctx, span := tracer.Start(ctx, "ProductService.UpdateProduct")
	span.SetAttributes(attribute.Int64("product.id", id))
	defer func() { endSpan(span, err) }()

	if err := in.validate(); err != nil {
		return domain.Product{}, err
	}

	uow, err := s.store.Begin(ctx)
	if err != nil {
		return domain.Product{}, domain.Internal(err)
	}
	product, err := s.loadProduct(ctx, uow, id)
	if err != nil {
		return domain.Product{}, err
	}

	product.Name = in.Name
	product.Price = in.Price
	product.StockQuantity = in.StockQuantity
	product.Version = domain.NewVersion()
	uow.UpdateProduct(product)

	if _, err := s.coordinator.Commit(ctx, uow); err != nil {
		s.logger.Error("failed to update product", zap.Int64("product_id", id), zap.Error(err))
		return domain.Product{}, err
	}

	s.logger.Info("updated product", zap.Int64("product_id", id))
	return *product, nil
}

func (s *ProductService) DeleteProduct(ctx context.Context, id int64) (err error) {
	ctx, span := tracer.Start(ctx, "ProductService.DeleteProduct")
	span.SetAttributes(attribute.Int64("product.id", id))
	defer func() { endSpan(span, err) }()

	uow, err := s.store.Begin(ctx)
	if err != nil {
		return domain.Internal(err)
	}
	if _, err := s.loadProduct(ctx, uow, id); err != nil {
		return err
	}

	uow.DeleteProduct(id)
	if _, err := s.coordinator.Commit(ctx, uow); err != nil {
		return err
	}

	s.logger.Info("deleted product", zap.Int64("product_id", id))
	return nil
}

// CheckInventory reports whether quantity units of the product are in stock.
func (s *ProductService) CheckInventory(ctx context.Context, productID int64, quantity int) (bool, error) {
	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		return false, err
	}
	ok := product.HasStock(quantity)
	s.logger.Debug("inventory check",
		zap.Int64("product_id", productID),
		zap.Int("quantity", quantity),
		zap.Bool("in_stock", ok),
	)
	return ok, nil
}

func (s *ProductService) loadProduct(ctx context.Context, uow port.UnitOfWork, id int64) (*domain.Product, error) {
	product, err := uow.GetProduct(ctx, id)
	if err != nil {
		return nil, domain.Internal(err)
	}
	if product == nil {
		s.logger.Warn("product not found", zap.Int64("product_id", id))
		return nil, domain.NotFoundf("product with id %d not found", id)
	}
	return product, nil
}
