package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/inventory-engine/internal/core/domain"
	"github.com/rl1809/inventory-engine/internal/port"
)

// MySQL error numbers that mean the write itself was rejected.
const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrNoReferencedRow = 1452
	mysqlErrRowIsReferenced = 1451
	mysqlErrCheckConstraint = 3819
	mysqlErrDataOutOfRange  = 1264
	mysqlErrTruncatedValue  = 1292
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		price DECIMAL(18,2) NOT NULL,
		stock INT NOT NULL,
		version BINARY(16) NOT NULL,
		UNIQUE KEY uq_products_name (name),
		CONSTRAINT chk_products_stock CHECK (stock >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		order_date DATETIME(6) NOT NULL,
		status VARCHAR(32) NOT NULL,
		version BINARY(16) NOT NULL,
		KEY idx_orders_status (status)
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		order_id BIGINT NOT NULL,
		product_id BIGINT NOT NULL,
		position INT NOT NULL,
		quantity INT NOT NULL,
		PRIMARY KEY (order_id, product_id),
		CONSTRAINT fk_order_items_order FOREIGN KEY (order_id) REFERENCES orders (id),
		CONSTRAINT chk_order_items_quantity CHECK (quantity > 0)
	)`,
}

// OpenMySQL parses dsn, forces the options the store relies on and returns a
// pooled handle.
func OpenMySQL(ctx context.Context, dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	// Report matched rather than changed rows so an UPDATE that rewrites
	// identical values is not mistaken for a version miss.
	cfg.ClientFoundRows = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}

// EnsureMySQLSchema creates the tables when they do not exist yet.
func EnsureMySQLSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) Begin(ctx context.Context) (port.UnitOfWork, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &mysqlUnit{db: m.db, tracker: newTracker()}, nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type mysqlUnit struct {
	db      *sql.DB
	tracker *tracker
}

func (u *mysqlUnit) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	if p, ok := u.tracker.product(id); ok {
		return p, nil
	}
	p, err := queryProduct(ctx, u.db, `WHERE id = ?`, id)
	if err != nil || p == nil {
		return nil, err
	}
	return u.tracker.attachProduct(*p), nil
}

func (u *mysqlUnit) GetProductByName(ctx context.Context, name string) (*domain.Product, error) {
	p, err := queryProduct(ctx, u.db, `WHERE name = ?`, name)
	if err != nil || p == nil {
		return nil, err
	}
	return u.tracker.attachProduct(*p), nil
}

func (u *mysqlUnit) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := u.db.QueryContext(ctx, `SELECT id, name, price, stock, version FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		var p domain.Product
		var version []byte
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.StockQuantity, &version); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		p.Version = domain.Version(version)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (u *mysqlUnit) AddProduct(p *domain.Product)    { u.tracker.addProduct(p) }
func (u *mysqlUnit) UpdateProduct(p *domain.Product) { u.tracker.updateProduct(p) }
func (u *mysqlUnit) DeleteProduct(id int64)          { u.tracker.deleteProduct(id) }

func (u *mysqlUnit) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	if o, ok := u.tracker.order(id); ok {
		return o, nil
	}
	o, err := queryOrder(ctx, u.db, id)
	if err != nil || o == nil {
		return nil, err
	}
	return u.tracker.attachOrder(*o), nil
}

func (u *mysqlUnit) ListOrders(ctx context.Context) ([]domain.Order, error) {
	return queryOrders(ctx, u.db, `SELECT id, order_date, status, version FROM orders ORDER BY id`)
}

func (u *mysqlUnit) PendingOrders(ctx context.Context) ([]domain.Order, error) {
	return queryOrders(ctx, u.db,
		`SELECT id, order_date, status, version FROM orders WHERE status = ? ORDER BY id`,
		domain.OrderStatusPendingFulfillment)
}

func (u *mysqlUnit) AddOrder(o *domain.Order)    { u.tracker.addOrder(o) }
func (u *mysqlUnit) UpdateOrder(o *domain.Order) { u.tracker.updateOrder(o) }

func (u *mysqlUnit) ResetBaseline(entry port.ConflictEntry) {
	u.tracker.resetBaseline(entry)
}

func (u *mysqlUnit) Commit(ctx context.Context) (int, error) {
	pending := u.tracker.pending()
	if len(pending) == 0 {
		return 0, nil
	}

	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var conflicts []port.ConflictEntry
	assigned := make(map[*entry]int64)
	written := 0

	for _, e := range pending {
		var ok bool
		var id int64
		switch {
		case e.product != nil:
			ok, id, err = writeProduct(ctx, tx, e)
		default:
			ok, id, err = writeOrder(ctx, tx, e)
		}
		if err != nil {
			return 0, classify(err)
		}
		if !ok {
			c, err := latestConflict(ctx, tx, e)
			if err != nil {
				return 0, err
			}
			if c != nil {
				conflicts = append(conflicts, *c)
			}
			continue
		}
		if e.state == stateAdded {
			assigned[e] = id
		}
		written++
	}

	if len(conflicts) > 0 {
		return 0, &port.ConflictError{Entries: conflicts}
	}
	if err := tx.Commit(); err != nil {
		return 0, classify(err)
	}

	for e, id := range assigned {
		if e.product != nil {
			e.product.ID = id
			continue
		}
		e.order.ID = id
		for i := range e.order.Items {
			e.order.Items[i].OrderID = id
		}
	}
	u.tracker.accept()
	return written, nil
}

// writeProduct applies one staged product write. ok is false when the version
// check matched no row.
func writeProduct(ctx context.Context, tx *sql.Tx, e *entry) (ok bool, id int64, err error) {
	p := e.product
	switch e.state {
	case stateAdded:
		res, err := tx.ExecContext(ctx,
			`INSERT INTO products (name, price, stock, version) VALUES (?, ?, ?, ?)`,
			p.Name, p.Price, p.StockQuantity, []byte(p.Version))
		if err != nil {
			return false, 0, fmt.Errorf("insert product: %w", err)
		}
		id, err := res.LastInsertId()
		return err == nil, id, err
	case stateModified:
		if e.baseline == nil {
			return execAffected(ctx, tx,
				`UPDATE products SET name = ?, price = ?, stock = ?, version = ? WHERE id = ?`,
				p.Name, p.Price, p.StockQuantity, []byte(p.Version), e.key.id)
		}
		return execAffected(ctx, tx,
			`UPDATE products SET name = ?, price = ?, stock = ?, version = ? WHERE id = ? AND version = ?`,
			p.Name, p.Price, p.StockQuantity, []byte(p.Version), e.key.id, []byte(e.baseline))
	case stateDeleted:
		if e.baseline == nil {
			_, err := tx.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, e.key.id)
			return err == nil, 0, err
		}
		return execAffected(ctx, tx,
			`DELETE FROM products WHERE id = ? AND version = ?`, e.key.id, []byte(e.baseline))
	}
	return true, 0, nil
}

func writeOrder(ctx context.Context, tx *sql.Tx, e *entry) (ok bool, id int64, err error) {
	o := e.order
	switch e.state {
	case stateAdded:
		res, err := tx.ExecContext(ctx,
			`INSERT INTO orders (order_date, status, version) VALUES (?, ?, ?)`,
			o.OrderDate, o.Status, []byte(o.Version))
		if err != nil {
			return false, 0, fmt.Errorf("insert order: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return false, 0, err
		}
		for i, item := range o.Items {
			if err := insertItem(ctx, tx, id, i, item); err != nil {
				return false, 0, err
			}
		}
		return true, id, nil
	case stateModified:
		if e.baseline == nil {
			ok, _, err = execAffected(ctx, tx,
				`UPDATE orders SET status = ?, version = ? WHERE id = ?`,
				o.Status, []byte(o.Version), e.key.id)
		} else {
			ok, _, err = execAffected(ctx, tx,
				`UPDATE orders SET status = ?, version = ? WHERE id = ? AND version = ?`,
				o.Status, []byte(o.Version), e.key.id, []byte(e.baseline))
		}
		if err != nil || !ok {
			return ok, 0, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = ?`, e.key.id); err != nil {
			return false, 0, fmt.Errorf("clear order items: %w", err)
		}
		for i, item := range o.Items {
			if err := insertItem(ctx, tx, e.key.id, i, item); err != nil {
				return false, 0, err
			}
		}
		return true, 0, nil
	}
	return true, 0, nil
}

func insertItem(ctx context.Context, tx *sql.Tx, orderID int64, position int, item domain.OrderItem) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO order_items (order_id, product_id, position, quantity) VALUES (?, ?, ?, ?)`,
		orderID, item.ProductID, position, item.Quantity)
	if err != nil {
		return fmt.Errorf("insert order item: %w", err)
	}
	return nil
}

func execAffected(ctx context.Context, tx *sql.Tx, query string, args ...any) (bool, int64, error) {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, 0, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, 0, err
	}
	return rows > 0, 0, nil
}

// latestConflict reads the stored state of a record whose version check
// failed. A missing row yields a conflict with no latest value.
func latestConflict(ctx context.Context, q queryer, e *entry) (*port.ConflictEntry, error) {
	switch e.key.kind {
	case port.EntityProduct:
		p, err := queryProduct(ctx, q, `WHERE id = ?`, e.key.id)
		if err != nil {
			return nil, err
		}
		if p == nil {
			c := conflictFor(e, nil, nil)
			return &c, nil
		}
		c := conflictFor(e, *p, p.Version)
		return &c, nil
	default:
		o, err := queryOrder(ctx, q, e.key.id)
		if err != nil {
			return nil, err
		}
		if o == nil {
			c := conflictFor(e, nil, nil)
			return &c, nil
		}
		c := conflictFor(e, *o, o.Version)
		return &c, nil
	}
}

// classify turns driver rejections into *port.PersistenceError.
func classify(err error) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlErrDuplicateEntry, mysqlErrNoReferencedRow, mysqlErrRowIsReferenced,
			mysqlErrCheckConstraint, mysqlErrDataOutOfRange, mysqlErrTruncatedValue:
			return &port.PersistenceError{Op: "commit", Err: err}
		}
	}
	return err
}

func queryProduct(ctx context.Context, q queryer, where string, arg any) (*domain.Product, error) {
	var p domain.Product
	var version []byte
	err := q.QueryRowContext(ctx,
		`SELECT id, name, price, stock, version FROM products `+where, arg,
	).Scan(&p.ID, &p.Name, &p.Price, &p.StockQuantity, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	p.Version = domain.Version(version)
	return &p, nil
}

func queryOrder(ctx context.Context, q queryer, id int64) (*domain.Order, error) {
	var o domain.Order
	var status string
	var version []byte
	err := q.QueryRowContext(ctx,
		`SELECT id, order_date, status, version FROM orders WHERE id = ?`, id,
	).Scan(&o.ID, &o.OrderDate, &status, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	o.Status = domain.OrderStatus(status)
	o.Version = domain.Version(version)

	items, err := queryItems(ctx, q, id)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return &o, nil
}

func queryOrders(ctx context.Context, q queryer, query string, args ...any) ([]domain.Order, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}

	var out []domain.Order
	for rows.Next() {
		var o domain.Order
		var status string
		var version []byte
		if err := rows.Scan(&o.ID, &o.OrderDate, &status, &version); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Status = domain.OrderStatus(status)
		o.Version = domain.Version(version)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range out {
		items, err := queryItems(ctx, q, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Items = items
	}
	return out, nil
}

func queryItems(ctx context.Context, q queryer, orderID int64) ([]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT order_id, product_id, quantity FROM order_items WHERE order_id = ? ORDER BY position`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.OrderID, &item.ProductID, &item.Quantity); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
