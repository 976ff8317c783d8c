package postgres

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"kasastok/backend/internal/domain"
	"kasastok/backend/internal/store"
)

const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

type Store struct {
	pool        *pgxpool.Pool
	maxAttempts int
}

// New opens a pool and pings it. maxAttempts bounds how many times a unit of
// work is replayed after a serialization failure or deadlock.
func New(ctx context.Context, databaseURL string, maxAttempts int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	cfg.MaxConns = 30
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Store{pool: pool, maxAttempts: maxAttempts}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const productColumns = `id, name, category, COALESCE(barcode, ''), cost_price, sale_price, stock, unit, expiration_date`

func scanProduct(row pgx.Row) (*domain.Product, error) {
	var p domain.Product
	if err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Barcode, &p.CostPrice, &p.SalePrice, &p.Stock, &p.Unit, &p.ExpirationDate); err != nil {
		return nil, err
	}
	p.HasExpiration = p.ExpirationDate != nil
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY category, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return p, err
}

func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	if barcode == "" {
		return nil, store.ErrNotFound
	}
	p, err := scanProduct(s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE barcode = $1`, barcode))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return p, err
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	updated, err := scanProduct(s.pool.QueryRow(ctx, `
		UPDATE products
		SET name = $2, category = $3, barcode = $4, cost_price = $5, sale_price = $6,
			unit = $7, expiration_date = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING `+productColumns,
		product.ID, product.Name, product.Category, nullIfEmpty(product.Barcode),
		product.CostPrice, product.SalePrice, product.Unit, product.ExpirationDate,
	))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, store.ErrNotFound
	case isPgCode(err, codeUniqueViolation):
		return nil, store.ErrDuplicate
	case err != nil:
		return nil, err
	}
	return updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if isPgCode(err, codeForeignKeyViolation) {
		return store.ErrReferenced
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, created_at, payment_type, note, subtotal
		FROM sales
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, nullLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	index := map[string]int{}
	ids := make([]string, 0, 64)
	for rows.Next() {
		var sale domain.Sale
		if err := rows.Scan(&sale.ID, &sale.CreatedAt, &sale.PaymentType, &sale.Note, &sale.Subtotal); err != nil {
			return nil, err
		}
		sale.CreatedAt = sale.CreatedAt.UTC()
		sale.Items = []domain.SaleItem{}
		index[sale.ID] = len(sales)
		ids = append(ids, sale.ID)
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return sales, nil
	}

	items, err := s.saleItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		i := index[item.SaleID]
		sales[i].Items = append(sales[i].Items, item)
	}
	return sales, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	var sale domain.Sale
	err := s.pool.QueryRow(ctx, `
		SELECT id, created_at, payment_type, note, subtotal
		FROM sales
		WHERE id = $1
	`, id).Scan(&sale.ID, &sale.CreatedAt, &sale.PaymentType, &sale.Note, &sale.Subtotal)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()

	sale.Items, err = s.saleItems(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) saleItems(ctx context.Context, saleIDs []string) ([]domain.SaleItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, sale_id, product_id, product_name, quantity, unit_price, cost_price, subtotal, profit
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, line_no
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SaleItem, 0, len(saleIDs)*2)
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.ProductName, &item.Quantity,
			&item.UnitPrice, &item.CostPrice, &item.Subtotal, &item.Profit); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) ListStockMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.StockMovement, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, product_id, quantity, unit_price, total, kind, created_at
		FROM stock_movements
		WHERE ($1::text = '' OR product_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, filter.ProductID, nullLimit(filter.Limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, 128)
	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Quantity, &m.UnitPrice, &m.Total, &m.Kind, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (s *Store) ListCashEntries(ctx context.Context, filter domain.CashFilter) ([]domain.CashEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, created_at, amount, type, category, payment_type, description, COALESCE(reference, '')
		FROM cash_entries
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
			AND ($2::timestamptz IS NULL OR created_at < $2)
			AND ($3::text = '' OR type = $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, nullTime(filter.From), nullTime(filter.To), string(filter.Type), nullLimit(filter.Limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.CashEntry, 0, 128)
	for rows.Next() {
		var e domain.CashEntry
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.Amount, &e.Type, &e.Category, &e.PaymentType, &e.Description, &e.Reference); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) GetCashTotals(ctx context.Context, from time.Time, to time.Time) (domain.CashTotals, error) {
	var totals domain.CashTotals
	err := s.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE type = 'income'), 0),
			COALESCE(SUM(amount) FILTER (WHERE type = 'expense'), 0)
		FROM cash_entries
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
			AND ($2::timestamptz IS NULL OR created_at < $2)
	`, nullTime(from), nullTime(to)).Scan(&totals.Income, &totals.Expense)
	return totals, err
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return fmt.Errorf("username and password are required")
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO app_users (username, password, full_name, role, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, true, $5, NOW())
	`, user.Username, user.Password, user.FullName, user.Role, user.CreatedAt)
	if isPgCode(err, codeUniqueViolation) {
		return store.ErrDuplicate
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT username, password, full_name, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.FullName, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if strings.TrimSpace(password) == "" {
		return fmt.Errorf("password is required")
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = NOW()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// WithTx runs fn in a read-committed transaction. Stock rows are locked with
// SELECT ... FOR UPDATE as fn touches them, so concurrent units of work on the
// same product serialize on the row. A serialization failure or deadlock
// replays fn from scratch up to maxAttempts times; after that the caller
// gets store.ErrConflict.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
		log.Printf("[store] WARN: unit of work conflict attempt=%d/%d: %v", attempt, s.maxAttempts, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*attempt) * 10 * time.Millisecond):
		}
	}
	return fmt.Errorf("%w: %w", store.ErrConflict, lastErr)
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetProductForUpdate(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(t.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return p, err
}

func (t *pgTx) SetProductStock(ctx context.Context, id string, stock float64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE products SET stock = $2, updated_at = NOW() WHERE id = $1`, id, stock)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertProduct(ctx context.Context, product domain.Product) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO products (id, name, category, barcode, cost_price, sale_price, stock, unit, expiration_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, product.ID, product.Name, product.Category, nullIfEmpty(product.Barcode),
		product.CostPrice, product.SalePrice, product.Stock, product.Unit, product.ExpirationDate)
	if isPgCode(err, codeUniqueViolation) {
		return store.ErrDuplicate
	}
	return err
}

func (t *pgTx) InsertSale(ctx context.Context, sale domain.Sale) error {
	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO sales (id, created_at, payment_type, note, subtotal)
		VALUES ($1, $2, $3, $4, $5)
	`, sale.ID, sale.CreatedAt, string(sale.PaymentType), sale.Note, sale.Subtotal)
	for i, item := range sale.Items {
		batch.Queue(`
			INSERT INTO sale_items (id, sale_id, line_no, product_id, product_name, quantity, unit_price, cost_price, subtotal, profit)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, item.ID, sale.ID, i+1, item.ProductID, item.ProductName, item.Quantity,
			item.UnitPrice, item.CostPrice, item.Subtotal, item.Profit)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *pgTx) InsertStockMovement(ctx context.Context, m domain.StockMovement) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO stock_movements (id, product_id, quantity, unit_price, total, kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, m.ID, m.ProductID, m.Quantity, m.UnitPrice, m.Total, string(m.Kind), m.CreatedAt)
	if isPgCode(err, codeForeignKeyViolation) {
		return store.ErrNotFound
	}
	return err
}

func (t *pgTx) InsertCashEntry(ctx context.Context, e domain.CashEntry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO cash_entries (id, created_at, amount, type, category, payment_type, description, reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.CreatedAt, e.Amount, string(e.Type), e.Category, string(e.PaymentType), e.Description, nullIfEmpty(e.Reference))
	return err
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isRetryable(err error) bool {
	return isPgCode(err, codeSerializationFailure) || isPgCode(err, codeDeadlockDetected)
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// nullLimit maps a non-positive limit to NULL, which postgres reads as LIMIT ALL.
func nullLimit(limit int) any {
	if limit < 1 {
		return nil
	}
	return limit
}
