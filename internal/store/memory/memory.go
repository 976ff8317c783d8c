package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"kasastok/backend/internal/domain"
	"kasastok/backend/internal/store"
)

// Store keeps everything in process. A unit of work holds the write lock for
// its whole duration and stages its writes, so concurrent sales against the
// same product observe each other's committed stock and never a partial one.
type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	sales           []domain.Sale
	movements       []domain.StockMovement
	cashEntries     []domain.CashEntry
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		sales:           make([]domain.Sale, 0, 64),
		movements:       make([]domain.StockMovement, 0, 128),
		cashEntries:     make([]domain.CashEntry, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the dev/demo accounts. Passwords come from
// SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and SEED_CASHIER_PASSWORD and
// fall back to dev defaults with a warning.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		fullName string
		role     string
	}{
		{"admin", adminPwd, "Store Owner", domain.RoleAdmin},
		{"manager", managerPwd, "Shift Manager", domain.RoleManager},
		{"cashier", cashierPwd, "Front Counter", domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			FullName:  u.fullName,
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with a small demo catalog and the dev accounts.
func NewSeeded() *Store {
	s := New()
	for _, p := range []domain.Product{
		{ID: "prd-rice-5kg", Name: "Rice 5kg", Category: "grocery", Barcode: "7891000100103", CostPrice: money("18.50"), SalePrice: money("24.90"), Stock: 40, Unit: "bag"},
		{ID: "prd-beans-1kg", Name: "Black Beans 1kg", Category: "grocery", Barcode: "7891000200209", CostPrice: money("5.20"), SalePrice: money("7.99"), Stock: 60, Unit: "pack"},
		{ID: "prd-coffee-500g", Name: "Ground Coffee 500g", Category: "beverage", Barcode: "7891000300305", CostPrice: money("11.00"), SalePrice: money("16.50"), Stock: 25, Unit: "pack"},
		{ID: "prd-milk-1l", Name: "Whole Milk 1L", Category: "dairy", Barcode: "7891000400401", CostPrice: money("3.10"), SalePrice: money("4.79"), Stock: 48, Unit: "carton", HasExpiration: true, ExpirationDate: timePtr(time.Now().UTC().AddDate(0, 0, 21))},
		{ID: "prd-cheese-kg", Name: "Mozzarella (kg)", Category: "dairy", Barcode: "2000000000015", CostPrice: money("29.90"), SalePrice: money("42.90"), Stock: 7.5, Unit: "kg", HasExpiration: true, ExpirationDate: timePtr(time.Now().UTC().AddDate(0, 0, 14))},
		{ID: "prd-bananas-kg", Name: "Bananas (kg)", Category: "produce", Barcode: "2000000000022", CostPrice: money("2.40"), SalePrice: money("4.49"), Stock: 18.25, Unit: "kg"},
		{ID: "prd-soap-90g", Name: "Bar Soap 90g", Category: "household", Barcode: "7891000500507", CostPrice: money("1.05"), SalePrice: money("2.29"), Stock: 120, Unit: "unit"},
		{ID: "prd-detergent-500ml", Name: "Dish Detergent 500ml", Category: "household", Barcode: "7891000600603", CostPrice: money("1.80"), SalePrice: money("3.19"), Stock: 36, Unit: "bottle"},
	} {
		s.products[p.ID] = p
	}
	s.usersByUsername = seedUsers()
	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, cloneProduct(p))
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	found := cloneProduct(product)
	return &found, nil
}

func (s *Store) GetProductByBarcode(_ context.Context, barcode string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if barcode == "" {
		return nil, store.ErrNotFound
	}
	for _, p := range s.products {
		if p.Barcode == barcode {
			found := cloneProduct(p)
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.products[product.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if barcodeTaken(s.products, nil, product.Barcode, product.ID) {
		return nil, store.ErrDuplicate
	}

	product.Stock = existing.Stock
	s.products[product.ID] = cloneProduct(product)
	updated := cloneProduct(product)
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[id]; !exists {
		return store.ErrNotFound
	}
	for _, sale := range s.sales {
		for _, item := range sale.Items {
			if item.ProductID == id {
				return store.ErrReferenced
			}
		}
	}
	for _, m := range s.movements {
		if m.ProductID == id {
			return store.ErrReferenced
		}
	}
	delete(s.products, id)
	return nil
}

func (s *Store) ListSales(_ context.Context, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = clampLimit(limit, len(s.sales))
	sales := make([]domain.Sale, 0, limit)
	for i := len(s.sales) - 1; i >= 0 && len(sales) < limit; i-- {
		sales = append(sales, cloneSale(s.sales[i]))
	}
	return sales, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sale := range s.sales {
		if sale.ID == id {
			found := cloneSale(sale)
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListStockMovements(_ context.Context, filter domain.MovementFilter) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := clampLimit(filter.Limit, len(s.movements))
	movements := make([]domain.StockMovement, 0, limit)
	for i := len(s.movements) - 1; i >= 0 && len(movements) < limit; i-- {
		m := s.movements[i]
		if filter.ProductID != "" && m.ProductID != filter.ProductID {
			continue
		}
		movements = append(movements, m)
	}
	return movements, nil
}

func (s *Store) ListCashEntries(_ context.Context, filter domain.CashFilter) ([]domain.CashEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := clampLimit(filter.Limit, len(s.cashEntries))
	entries := make([]domain.CashEntry, 0, limit)
	for i := len(s.cashEntries) - 1; i >= 0 && len(entries) < limit; i-- {
		e := s.cashEntries[i]
		if !inRange(e.CreatedAt, filter.From, filter.To) {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *Store) GetCashTotals(_ context.Context, from time.Time, to time.Time) (domain.CashTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := domain.CashTotals{Income: decimal.Zero, Expense: decimal.Zero}
	for _, e := range s.cashEntries {
		if !inRange(e.CreatedAt, from, to) {
			continue
		}
		switch e.Type {
		case domain.LedgerIncome:
			totals.Income = totals.Income.Add(e.Amount)
		case domain.LedgerExpense:
			totals.Expense = totals.Expense.Add(e.Amount)
		}
	}
	return totals, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return fmt.Errorf("username and password are required")
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrDuplicate
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	if strings.TrimSpace(password) == "" {
		return fmt.Errorf("password is required")
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		base:     s,
		products: make(map[string]domain.Product),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	// Cancellation is honoured up to the commit point, never after it.
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.apply()
	return nil
}

// memTx stages writes on top of the base maps. apply is the commit.
type memTx struct {
	base      *Store
	products  map[string]domain.Product
	sales     []domain.Sale
	movements []domain.StockMovement
	cash      []domain.CashEntry
}

func (t *memTx) lookup(id string) (domain.Product, bool) {
	if p, ok := t.products[id]; ok {
		return p, true
	}
	p, ok := t.base.products[id]
	return p, ok
}

func (t *memTx) GetProductForUpdate(_ context.Context, id string) (*domain.Product, error) {
	product, ok := t.lookup(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	found := cloneProduct(product)
	return &found, nil
}

func (t *memTx) SetProductStock(_ context.Context, id string, stock float64) error {
	product, ok := t.lookup(id)
	if !ok {
		return store.ErrNotFound
	}
	if stock < 0 {
		return fmt.Errorf("stock for %s would become negative", id)
	}
	product.Stock = stock
	t.products[id] = product
	return nil
}

func (t *memTx) InsertProduct(_ context.Context, product domain.Product) error {
	if _, exists := t.lookup(product.ID); exists {
		return store.ErrDuplicate
	}
	if barcodeTaken(t.base.products, t.products, product.Barcode, product.ID) {
		return store.ErrDuplicate
	}
	t.products[product.ID] = cloneProduct(product)
	return nil
}

func (t *memTx) InsertSale(_ context.Context, sale domain.Sale) error {
	t.sales = append(t.sales, cloneSale(sale))
	return nil
}

func (t *memTx) InsertStockMovement(_ context.Context, movement domain.StockMovement) error {
	if _, ok := t.lookup(movement.ProductID); !ok {
		return store.ErrNotFound
	}
	t.movements = append(t.movements, movement)
	return nil
}

func (t *memTx) InsertCashEntry(_ context.Context, entry domain.CashEntry) error {
	t.cash = append(t.cash, entry)
	return nil
}

func (t *memTx) apply() {
	for id, p := range t.products {
		t.base.products[id] = p
	}
	t.base.sales = append(t.base.sales, t.sales...)
	t.base.movements = append(t.base.movements, t.movements...)
	t.base.cashEntries = append(t.base.cashEntries, t.cash...)
}

func barcodeTaken(base map[string]domain.Product, staged map[string]domain.Product, barcode string, selfID string) bool {
	if barcode == "" {
		return false
	}
	for _, products := range []map[string]domain.Product{base, staged} {
		for id, p := range products {
			if id != selfID && p.Barcode == barcode {
				return true
			}
		}
	}
	return false
}

// clampLimit treats a non-positive limit as unbounded.
func clampLimit(limit int, size int) int {
	if limit < 1 || limit > size {
		return size
	}
	return limit
}

func inRange(at time.Time, from time.Time, to time.Time) bool {
	if !from.IsZero() && at.Before(from) {
		return false
	}
	if !to.IsZero() && !at.Before(to) {
		return false
	}
	return true
}

func cloneProduct(src domain.Product) domain.Product {
	dst := src
	if src.ExpirationDate != nil {
		dst.ExpirationDate = timePtr(*src.ExpirationDate)
	}
	return dst
}

func cloneSale(src domain.Sale) domain.Sale {
	dst := src
	dst.Items = slices.Clone(src.Items)
	return dst
}

func money(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func timePtr(t time.Time) *time.Time {
	return &t
}
