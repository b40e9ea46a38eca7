package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"order-saga-service/internal/errs"
	"order-saga-service/internal/models"
	"order-saga-service/internal/service"
)

// Memory is an in-process implementation of the service contracts, used for
// local runs without Postgres and by the unit tests. Per-product mutexes
// serialize reserve/commit/release/sweep on the same product while leaving
// cross-product operations parallel, matching the row-lock discipline of
// the SQL store.
type Memory struct {
	mu        sync.RWMutex
	products  map[int64]*productState
	resIndex  map[string]int64
	orders    map[string]*models.Order
	orderIDs  []string
	payments  map[string]*models.Payment
	payIDs    []string
	txns      map[string][]models.PaymentTransaction
	txnSeq    int64
	itemSeq   int64
	sagas     map[string][]byte
	sagaIDs   []string
	users     map[int64]models.User
	processed map[string]string
}

// productState holds one product's counters and active reservations. Its
// mutex is the per-product critical section: a reservation is resolved by
// deleting it from the map, so exactly one of commit/release/sweep wins.
type productState struct {
	mu           sync.Mutex
	total        int
	reserved     int
	updatedAt    time.Time
	reservations map[string]models.StockReservation
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		products:  make(map[int64]*productState),
		resIndex:  make(map[string]int64),
		orders:    make(map[string]*models.Order),
		payments:  make(map[string]*models.Payment),
		txns:      make(map[string][]models.PaymentTransaction),
		sagas:     make(map[string][]byte),
		users:     make(map[int64]models.User),
		processed: make(map[string]string),
	}
}

var _ service.Store = (*Memory)(nil)

// PutStock creates or replaces a product's stock record
func (m *Memory) PutStock(productID int64, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[productID] = &productState{
		total:        total,
		updatedAt:    time.Now(),
		reservations: make(map[string]models.StockReservation),
	}
}

// PutUser registers a user for the validation capability
func (m *Memory) PutUser(user models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
}

func (m *Memory) product(productID int64) *productState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.products[productID]
}

// GetStock retrieves a product's stock counters
func (m *Memory) GetStock(ctx context.Context, productID int64) (*models.Stock, error) {
	p := m.product(productID)
	if p == nil {
		return nil, errs.NotFound("product", productID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return &models.Stock{
		ProductID: productID,
		Total:     p.total,
		Reserved:  p.reserved,
		UpdatedAt: p.updatedAt,
	}, nil
}

// CreateReservation checks availability and records the hold atomically
func (m *Memory) CreateReservation(ctx context.Context, res *models.StockReservation) error {
	p := m.product(res.ProductID)
	if p == nil {
		return errs.NotFound("product", res.ProductID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	available := p.total - p.reserved
	if available < res.Quantity {
		return fmt.Errorf("%w: product %d: available=%d, requested=%d",
			errs.ErrInsufficientStock, res.ProductID, available, res.Quantity)
	}

	res.CreatedAt = time.Now()
	p.reserved += res.Quantity
	p.updatedAt = res.CreatedAt
	p.reservations[res.ID] = *res

	m.mu.Lock()
	m.resIndex[res.ID] = res.ProductID
	m.mu.Unlock()
	return nil
}

// CommitReservation permanently consumes the held stock
func (m *Memory) CommitReservation(ctx context.Context, reservationID string) (*models.StockReservation, error) {
	p, err := m.productForReservation(reservationID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	res, ok := p.reservations[reservationID]
	if !ok {
		return nil, errs.NotFound("reservation", reservationID)
	}
	if res.ExpiresAt.Before(time.Now()) {
		// Left in place for the sweeper.
		return nil, fmt.Errorf("%w: reservation %s", errs.ErrReservationExpired, reservationID)
	}

	p.total -= res.Quantity
	p.reserved -= res.Quantity
	p.updatedAt = time.Now()
	m.dropReservation(p, reservationID)
	return &res, nil
}

// ReleaseReservation returns the held stock to the available pool
func (m *Memory) ReleaseReservation(ctx context.Context, reservationID string) (*models.StockReservation, error) {
	p, err := m.productForReservation(reservationID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	res, ok := p.reservations[reservationID]
	if !ok {
		return nil, errs.NotFound("reservation", reservationID)
	}

	p.reserved -= res.Quantity
	p.updatedAt = time.Now()
	m.dropReservation(p, reservationID)
	return &res, nil
}

// SweepExpiredReservations releases every reservation expired before now
func (m *Memory) SweepExpiredReservations(ctx context.Context, now time.Time) ([]models.StockReservation, error) {
	m.mu.RLock()
	products := make([]*productState, 0, len(m.products))
	for _, p := range m.products {
		products = append(products, p)
	}
	m.mu.RUnlock()

	var swept []models.StockReservation
	for _, p := range products {
		p.mu.Lock()
		for id, res := range p.reservations {
			if res.ExpiresAt.Before(now) {
				p.reserved -= res.Quantity
				p.updatedAt = time.Now()
				m.dropReservation(p, id)
				swept = append(swept, res)
			}
		}
		p.mu.Unlock()
	}
	return swept, nil
}

// Restock re-adds committed quantity to a product's total
func (m *Memory) Restock(ctx context.Context, productID int64, quantity int) error {
	p := m.product(productID)
	if p == nil {
		return errs.NotFound("product", productID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total += quantity
	p.updatedAt = time.Now()
	return nil
}

func (m *Memory) productForReservation(reservationID string) (*productState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	productID, ok := m.resIndex[reservationID]
	if !ok {
		return nil, errs.NotFound("reservation", reservationID)
	}
	return m.products[productID], nil
}

// caller holds p.mu
func (m *Memory) dropReservation(p *productState, reservationID string) {
	delete(p.reservations, reservationID)
	m.mu.Lock()
	delete(m.resIndex, reservationID)
	m.mu.Unlock()
}

// CreateOrder stores the order and its items
func (m *Memory) CreateOrder(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.orders[order.ID]; exists {
		return fmt.Errorf("order %s already exists", order.ID)
	}

	now := time.Now()
	order.CreatedAt = now
	order.UpdatedAt = now
	for i := range order.Items {
		m.itemSeq++
		order.Items[i].ID = m.itemSeq
		order.Items[i].OrderID = order.ID
	}

	stored := cloneOrder(order)
	m.orders[order.ID] = stored
	m.orderIDs = append(m.orderIDs, order.ID)
	return nil
}

// GetOrder retrieves an order with its items
func (m *Memory) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, ok := m.orders[orderID]
	if !ok {
		return nil, errs.NotFound("order", orderID)
	}
	return cloneOrder(order), nil
}

// ListOrders retrieves all orders, newest first
func (m *Memory) ListOrders(ctx context.Context) ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	orders := make([]models.Order, 0, len(m.orderIDs))
	for i := len(m.orderIDs) - 1; i >= 0; i-- {
		orders = append(orders, *cloneOrder(m.orders[m.orderIDs[i]]))
	}
	return orders, nil
}

// ListOrdersByUser retrieves a user's orders, newest first
func (m *Memory) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var orders []models.Order
	for i := len(m.orderIDs) - 1; i >= 0; i-- {
		if order := m.orders[m.orderIDs[i]]; order.UserID == userID {
			orders = append(orders, *cloneOrder(order))
		}
	}
	return orders, nil
}

// UpdateOrderStatus updates status and, when set, the payment id
func (m *Memory) UpdateOrderStatus(ctx context.Context, orderID, status, paymentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return errs.NotFound("order", orderID)
	}
	order.Status = status
	if paymentID != "" {
		order.PaymentID = paymentID
	}
	order.UpdatedAt = time.Now()
	return nil
}

// SetItemReservation records an item's reservation id
func (m *Memory) SetItemReservation(ctx context.Context, orderID string, productID int64, reservationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return errs.NotFound("order", orderID)
	}
	for i := range order.Items {
		if order.Items[i].ProductID == productID {
			order.Items[i].ReservationID = reservationID
		}
	}
	return nil
}

// CreatePayment stores a new payment
func (m *Memory) CreatePayment(ctx context.Context, payment *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	payment.CreatedAt = now
	payment.UpdatedAt = now

	stored := *payment
	m.payments[payment.ID] = &stored
	m.payIDs = append(m.payIDs, payment.ID)
	return nil
}

// GetPayment retrieves a payment with its transaction history
func (m *Memory) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	payment, ok := m.payments[paymentID]
	if !ok {
		return nil, errs.NotFound("payment", paymentID)
	}
	out := *payment
	out.Transactions = append([]models.PaymentTransaction(nil), m.txns[paymentID]...)
	return &out, nil
}

// ListPayments retrieves all payments, newest first
func (m *Memory) ListPayments(ctx context.Context) ([]models.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	payments := make([]models.Payment, 0, len(m.payIDs))
	for i := len(m.payIDs) - 1; i >= 0; i-- {
		payments = append(payments, *m.payments[m.payIDs[i]])
	}
	return payments, nil
}

// ListPaymentsByOrder retrieves payments for an order, oldest first
func (m *Memory) ListPaymentsByOrder(ctx context.Context, orderID string) ([]models.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var payments []models.Payment
	for _, id := range m.payIDs {
		if p := m.payments[id]; p.OrderID == orderID {
			payments = append(payments, *p)
		}
	}
	return payments, nil
}

// UpdatePaymentStatus applies a status transition's fields
func (m *Memory) UpdatePaymentStatus(ctx context.Context, paymentID, status string, upd service.PaymentUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	payment, ok := m.payments[paymentID]
	if !ok {
		return errs.NotFound("payment", paymentID)
	}
	payment.Status = status
	if upd.AuthorizationID != "" {
		payment.AuthorizationID = upd.AuthorizationID
	}
	if upd.CaptureID != "" {
		payment.CaptureID = upd.CaptureID
	}
	if upd.FailureReason != "" {
		payment.FailureReason = upd.FailureReason
	}
	payment.UpdatedAt = time.Now()
	return nil
}

// AddTransaction appends an immutable gateway attempt record
func (m *Memory) AddTransaction(ctx context.Context, txn *models.PaymentTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.txnSeq++
	txn.ID = m.txnSeq
	txn.CreatedAt = time.Now()
	m.txns[txn.PaymentID] = append(m.txns[txn.PaymentID], *txn)
	return nil
}

// ListTransactions retrieves a payment's transaction history, oldest first
func (m *Memory) ListTransactions(ctx context.Context, paymentID string) ([]models.PaymentTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.PaymentTransaction(nil), m.txns[paymentID]...), nil
}

// SaveSagaState upserts the saga record. State round-trips through JSON so
// resume paths exercise the same serialization as the SQL store.
func (m *Memory) SaveSagaState(ctx context.Context, state *models.SagaState) error {
	state.UpdatedAt = time.Now()
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode saga state: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sagas[state.OrderID]; !exists {
		m.sagaIDs = append(m.sagaIDs, state.OrderID)
	}
	m.sagas[state.OrderID] = raw
	return nil
}

// GetSagaState loads the saga record for an order
func (m *Memory) GetSagaState(ctx context.Context, orderID string) (*models.SagaState, error) {
	m.mu.RLock()
	raw, ok := m.sagas[orderID]
	m.mu.RUnlock()
	if !ok {
		return nil, errs.NotFound("saga state", orderID)
	}

	var state models.SagaState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to decode saga state: %w", err)
	}
	return &state, nil
}

// DeleteSagaState retires a concluded saga's record
func (m *Memory) DeleteSagaState(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sagas, orderID)
	for i, id := range m.sagaIDs {
		if id == orderID {
			m.sagaIDs = append(m.sagaIDs[:i], m.sagaIDs[i+1:]...)
			break
		}
	}
	return nil
}

// ListSagaOrderIDs returns order ids of all live saga records
func (m *Memory) ListSagaOrderIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := append([]string(nil), m.sagaIDs...)
	sort.Strings(ids)
	return ids, nil
}

// GetUserByID retrieves a user for the validation capability
func (m *Memory) GetUserByID(ctx context.Context, userID int64) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[userID]
	if !ok {
		return nil, errs.NotFound("user", userID)
	}
	return &user, nil
}

// IsEventProcessed checks if an event id was already handled
func (m *Memory) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.processed[eventID]
	return ok, nil
}

// MarkEventProcessed records a handled event id
func (m *Memory) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[eventID] = eventType
	return nil
}

func cloneOrder(order *models.Order) *models.Order {
	out := *order
	out.Items = append([]models.OrderItem(nil), order.Items...)
	if order.Metadata != nil {
		out.Metadata = make(map[string]string, len(order.Metadata))
		for k, v := range order.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
