package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/andresuchdata/fulfillops/backend-go/internal/domain"
	"github.com/andresuchdata/fulfillops/backend-go/internal/repository"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const orderColumns = `
	o.id, o.external_order_id, o.channel, o.status, o.subtotal, o.discount,
	o.shipping_fee, o.grand_total, o.fulfillment_location, o.ordered_at, o.returned_at,
	o.return_reason, o.return_note, o.return_verified, o.return_verification_notes,
	o.return_verified_at, o.updated_at`

type orderRow struct {
	ID                      string         `db:"id"`
	ExternalOrderID         sql.NullString `db:"external_order_id"`
	Channel                 string         `db:"channel"`
	Status                  string         `db:"status"`
	Subtotal                float64        `db:"subtotal"`
	Discount                float64        `db:"discount"`
	ShippingFee             float64        `db:"shipping_fee"`
	GrandTotal              float64        `db:"grand_total"`
	FulfillmentLocation     string         `db:"fulfillment_location"`
	OrderedAt               time.Time      `db:"ordered_at"`
	ReturnedAt              sql.NullTime   `db:"returned_at"`
	ReturnReason            sql.NullString `db:"return_reason"`
	ReturnNote              sql.NullString `db:"return_note"`
	ReturnVerified          bool           `db:"return_verified"`
	ReturnVerificationNotes sql.NullString `db:"return_verification_notes"`
	ReturnVerifiedAt        sql.NullTime   `db:"return_verified_at"`
	UpdatedAt               time.Time      `db:"updated_at"`
}

type itemRow struct {
	OrderID          string  `db:"order_id"`
	LineNo           int     `db:"line_no"`
	SKU              string  `db:"sku"`
	Quantity         int     `db:"quantity"`
	UnitPrice        float64 `db:"unit_price"`
	LineTotal        float64 `db:"line_total"`
	ReturnedQuantity int     `db:"returned_quantity"`
}

func (r orderRow) toDomain() *domain.Order {
	o := &domain.Order{
		ID:                  r.ID,
		Channel:             domain.Channel(r.Channel),
		Status:              domain.Status(r.Status),
		Subtotal:            r.Subtotal,
		Discount:            r.Discount,
		ShippingFee:         r.ShippingFee,
		GrandTotal:          r.GrandTotal,
		FulfillmentLocation: r.FulfillmentLocation,
		OrderedAt:           r.OrderedAt,
		UpdatedAt:           r.UpdatedAt,
	}
	if r.ExternalOrderID.Valid {
		v := r.ExternalOrderID.String
		o.ExternalOrderID = &v
	}
	if r.ReturnedAt.Valid {
		v := r.ReturnedAt.Time
		o.ReturnedAt = &v
	}
	if r.ReturnReason.Valid || r.ReturnVerified || r.ReturnVerifiedAt.Valid {
		o.Return = &domain.ReturnInfo{
			Reason:            r.ReturnReason.String,
			Note:              r.ReturnNote.String,
			Verified:          r.ReturnVerified,
			VerificationNotes: r.ReturnVerificationNotes.String,
		}
		if r.ReturnVerifiedAt.Valid {
			v := r.ReturnVerifiedAt.Time
			o.Return.VerifiedAt = &v
		}
	}
	return o
}

// isUniqueViolation recognises 23505 from both lib/pq and the pgx stdlib driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

type orderRepository struct {
	store *Store
}

func (r *orderRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	if err := order.ValidateLines(); err != nil {
		return err
	}
	return r.store.WithinTx(ctx, func(tx repository.Store) error {
		q := tx.(*Store).q
		_, err := q.ExecContext(ctx, `
			INSERT INTO orders (
				id, external_order_id, channel, status, subtotal, discount,
				shipping_fee, grand_total, fulfillment_location, ordered_at, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())`,
			order.ID, order.ExternalOrderID, string(order.Channel), string(order.Status),
			order.Subtotal, order.Discount, order.ShippingFee, order.GrandTotal,
			order.FulfillmentLocation, order.OrderedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.Conflict("order %s already exists", order.ID).ForOrder(order.ID)
			}
			return fmt.Errorf("failed to insert order: %w", err)
		}

		for i, item := range order.Items {
			_, err := q.ExecContext(ctx, `
				INSERT INTO order_items (
					order_id, line_no, sku, quantity, unit_price, line_total, returned_quantity
				) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				order.ID, i+1, item.SKU, item.Quantity, item.UnitPrice, item.LineTotal, item.ReturnedQuantity,
			)
			if err != nil {
				return fmt.Errorf("failed to insert order item: %w", err)
			}
		}
		return nil
	})
}

func (r *orderRepository) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	var row orderRow
	query := `SELECT ` + orderColumns + ` FROM orders o WHERE o.id = $1`
	if err := sqlx.GetContext(ctx, r.store.q, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.OrderNotFound(id)
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	order := row.toDomain()
	items, err := r.loadItems(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	order.Items = items[id]
	return order, nil
}

func (r *orderRepository) GetOrders(ctx context.Context, ids []string) ([]*domain.Order, error) {
	if len(ids) == 0 {
		return []*domain.Order{}, nil
	}

	var rows []orderRow
	query := `SELECT ` + orderColumns + ` FROM orders o WHERE o.id = ANY($1)`
	if err := sqlx.SelectContext(ctx, r.store.q, &rows, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to get orders: %w", err)
	}

	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*domain.Order, len(rows))
	for _, row := range rows {
		o := row.toDomain()
		o.Items = items[o.ID]
		byID[o.ID] = o
	}

	orders := make([]*domain.Order, 0, len(rows))
	for _, id := range ids {
		if o, ok := byID[id]; ok {
			orders = append(orders, o)
		}
	}
	return orders, nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderIDs []string) (map[string][]domain.LineItem, error) {
	var rows []itemRow
	query := `
		SELECT order_id, line_no, sku, quantity, unit_price, line_total, returned_quantity
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, line_no`
	if err := sqlx.SelectContext(ctx, r.store.q, &rows, query, pq.Array(orderIDs)); err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}

	items := make(map[string][]domain.LineItem, len(orderIDs))
	for _, row := range rows {
		items[row.OrderID] = append(items[row.OrderID], domain.LineItem{
			SKU:              row.SKU,
			Quantity:         row.Quantity,
			UnitPrice:        row.UnitPrice,
			LineTotal:        row.LineTotal,
			ReturnedQuantity: row.ReturnedQuantity,
		})
	}
	return items, nil
}

func (r *orderRepository) ExistingOrderIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var found []string
	if err := sqlx.SelectContext(ctx, r.store.q, &found, `SELECT id FROM orders WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to check order ids: %w", err)
	}
	for _, id := range found {
		out[id] = true
	}
	return out, nil
}

func (r *orderRepository) ListOrderRefs(ctx context.Context, filter domain.OrderFilter, after *repository.OrderRef, limit int) ([]repository.OrderRef, int, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}
	where, args, err := buildOrderFilterClause(filter, "o", 1)
	if err != nil {
		return nil, 0, err
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM orders o WHERE 1=1` + where
	if err := sqlx.GetContext(ctx, r.store.q, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	afterClause, afterArgs := buildAfterClause(after, "o", len(args)+1)
	pageArgs := append(append([]interface{}{}, args...), afterArgs...)
	query := `SELECT o.id, o.ordered_at FROM orders o WHERE 1=1` + where + afterClause +
		` ORDER BY o.ordered_at ASC, o.id ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(pageArgs)+1)
		pageArgs = append(pageArgs, limit)
	}

	var refs []repository.OrderRef
	if err := sqlx.SelectContext(ctx, r.store.q, &refs, query, pageArgs...); err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	return refs, total, nil
}

func (r *orderRepository) UpdateOrderStatus(ctx context.Context, id string, next, expected domain.Status) error {
	res, err := r.store.q.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`,
		string(next), id, string(expected),
	)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var current string
	if err := sqlx.GetContext(ctx, r.store.q, &current, `SELECT status FROM orders WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.OrderNotFound(id)
		}
		return fmt.Errorf("failed to re-read order status: %w", err)
	}
	return domain.Conflict("order status is %s, expected %s", current, expected).ForOrder(id)
}

func (r *orderRepository) RecordReturn(ctx context.Context, id string, info domain.ReturnInfo, returnedAt time.Time, returnedBySKU map[string]int) error {
	res, err := r.store.q.ExecContext(ctx, `
		UPDATE orders
		SET return_reason = $2, return_note = $3, returned_at = $4,
		    return_verified = FALSE, return_verification_notes = NULL, return_verified_at = NULL,
		    updated_at = NOW()
		WHERE id = $1`,
		id, info.Reason, info.Note, returnedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record return: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return domain.OrderNotFound(id)
	}

	for sku, qty := range returnedBySKU {
		if err := r.addReturnedQuantity(ctx, id, sku, qty); err != nil {
			return err
		}
	}
	return nil
}

// addReturnedQuantity spreads qty over the order's lines for sku, first line first.
func (r *orderRepository) addReturnedQuantity(ctx context.Context, orderID, sku string, qty int) error {
	var lines []itemRow
	query := `
		SELECT order_id, line_no, sku, quantity, unit_price, line_total, returned_quantity
		FROM order_items
		WHERE order_id = $1 AND sku = $2
		ORDER BY line_no
		FOR UPDATE`
	if err := sqlx.SelectContext(ctx, r.store.q, &lines, query, orderID, sku); err != nil {
		return fmt.Errorf("failed to lock order items: %w", err)
	}

	remaining := qty
	for _, line := range lines {
		if remaining == 0 {
			break
		}
		take := line.Quantity - line.ReturnedQuantity
		if take > remaining {
			take = remaining
		}
		if take <= 0 {
			continue
		}
		if _, err := r.store.q.ExecContext(ctx,
			`UPDATE order_items SET returned_quantity = returned_quantity + $3 WHERE order_id = $1 AND line_no = $2`,
			orderID, line.LineNo, take,
		); err != nil {
			return fmt.Errorf("failed to update returned quantity: %w", err)
		}
		remaining -= take
	}
	if remaining > 0 {
		return fmt.Errorf("record return: %d units of %s exceed returnable quantity", remaining, sku)
	}
	return nil
}

func (r *orderRepository) SetReturnVerification(ctx context.Context, id string, verified bool, notes string, at time.Time) error {
	res, err := r.store.q.ExecContext(ctx, `
		UPDATE orders
		SET return_verified = $2, return_verification_notes = $3, return_verified_at = $4, updated_at = NOW()
		WHERE id = $1`,
		id, verified, notes, at,
	)
	if err != nil {
		return fmt.Errorf("failed to set return verification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return domain.OrderNotFound(id)
	}
	return nil
}
