// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/reseller-platform/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrOrderNotFound возвращается, если заказ не найден.
var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrAffiliateNotFound возвращается, если партнёр не найден.
	ErrAffiliateNotFound = errors.New("affiliate not found")
	// ErrAffiliateExists возвращается при попытке создать партнёра с занятым кодом.
	ErrAffiliateExists = errors.New("affiliate code already exists")
	// ErrAlreadySettled возвращается, если комиссия по заказу уже проведена.
	ErrAlreadySettled = errors.New("commission already settled")
	// ErrNoAffiliate возвращается, если заказ не удаётся привязать к активному партнёру.
	ErrNoAffiliate = errors.New("no active affiliate for order")
	// ErrClickNotFound возвращается, если неконвертированный клик по коду не найден.
	ErrClickNotFound = errors.New("unconverted click not found")
	// ErrInvalidTransition возвращается при недопустимом переходе статуса заказа.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrTxConflict возвращается после исчерпания повторов транзакции.
	ErrTxConflict = errors.New("transaction conflict")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет транзакцию при сериализационных сбоях и дедлоках.
// После исчерпания бюджета повторов ошибка сводится к ErrTxConflict;
// вызывающий может безопасно повторить операцию целиком.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(250*time.Millisecond))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := fn(); err != nil {
			if isTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})

	if err != nil && isTransient(err) {
		return fmt.Errorf("%w: %s", ErrTxConflict, err)
	}

	return err
}

func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// computeCommission считает комиссию в минимальных единицах валюты.
// Округление до минимальной единицы выполняется один раз, в точке записи.
func computeCommission(base int64, ratePercent float64) int64 {
	return int64(math.Round(float64(base) * ratePercent / 100))
}

// settlementCommission считает комиссию по заказу. Выбор базовой суммы —
// единственное правило Order.CommissionBase.
func settlementCommission(o *model.Order, ratePercent float64) int64 {
	return computeCommission(o.CommissionBase(), ratePercent)
}

// attributionFor определяет способ привязки заказа к партнёру.
func attributionFor(clickID, affiliateCode, discountCode string) model.AttributionMethod {
	switch {
	case clickID != "":
		return model.AttributionServer
	case affiliateCode != "":
		return model.AttributionCookie
	case discountCode != "":
		return model.AttributionDiscount
	default:
		return ""
	}
}

const orderColumns = `id, number, status, subtotal, shipping, tax, discount, total,
	customer_email, customer_name, customer_phone, locale, items,
	affiliate_code, click_id, discount_code, payment_ref,
	affiliate_id, affiliate_commission, attribution_method, conversion_processed,
	provenance, created_at, updated_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o           model.Order
		status      string
		itemsJSON   []byte
		paymentRef  *string
		attribution string
		provenance  string
	)

	err := row.Scan(
		&o.ID, &o.Number, &status,
		&o.Subtotal, &o.Shipping, &o.Tax, &o.Discount, &o.Total,
		&o.Customer.Email, &o.Customer.Name, &o.Customer.Phone, &o.Locale, &itemsJSON,
		&o.AffiliateCode, &o.ClickID, &o.DiscountCode, &paymentRef,
		&o.AffiliateID, &o.AffiliateCommission, &attribution, &o.ConversionProcessed,
		&provenance, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Status = model.OrderStatus(status)
	o.AttributionMethod = model.AttributionMethod(attribution)
	o.Provenance = model.OrderProvenance(provenance)
	if paymentRef != nil {
		o.PaymentRef = *paymentRef
	}

	if len(itemsJSON) > 0 {
		if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
			return nil, fmt.Errorf("decode order items: %w", err)
		}
	}

	return &o, nil
}

// GetOrderByID возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrderByID(ctx context.Context, id string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	return o, nil
}

// GetOrderByPaymentRef возвращает заказ по ссылке на платёж шлюза.
func (r *PostgresRepository) GetOrderByPaymentRef(ctx context.Context, ref string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_ref = $1`, ref)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order by payment ref: %w", err)
	}

	return o, nil
}

// CreateRecoveredOrder сохраняет восстановленный заказ и возвращает итоговый
// идентификатор и признак вставки. Ключ идемпотентности — ссылка на платёж:
// повторная доставка того же события не создаёт второй документ.
func (r *PostgresRepository) CreateRecoveredOrder(ctx context.Context, o *model.Order) (string, bool, error) {
	if o.PaymentRef == "" {
		return "", false, errors.New("recovered order requires payment reference")
	}

	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return "", false, fmt.Errorf("encode order items: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cmdTag, err := tx.Exec(ctx,
		`INSERT INTO orders (id, number, status, subtotal, shipping, tax, discount, total,
			customer_email, customer_name, customer_phone, locale, items,
			affiliate_code, click_id, discount_code, payment_ref, provenance)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		 ON CONFLICT (payment_ref) WHERE payment_ref IS NOT NULL DO NOTHING`,
		o.ID, o.Number, string(o.Status),
		o.Subtotal, o.Shipping, o.Tax, o.Discount, o.Total,
		o.Customer.Email, o.Customer.Name, o.Customer.Phone, o.Locale, itemsJSON,
		o.AffiliateCode, o.ClickID, o.DiscountCode, o.PaymentRef, string(model.ProvenanceRecovered),
	)
	if err != nil {
		return "", false, fmt.Errorf("insert recovered order: %w", err)
	}

	inserted := cmdTag.RowsAffected() == 1

	var existingID string
	err = tx.QueryRow(ctx, `SELECT id FROM orders WHERE payment_ref = $1`, o.PaymentRef).Scan(&existingID)
	if err != nil {
		return "", false, fmt.Errorf("select recovered order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", false, fmt.Errorf("commit tx: %w", err)
	}

	return existingID, inserted, nil
}

// Settlement описывает результат проведения комиссии по заказу.
type Settlement struct {
	OrderID       string
	AffiliateID   string
	AffiliateCode string
	Commission    int64
	Method        model.AttributionMethod
}

// SettleCommission атомарно проводит комиссию партнёра по заказу.
// Внутри одной транзакции: повторное чтение заказа под блокировкой,
// проверка флага conversion_processed, поиск активного партнёра, обновление
// его счётчиков и запись комиссионных полей заказа. Ключ идемпотентности —
// идентификатор заказа; повторный вызов возвращает ErrAlreadySettled.
func (r *PostgresRepository) SettleCommission(ctx context.Context, orderID string) (*Settlement, error) {
	var settlement *Settlement

	err := r.withRetry(ctx, func() error {
		s, err := r.settleCommissionTx(ctx, orderID)
		if err != nil {
			return err
		}
		settlement = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	return settlement, nil
}

func (r *PostgresRepository) settleCommissionTx(ctx context.Context, orderID string) (*Settlement, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		subtotal, total     int64
		affiliateCode       string
		clickID             string
		discountCode        string
		conversionProcessed bool
	)
	err = tx.QueryRow(ctx,
		`SELECT subtotal, total, affiliate_code, click_id, discount_code, conversion_processed
		 FROM orders WHERE id = $1 FOR UPDATE`,
		orderID,
	).Scan(&subtotal, &total, &affiliateCode, &clickID, &discountCode, &conversionProcessed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}

	// Повторная проверка под блокировкой: параллельный вызов мог успеть раньше.
	if conversionProcessed {
		return nil, ErrAlreadySettled
	}

	if affiliateCode == "" {
		return nil, ErrNoAffiliate
	}

	var (
		affiliateID string
		rate        float64
	)
	err = tx.QueryRow(ctx,
		`SELECT id, commission_rate FROM affiliates WHERE code = $1 AND status = $2 FOR UPDATE`,
		affiliateCode, string(model.AffiliateStatusActive),
	).Scan(&affiliateID, &rate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoAffiliate
		}
		return nil, fmt.Errorf("lock affiliate: %w", err)
	}

	commission := settlementCommission(&model.Order{Subtotal: subtotal, Total: total}, rate)

	_, err = tx.Exec(ctx,
		`UPDATE affiliates
		 SET conversions = conversions + 1,
		     total_earnings = total_earnings + $2,
		     balance = balance + $2
		 WHERE id = $1`,
		affiliateID, commission,
	)
	if err != nil {
		return nil, fmt.Errorf("update affiliate stats: %w", err)
	}

	method := attributionFor(clickID, affiliateCode, discountCode)

	_, err = tx.Exec(ctx,
		`UPDATE orders
		 SET affiliate_id = $2,
		     affiliate_commission = $3,
		     attribution_method = $4,
		     conversion_processed = TRUE,
		     updated_at = now()
		 WHERE id = $1`,
		orderID, affiliateID, commission, string(method),
	)
	if err != nil {
		return nil, fmt.Errorf("update order commission: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &Settlement{
		OrderID:       orderID,
		AffiliateID:   affiliateID,
		AffiliateCode: affiliateCode,
		Commission:    commission,
		Method:        method,
	}, nil
}

// MarkClickConverted помечает последний неконвертированный клик партнёра.
// Конвертированные клики неизменяемы, поэтому обновляется только запись
// с converted = FALSE.
func (r *PostgresRepository) MarkClickConverted(ctx context.Context, affiliateCode, orderID string, commission *int64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE affiliate_clicks
		 SET converted = TRUE, order_id = $2, commission = $3
		 WHERE id = (
			SELECT id FROM affiliate_clicks
			WHERE affiliate_code = $1 AND NOT converted
			ORDER BY created_at DESC
			LIMIT 1
		 )`,
		affiliateCode, orderID, commission,
	)
	if err != nil {
		return fmt.Errorf("mark click converted: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return ErrClickNotFound
	}

	return nil
}

// UpdateOrderStatus переводит заказ в новый статус и возвращает обновлённый
// заказ вместе с предыдущим статусом. Совпадающий статус — no-op.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, orderID string, to model.OrderStatus) (*model.Order, model.OrderStatus, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", ErrOrderNotFound
		}
		return nil, "", fmt.Errorf("lock order: %w", err)
	}

	prev := o.Status
	if prev == to {
		if err := tx.Commit(ctx); err != nil {
			return nil, "", fmt.Errorf("commit tx: %w", err)
		}
		return o, prev, nil
	}

	if !model.CanTransition(prev, to) {
		return nil, "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev, to)
	}

	_, err = tx.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`,
		orderID, string(to),
	)
	if err != nil {
		return nil, "", fmt.Errorf("update order status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, "", fmt.Errorf("commit tx: %w", err)
	}

	o.Status = to
	return o, prev, nil
}

// CreateAffiliate создаёт нового партнёра.
func (r *PostgresRepository) CreateAffiliate(ctx context.Context, a *model.Affiliate) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO affiliates (id, code, status, commission_rate, clicks, conversions, total_earnings, balance)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.Code, string(a.Status), a.CommissionRate,
		a.Stats.Clicks, a.Stats.Conversions, a.Stats.TotalEarnings, a.Stats.Balance,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrAffiliateExists, a.Code)
		}
		return fmt.Errorf("create affiliate: %w", err)
	}
	return nil
}

// GetAffiliateByCode возвращает партнёра по коду.
func (r *PostgresRepository) GetAffiliateByCode(ctx context.Context, code string) (*model.Affiliate, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, code, status, commission_rate, clicks, conversions, total_earnings, balance, created_at
		 FROM affiliates WHERE code = $1`,
		code,
	)

	var (
		a      model.Affiliate
		status string
	)
	err := row.Scan(&a.ID, &a.Code, &status, &a.CommissionRate,
		&a.Stats.Clicks, &a.Stats.Conversions, &a.Stats.TotalEarnings, &a.Stats.Balance, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAffiliateNotFound
		}
		return nil, fmt.Errorf("get affiliate: %w", err)
	}

	a.Status = model.AffiliateStatus(status)
	return &a, nil
}

// RecordClick сохраняет клик по партнёрской ссылке и увеличивает счётчик
// кликов партнёра в одной транзакции.
func (r *PostgresRepository) RecordClick(ctx context.Context, c *model.AffiliateClick) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cmdTag, err := tx.Exec(ctx,
		`UPDATE affiliates SET clicks = clicks + 1 WHERE code = $1`,
		c.AffiliateCode,
	)
	if err != nil {
		return fmt.Errorf("update click counter: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrAffiliateNotFound
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO affiliate_clicks (id, affiliate_code) VALUES ($1, $2)`,
		c.ID, c.AffiliateCode,
	)
	if err != nil {
		return fmt.Errorf("insert click: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}
