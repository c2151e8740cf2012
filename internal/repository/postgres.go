// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/storefront-checkout/internal/checkout"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrAttemptNotFound возвращается, если попытка не найдена.
var ErrAttemptNotFound = errors.New("checkout attempt not found")

// PostgresRepository хранит журнал попыток оформления в PostgreSQL.
// Защита от повторной отправки обеспечивается частичным уникальным индексом.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

var _ checkout.AttemptStore = (*PostgresRepository)(nil)

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

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 500 * time.Millisecond}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil || i == len(delays) {
			return err
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		retryable := errors.As(err, &pgErr) &&
			(pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected)
		if !retryable && !isConnectionError(err) {
			return err
		}

		timer := time.NewTimer(delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isConnectionError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// Begin регистрирует попытку в состоянии validating. Если для корзины уже есть
// активная или подтверждённая попытка, возвращает checkout.ErrAttemptInProgress.
func (r *PostgresRepository) Begin(ctx context.Context, cartKey string) (*checkout.Attempt, error) {
	a := checkout.Attempt{
		ID:      uuid.NewString(),
		CartKey: cartKey,
		State:   checkout.StateValidating,
	}

	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`INSERT INTO checkout_attempts (id, cart_key, state) VALUES ($1, $2, $3) RETURNING updated_at`,
			a.ID, a.CartKey, string(a.State),
		).Scan(&a.UpdatedAt)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", checkout.ErrAttemptInProgress, cartKey)
		}
		return nil, fmt.Errorf("insert attempt: %w", err)
	}

	return &a, nil
}

// Update сохраняет состояние попытки.
func (r *PostgresRepository) Update(ctx context.Context, a checkout.Attempt) error {
	var orderID *int64
	if a.OrderID != 0 {
		orderID = &a.OrderID
	}
	var intentID *string
	if a.PaymentIntentID != "" {
		intentID = &a.PaymentIntentID
	}

	err := r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE checkout_attempts
			 SET state = $2, payment_intent_id = $3, order_id = $4, message = $5, updated_at = $6
			 WHERE id = $1`,
			a.ID, string(a.State), intentID, orderID, a.Message, a.UpdatedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrAttemptNotFound
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", checkout.ErrAttemptInProgress, a.CartKey)
		}
		if errors.Is(err, ErrAttemptNotFound) {
			return err
		}
		return fmt.Errorf("update attempt: %w", err)
	}
	return nil
}

// Get возвращает попытку по идентификатору.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*checkout.Attempt, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, cart_key, state, payment_intent_id, order_id, message, updated_at
		 FROM checkout_attempts
		 WHERE id = $1`,
		id,
	)

	a, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	return a, nil
}

// Recent возвращает последние попытки, новые первыми.
func (r *PostgresRepository) Recent(ctx context.Context, limit int) ([]checkout.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, cart_key, state, payment_intent_id, order_id, message, updated_at
		 FROM checkout_attempts
		 ORDER BY updated_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select attempts: %w", err)
	}
	defer rows.Close()

	var res []checkout.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		res = append(res, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func scanAttempt(row pgx.Row) (*checkout.Attempt, error) {
	var (
		a        checkout.Attempt
		state    string
		intentID *string
		orderID  *int64
	)
	if err := row.Scan(&a.ID, &a.CartKey, &state, &intentID, &orderID, &a.Message, &a.UpdatedAt); err != nil {
		return nil, err
	}

	a.State = checkout.State(state)
	if intentID != nil {
		a.PaymentIntentID = *intentID
	}
	if orderID != nil {
		a.OrderID = *orderID
	}
	return &a, nil
}
