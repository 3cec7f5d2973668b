package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sudo-init-do/agenthub/internal/apperr"
	"github.com/sudo-init-do/agenthub/internal/db"
	"github.com/sudo-init-do/agenthub/internal/marketplace"
)

type PostgresStore struct {
	pool db.Pool
}

func NewPostgres(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS services (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		provider TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		capabilities JSONB NOT NULL,
		pricing JSONB NOT NULL,
		reputation JSONB NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		deleted_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		service_id TEXT NOT NULL REFERENCES services(id),
		session_id TEXT NOT NULL DEFAULT '',
		attempt INT NOT NULL DEFAULT 0,
		buyer TEXT NOT NULL,
		seller TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pending','completed','failed')),
		request JSONB,
		response JSONB,
		payment_hash TEXT NOT NULL,
		error TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_payment_hash ON transactions(payment_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_buyer ON transactions(buyer)`,
	`CREATE TABLE IF NOT EXISTS ratings (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL REFERENCES transactions(id),
		service_id TEXT NOT NULL REFERENCES services(id),
		rater TEXT NOT NULL,
		score INT NOT NULL CHECK (score BETWEEN 1 AND 5),
		review TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_ratings_transaction ON ratings(transaction_id)`,
	`CREATE TABLE IF NOT EXISTS disputes (
		id TEXT PRIMARY KEY,
		payment_hash TEXT NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		buyer TEXT NOT NULL,
		service_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		reason TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open','resolved')),
		resolution TEXT,
		notes TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		resolved_at TIMESTAMPTZ
	)`,
}

// Migrate creates the schema idempotently inside one transaction
func (s *PostgresStore) Migrate(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "begin migration")
	}
	for _, stmt := range schema {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			_ = tx.Rollback(ctx)
			return eris.Wrap(err, "apply schema")
		}
	}
	return eris.Wrap(tx.Commit(ctx), "commit migration")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

const serviceColumns = `id, name, description, provider, endpoint, capabilities, pricing, reputation, metadata, created_at, updated_at`

func scanService(row scanner) (marketplace.Service, error) {
	var (
		svc                          marketplace.Service
		caps, pricing, rep, metadata []byte
	)
	if err := row.Scan(&svc.ID, &svc.Name, &svc.Description, &svc.Provider, &svc.Endpoint,
		&caps, &pricing, &rep, &metadata, &svc.CreatedAt, &svc.UpdatedAt); err != nil {
		return svc, err
	}
	if err := json.Unmarshal(caps, &svc.Capabilities); err != nil {
		return svc, eris.Wrapf(err, "decode capabilities of %s", svc.ID)
	}
	if err := json.Unmarshal(pricing, &svc.Pricing); err != nil {
		return svc, eris.Wrapf(err, "decode pricing of %s", svc.ID)
	}
	if err := json.Unmarshal(rep, &svc.Reputation); err != nil {
		return svc, eris.Wrapf(err, "decode reputation of %s", svc.ID)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &svc.Metadata); err != nil {
			return svc, eris.Wrapf(err, "decode metadata of %s", svc.ID)
		}
	}
	return svc, nil
}

func encodeService(svc marketplace.Service) (caps, pricing, rep, metadata []byte, err error) {
	if caps, err = json.Marshal(svc.Capabilities); err != nil {
		return
	}
	if pricing, err = json.Marshal(svc.Pricing); err != nil {
		return
	}
	if rep, err = json.Marshal(svc.Reputation); err != nil {
		return
	}
	md := svc.Metadata
	if md == nil {
		md = map[string]any{}
	}
	metadata, err = json.Marshal(md)
	return
}

func (s *PostgresStore) InsertService(ctx context.Context, svc marketplace.Service) error {
	caps, pricing, rep, metadata, err := encodeService(svc)
	if err != nil {
		return eris.Wrap(err, "encode service")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO services (id, name, description, provider, endpoint, capabilities, pricing, reputation, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		svc.ID, svc.Name, svc.Description, svc.Provider, svc.Endpoint, caps, pricing, rep, metadata, svc.CreatedAt, svc.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("service %s already exists", svc.ID)
	}
	return eris.Wrap(err, "insert service")
}

func (s *PostgresStore) UpdateService(ctx context.Context, svc marketplace.Service) error {
	caps, pricing, rep, metadata, err := encodeService(svc)
	if err != nil {
		return eris.Wrap(err, "encode service")
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE services SET name = $2, description = $3, endpoint = $4, capabilities = $5, pricing = $6,
			reputation = $7, metadata = $8, updated_at = $9
		WHERE id = $1 AND deleted_at IS NULL`,
		svc.ID, svc.Name, svc.Description, svc.Endpoint, caps, pricing, rep, metadata, svc.UpdatedAt)
	if err != nil {
		return eris.Wrap(err, "update service")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("service %s not found", svc.ID)
	}
	return nil
}

func (s *PostgresStore) UpdateReputation(ctx context.Context, id string, rep marketplace.Reputation, at time.Time) error {
	b, err := json.Marshal(rep)
	if err != nil {
		return eris.Wrap(err, "encode reputation")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE services SET reputation = $2, updated_at = $3 WHERE id = $1 AND deleted_at IS NULL`, id, b, at)
	if err != nil {
		return eris.Wrap(err, "update reputation")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("service %s not found", id)
	}
	return nil
}

func (s *PostgresStore) SoftDeleteService(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE services SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return eris.Wrap(err, "soft delete service")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("service %s not found", id)
	}
	return nil
}

func (s *PostgresStore) ListServices(ctx context.Context) ([]marketplace.Service, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+serviceColumns+` FROM services WHERE deleted_at IS NULL ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, eris.Wrap(err, "list services")
	}
	defer rows.Close()

	var out []marketplace.Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan service")
		}
		out = append(out, svc)
	}
	return out, eris.Wrap(rows.Err(), "iterate services")
}

const transactionColumns = `id, service_id, session_id, attempt, buyer, seller, amount, currency, status, request, response, payment_hash, error, created_at, updated_at`

func scanTransaction(row scanner) (marketplace.Transaction, error) {
	var (
		tx                marketplace.Transaction
		status            string
		request, response []byte
		errMsg            *string
	)
	if err := row.Scan(&tx.ID, &tx.ServiceID, &tx.SessionID, &tx.Attempt, &tx.Buyer, &tx.Seller,
		&tx.Amount, &tx.Currency, &status, &request, &response, &tx.PaymentHash, &errMsg,
		&tx.CreatedAt, &tx.UpdatedAt); err != nil {
		return tx, err
	}
	tx.Status = marketplace.TransactionStatus(status)
	tx.Request = request
	tx.Response = response
	if errMsg != nil {
		tx.Error = *errMsg
	}
	return tx, nil
}

func nullJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *PostgresStore) insertTransaction(ctx context.Context, tx marketplace.Transaction) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transactions (id, service_id, session_id, attempt, buyer, seller, amount, currency, status,
			request, response, payment_hash, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		tx.ID, tx.ServiceID, tx.SessionID, tx.Attempt, tx.Buyer, tx.Seller, tx.Amount, tx.Currency, string(tx.Status),
		nullJSON(tx.Request), nullJSON(tx.Response), tx.PaymentHash, nullString(tx.Error), tx.CreatedAt, tx.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("transaction %s already exists", tx.ID)
	}
	return err
}

func (s *PostgresStore) InsertTransaction(ctx context.Context, tx marketplace.Transaction) error {
	if tx.Status != marketplace.TxPending {
		return eris.Errorf("insert transaction %s: status must be pending, got %s", tx.ID, tx.Status)
	}
	return eris.Wrap(s.insertTransaction(ctx, tx), "insert transaction")
}

func (s *PostgresStore) InsertTerminalTransaction(ctx context.Context, tx marketplace.Transaction) error {
	if !tx.Status.Terminal() {
		return eris.Errorf("insert terminal transaction %s: status %s is not terminal", tx.ID, tx.Status)
	}
	return eris.Wrap(s.insertTransaction(ctx, tx), "insert terminal transaction")
}

func (s *PostgresStore) FinishTransaction(ctx context.Context, id string, out Outcome) error {
	if !out.Status.Terminal() {
		return eris.Errorf("finish transaction %s: status %s is not terminal", id, out.Status)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE transactions SET status = $2, response = $3, error = $4, updated_at = $5
		WHERE id = $1 AND status = 'pending'`,
		id, string(out.Status), nullJSON(out.Response), nullString(out.Error), out.At)
	if err != nil {
		return eris.Wrap(err, "finish transaction")
	}
	if tag.RowsAffected() == 0 {
		return ErrTerminal
	}
	return nil
}

func (s *PostgresStore) GetTransaction(ctx context.Context, id string) (marketplace.Transaction, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return tx, apperr.NotFound("transaction %s not found", id)
	}
	return tx, eris.Wrap(err, "get transaction")
}

func (s *PostgresStore) listTransactions(ctx context.Context, query string, args ...any) ([]marketplace.Transaction, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "list transactions")
	}
	defer rows.Close()

	var out []marketplace.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan transaction")
		}
		out = append(out, tx)
	}
	return out, eris.Wrap(rows.Err(), "iterate transactions")
}

func (s *PostgresStore) ListTransactionsByPayment(ctx context.Context, signature string) ([]marketplace.Transaction, error) {
	return s.listTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE payment_hash = $1 ORDER BY created_at ASC, attempt ASC`,
		signature)
}

func (s *PostgresStore) ListTransactionsByBuyer(ctx context.Context, buyer string, limit int) ([]marketplace.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.listTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE buyer = $1 ORDER BY created_at DESC LIMIT $2`,
		buyer, limit)
}

func (s *PostgresStore) InsertRating(ctx context.Context, r marketplace.Rating) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ratings (id, transaction_id, service_id, rater, score, review, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.TransactionID, r.ServiceID, r.Rater, r.Score, r.Review, r.CreatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("transaction %s has already been rated", r.TransactionID)
	}
	return eris.Wrap(err, "insert rating")
}

func (s *PostgresStore) DeleteRating(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM ratings WHERE id = $1`, id)
	if err != nil {
		return eris.Wrap(err, "delete rating")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("rating %s not found", id)
	}
	return nil
}

func (s *PostgresStore) GetRatingByTransaction(ctx context.Context, transactionID string) (marketplace.Rating, error) {
	var r marketplace.Rating
	err := s.pool.QueryRow(ctx, `
		SELECT id, transaction_id, service_id, rater, score, review, created_at
		FROM ratings WHERE transaction_id = $1`, transactionID).
		Scan(&r.ID, &r.TransactionID, &r.ServiceID, &r.Rater, &r.Score, &r.Review, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return r, apperr.NotFound("no rating for transaction %s", transactionID)
	}
	return r, eris.Wrap(err, "get rating")
}

func (s *PostgresStore) ListRatingsByService(ctx context.Context, serviceID string, limit int) ([]marketplace.Rating, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, transaction_id, service_id, rater, score, review, created_at
		FROM ratings WHERE service_id = $1 ORDER BY created_at DESC LIMIT $2`, serviceID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "list ratings")
	}
	defer rows.Close()

	var out []marketplace.Rating
	for rows.Next() {
		var r marketplace.Rating
		if err := rows.Scan(&r.ID, &r.TransactionID, &r.ServiceID, &r.Rater, &r.Score, &r.Review, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "scan rating")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "iterate ratings")
}

const disputeColumns = `id, payment_hash, session_id, buyer, service_id, amount, currency, reason, status, resolution, notes, created_at, resolved_at`

func scanDispute(row scanner) (marketplace.Dispute, error) {
	var (
		d                 marketplace.Dispute
		resolution, notes *string
	)
	if err := row.Scan(&d.ID, &d.PaymentHash, &d.SessionID, &d.Buyer, &d.ServiceID, &d.Amount, &d.Currency,
		&d.Reason, &d.Status, &resolution, &notes, &d.CreatedAt, &d.ResolvedAt); err != nil {
		return d, err
	}
	if resolution != nil {
		d.Resolution = *resolution
	}
	if notes != nil {
		d.Notes = *notes
	}
	return d, nil
}

func (s *PostgresStore) InsertDispute(ctx context.Context, d marketplace.Dispute) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO disputes (id, payment_hash, session_id, buyer, service_id, amount, currency, reason, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.PaymentHash, d.SessionID, d.Buyer, d.ServiceID, d.Amount, d.Currency, d.Reason, d.Status, d.CreatedAt)
	return eris.Wrap(err, "insert dispute")
}

func (s *PostgresStore) ListDisputes(ctx context.Context, status string) ([]marketplace.Dispute, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if status == "" {
		rows, err = s.pool.Query(ctx, `SELECT `+disputeColumns+` FROM disputes ORDER BY created_at DESC`)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE status = $1 ORDER BY created_at DESC`, status)
	}
	if err != nil {
		return nil, eris.Wrap(err, "list disputes")
	}
	defer rows.Close()

	var out []marketplace.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan dispute")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "iterate disputes")
}

func (s *PostgresStore) ResolveDispute(ctx context.Context, id, resolution, notes string, at time.Time) (marketplace.Dispute, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE disputes SET status = 'resolved', resolution = $2, notes = $3, resolved_at = $4
		WHERE id = $1 AND status = 'open'
		RETURNING `+disputeColumns,
		id, resolution, nullString(notes), at)
	d, err := scanDispute(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return d, apperr.NotFound("open dispute %s not found", id)
	}
	return d, eris.Wrap(err, "resolve dispute")
}

func (s *PostgresStore) Stats(ctx context.Context) (marketplace.Stats, error) {
	var st marketplace.Stats
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM services WHERE deleted_at IS NULL),
			(SELECT COUNT(*) FROM transactions WHERE status = 'pending'),
			(SELECT COUNT(*) FROM transactions WHERE status = 'completed'),
			(SELECT COUNT(*) FROM transactions WHERE status = 'failed'),
			(SELECT COUNT(*) FROM disputes WHERE status = 'open'),
			(SELECT COUNT(*) FROM ratings)`).
		Scan(&st.Services, &st.Pending, &st.Completed, &st.Failed, &st.OpenDisputes, &st.Ratings)
	return st, eris.Wrap(err, "load stats")
}
