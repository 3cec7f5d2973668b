// Package purchase runs the two-phase purchase flow: prepare a session with
// payment instructions, then verify the payment once and call providers with failover.
package purchase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sudo-init-do/agenthub/internal/alerts"
	"github.com/sudo-init-do/agenthub/internal/apperr"
	"github.com/sudo-init-do/agenthub/internal/ledger"
	"github.com/sudo-init-do/agenthub/internal/marketplace"
	"github.com/sudo-init-do/agenthub/internal/matcher"
	"github.com/sudo-init-do/agenthub/internal/payment"
	"github.com/sudo-init-do/agenthub/internal/provider"
	"github.com/sudo-init-do/agenthub/internal/registry"
	"github.com/sudo-init-do/agenthub/internal/session"
)

const (
	defaultDiscoverLimit = 20
	maxDiscoverLimit     = 100
	maxRequestBytes      = 1 << 20
)

type Registry interface {
	Get(id string) (marketplace.Service, error)
	List() []marketplace.Service
	Search(f registry.Filter) ([]marketplace.Service, error)
	RecordJob(ctx context.Context, id string, success bool, elapsed time.Duration) error
}

type Matcher interface {
	Match(intent string, limit int) []matcher.Match
	DetectWorkflow(intent string) matcher.Workflow
}

type Provider interface {
	Call(ctx context.Context, endpoint string, body json.RawMessage, proof provider.Proof) (provider.Response, error)
	HealthCheck(ctx context.Context, endpoint string) error
}

type Options struct {
	Network        string
	Mint           string
	MaxRetries     int
	RetryOnFailure bool
	HealthCheck    bool
	SessionTTL     time.Duration
}

type Deps struct {
	Registry Registry
	Matcher  Matcher
	Verifier payment.Verifier
	Provider Provider
	Sessions session.Store
	Ledger   *ledger.Writer
	Ratings  *ledger.Ratings
	Disputes *ledger.Disputes
	Alerts   alerts.Notifier
	Logger   *zap.Logger
}

type Orchestrator struct {
	Deps
	opts Options
	log  *zap.Logger
	now  func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{} // payment signatures being completed
}

func New(d Deps, opts Options) *Orchestrator {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 15 * time.Minute
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.L()
	}
	return &Orchestrator{
		Deps:     d,
		opts:     opts,
		log:      logger.Named("purchase"),
		now:      func() time.Time { return time.Now().UTC() },
		inFlight: make(map[string]struct{}),
	}
}

// Discover searches the registry.
func (o *Orchestrator) Discover(q DiscoverQuery) ([]marketplace.Service, error) {
	sortBy, err := registry.ParseSortKey(q.SortBy)
	if err != nil {
		return nil, err
	}
	if q.MinRating < 0 || q.MinRating > 5 {
		return nil, apperr.Validation("minRating must be between 0 and 5")
	}
	limit := q.Limit
	switch {
	case limit <= 0:
		limit = defaultDiscoverLimit
	case limit > maxDiscoverLimit:
		limit = maxDiscoverLimit
	}
	var caps []string
	if q.Capability != "" {
		caps = strings.Split(q.Capability, ",")
	}
	out, err := o.Registry.Search(registry.Filter{
		Capabilities: caps,
		MaxPrice:     q.MaxPrice,
		MinRating:    q.MinRating,
		SortBy:       sortBy,
		Limit:        limit,
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []marketplace.Service{}
	}
	return out, nil
}

func (o *Orchestrator) Details(id string) (marketplace.Service, error) {
	return o.Registry.Get(id)
}

// Match ranks services against a free-text intent and reports any multi-step workflow.
func (o *Orchestrator) Match(intent string, limit int) (MatchResult, error) {
	if strings.TrimSpace(intent) == "" {
		return MatchResult{}, apperr.Validation("query is required")
	}
	matches := o.Matcher.Match(intent, limit)
	if matches == nil {
		matches = []matcher.Match{}
	}
	return MatchResult{Matches: matches, Workflow: o.Matcher.DetectWorkflow(intent)}, nil
}

// Prepare resolves the primary service and its backups, prices the purchase and
// opens a session awaiting payment. No funds move and no provider is called.
func (o *Orchestrator) Prepare(ctx context.Context, buyer string, req PrepareRequest) (Prepared, error) {
	if err := payment.ValidateAddress(buyer); err != nil {
		return Prepared{}, apperr.Wrap(err, apperr.KindValidation, "buyer must be a wallet address")
	}
	if len(req.Request) == 0 || !json.Valid(req.Request) {
		return Prepared{}, apperr.Validation("request must be a JSON value")
	}
	if len(req.Request) > maxRequestBytes {
		return Prepared{}, apperr.Validation("request exceeds %d bytes", maxRequestBytes)
	}
	if req.Requirements.MaxPrice != "" {
		if _, err := payment.ParsePrice(req.Requirements.MaxPrice); err != nil {
			return Prepared{}, apperr.Wrap(err, apperr.KindValidation, "invalid maxPrice %q", req.Requirements.MaxPrice)
		}
	}

	candidates, err := o.candidates(req)
	if err != nil {
		return Prepared{}, err
	}

	primary, ok := o.pickHealthy(ctx, candidates)
	if !ok {
		return Prepared{}, apperr.NotFound("no healthy service satisfies the request")
	}
	instr, err := payment.NewInstructions(primary, o.opts.Network, o.opts.Mint)
	if err != nil {
		return Prepared{}, err
	}
	backups := o.backupsFor(ctx, primary, req.Requirements)

	now := o.now()
	sess := &session.Session{
		ID:        uuid.New().String(),
		Buyer:     buyer,
		Request:   req.Request,
		Intent:    firstNonEmpty(req.Intent, req.Capability, req.ServiceID),
		PrimaryID: primary.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(o.opts.SessionTTL),
	}
	instr.Memo = sess.ID
	sess.Instructions = instr

	out := Prepared{
		SessionID:    sess.ID,
		Service:      summarize(primary),
		Backups:      make([]ServiceSummary, 0, len(backups)),
		Instructions: instr,
		ExpiresAt:    sess.ExpiresAt,
	}
	for _, b := range backups {
		sess.BackupIDs = append(sess.BackupIDs, b.ID)
		out.Backups = append(out.Backups, summarize(b))
	}

	if err := o.Sessions.Create(ctx, sess); err != nil {
		return Prepared{}, eris.Wrap(err, "create session")
	}
	o.log.Info("purchase prepared",
		zap.String("session_id", sess.ID),
		zap.String("buyer", buyer),
		zap.String("service_id", primary.ID),
		zap.Int("backups", len(backups)),
		zap.String("amount", instr.Amount))
	return out, nil
}

func (o *Orchestrator) candidates(req PrepareRequest) ([]marketplace.Service, error) {
	reqs := req.Requirements
	switch {
	case req.ServiceID != "":
		svc, err := o.Registry.Get(req.ServiceID)
		if err != nil {
			return nil, err
		}
		if !meets(svc, reqs) {
			return nil, apperr.Validation("service %s does not satisfy the requirements", svc.ID)
		}
		return []marketplace.Service{svc}, nil

	case req.Capability != "":
		found, err := o.Registry.Search(registry.Filter{
			Capabilities: []string{req.Capability},
			MaxPrice:     reqs.MaxPrice,
			MinRating:    reqs.MinRating,
			SortBy:       registry.SortRating,
		})
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			return found, nil
		}
		return o.matched(req.Capability, reqs)

	case strings.TrimSpace(req.Intent) != "":
		return o.matched(req.Intent, reqs)
	}
	return nil, apperr.Validation("one of serviceId, capability or intent is required")
}

func (o *Orchestrator) matched(intent string, reqs Requirements) ([]marketplace.Service, error) {
	var out []marketplace.Service
	for _, m := range o.Matcher.Match(intent, 0) {
		if meets(m.Service, reqs) {
			out = append(out, m.Service)
		}
	}
	if len(out) == 0 {
		return nil, apperr.NotFound("no service matches %q", intent)
	}
	return out, nil
}

func (o *Orchestrator) pickHealthy(ctx context.Context, list []marketplace.Service) (marketplace.Service, bool) {
	for _, svc := range list {
		if o.healthy(ctx, svc) {
			return svc, true
		}
	}
	return marketplace.Service{}, false
}

func (o *Orchestrator) healthy(ctx context.Context, svc marketplace.Service) bool {
	if !o.opts.HealthCheck {
		return true
	}
	if err := o.Provider.HealthCheck(ctx, svc.Endpoint); err != nil {
		o.log.Warn("service failed health check", zap.String("service_id", svc.ID), zap.Error(err))
		return false
	}
	return true
}

// backupsFor lists services sharing a capability with primary, priced no higher,
// best rated first and cheapest among equals.
func (o *Orchestrator) backupsFor(ctx context.Context, primary marketplace.Service, reqs Requirements) []marketplace.Service {
	if o.opts.MaxRetries == 0 {
		return nil
	}
	primaryPrice, err := primary.Pricing.PriceUnits()
	if err != nil {
		return nil
	}
	var pool []marketplace.Service
	for _, svc := range o.Registry.List() {
		if svc.ID == primary.ID || !svc.SharesCapability(primary) || !meets(svc, reqs) {
			continue
		}
		if svc.Pricing.Currency != primary.Pricing.Currency {
			continue
		}
		price, err := svc.Pricing.PriceUnits()
		if err != nil || price > primaryPrice {
			continue
		}
		pool = append(pool, svc)
	}
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].Reputation.Rating != pool[j].Reputation.Rating {
			return pool[i].Reputation.Rating > pool[j].Reputation.Rating
		}
		pi, _ := pool[i].Pricing.PriceUnits()
		pj, _ := pool[j].Pricing.PriceUnits()
		return pi < pj
	})

	var out []marketplace.Service
	for _, svc := range pool {
		if len(out) == o.opts.MaxRetries {
			break
		}
		if o.healthy(ctx, svc) {
			out = append(out, svc)
		}
	}
	return out
}

func meets(svc marketplace.Service, reqs Requirements) bool {
	if svc.Reputation.Rating < reqs.MinRating {
		return false
	}
	if reqs.MaxPrice == "" {
		return true
	}
	price, err := svc.Pricing.PriceUnits()
	if err != nil {
		return false
	}
	limit, err := payment.ParsePrice(reqs.MaxPrice)
	return err == nil && price <= limit
}

// Complete verifies the payment for a prepared session exactly once, then calls
// the primary and, on failure, each backup in order with the same payment.
func (o *Orchestrator) Complete(ctx context.Context, req CompleteRequest) (Result, error) {
	if req.SessionID == "" {
		return Result{}, apperr.Validation("sessionId is required")
	}
	if _, err := payment.ValidateSignature(req.Signature); err != nil {
		return Result{}, notConsumed(err)
	}

	sess, err := o.Sessions.Take(ctx, req.SessionID)
	if err != nil {
		return Result{}, err
	}
	if sess.Buyer != req.Buyer {
		o.restore(ctx, sess)
		return Result{}, apperr.Unauthorized("session belongs to another buyer")
	}

	if !o.claim(req.Signature) {
		o.restore(ctx, sess)
		return Result{}, notConsumed(apperr.Conflict("payment signature is already being used"))
	}
	defer o.release(req.Signature)

	used, err := o.Ledger.ByPayment(ctx, req.Signature)
	if err != nil {
		o.restore(ctx, sess)
		return Result{}, notConsumed(apperr.Wrap(err, apperr.KindInternal, "check payment signature"))
	}
	if len(used) > 0 {
		o.restore(ctx, sess)
		return Result{}, notConsumed(apperr.Conflict("payment signature was already used").
			With("transaction_id", used[0].ID))
	}

	claim, err := sess.Instructions.Claim(req.Signature, sess.Buyer)
	if err != nil {
		o.restore(ctx, sess)
		return Result{}, notConsumed(err)
	}
	v := o.Verifier.Verify(ctx, claim)
	if !v.Verified {
		o.restore(ctx, sess)
		o.log.Warn("payment verification failed",
			zap.String("session_id", sess.ID),
			zap.String("payment_signature", req.Signature),
			zap.String("reason", v.Error))
		return Result{}, notConsumed(apperr.PaymentVerification("%s", v.Error))
	}
	o.log.Info("payment verified",
		zap.String("session_id", sess.ID),
		zap.String("payment_signature", req.Signature),
		zap.Uint64("amount", v.ActualAmount))

	retry := o.opts.RetryOnFailure
	if req.RetryOnFailure != nil {
		retry = *req.RetryOnFailure
	}
	ladder := []string{sess.PrimaryID}
	if retry {
		ladder = append(ladder, sess.BackupIDs...)
	}
	return o.deliver(ctx, sess, req.Signature, ladder)
}

func (o *Orchestrator) deliver(ctx context.Context, sess *session.Session, signature string, ladder []string) (Result, error) {
	proof := provider.Proof{
		Network: sess.Instructions.Network,
		TxHash:  signature,
		From:    sess.Buyer,
		To:      sess.Instructions.Recipient,
		Amount:  sess.Instructions.AmountUnits,
		Asset:   sess.Instructions.Mint,
	}

	meta := Metadata{AttemptedServices: []string{}}
	remaining := 0
	for i, id := range ladder {
		if ctx.Err() != nil {
			meta.Errors = append(meta.Errors, AttemptError{ServiceID: id, Attempt: i, Message: "purchase cancelled"})
			remaining = len(ladder) - max(i, 1)
			break
		}
		svc, err := o.Registry.Get(id)
		if err != nil {
			meta.Errors = append(meta.Errors, AttemptError{ServiceID: id, Attempt: i, Message: "service no longer listed"})
			continue
		}
		meta.AttemptedServices = append(meta.AttemptedServices, svc.ID)

		entry := o.Ledger.Begin(ctx, ledger.Attempt{
			SessionID: sess.ID,
			Index:     i,
			Service:   svc,
			Buyer:     sess.Buyer,
			Amount:    sess.Instructions.Amount,
			Currency:  sess.Instructions.Asset,
			Request:   sess.Request,
			Signature: signature,
		})
		resp, callErr := o.Provider.Call(ctx, svc.Endpoint, sess.Request, proof)
		tx := o.Ledger.Record(ctx, entry, ledger.Outcome{Success: callErr == nil, Response: resp.Body, Err: callErr})
		if err := o.Registry.RecordJob(ctx, svc.ID, callErr == nil, resp.Elapsed); err != nil {
			o.log.Warn("job stats not updated", zap.String("service_id", svc.ID), zap.Error(err))
		}

		if callErr == nil {
			meta.RetriesUsed = len(meta.AttemptedServices) - 1
			o.log.Info("purchase delivered",
				zap.String("session_id", sess.ID),
				zap.String("service_id", svc.ID),
				zap.String("transaction_id", tx.ID),
				zap.Int("retries_used", meta.RetriesUsed))
			return Result{
				Success:          true,
				Data:             resp.Body,
				ServiceID:        svc.ID,
				ServiceName:      svc.Name,
				TransactionID:    tx.ID,
				PaymentSignature: signature,
				Metadata:         meta,
			}, nil
		}

		ae := AttemptError{ServiceID: svc.ID, ServiceName: svc.Name, Attempt: i, Message: callErr.Error()}
		var perr *provider.Error
		if errors.As(callErr, &perr) {
			ae.StatusCode = perr.StatusCode
			ae.Message = perr.Message
		}
		meta.Errors = append(meta.Errors, ae)
		o.log.Warn("provider attempt failed",
			zap.String("session_id", sess.ID),
			zap.String("service_id", svc.ID),
			zap.Int("attempt", i),
			zap.Error(callErr))
	}

	return Result{}, o.undelivered(ctx, sess, signature, meta, remaining)
}

// undelivered opens a dispute for a verified payment no attempt delivered. remaining counts the
// backups left untried because the purchase was cancelled.
func (o *Orchestrator) undelivered(ctx context.Context, sess *session.Session, signature string, meta Metadata, remaining int) *UndeliveredError {
	ue := &UndeliveredError{
		SessionID:        sess.ID,
		PaymentSignature: signature,
		PaymentStatus:    PaymentUndelivered,
		BackupErrors:     []AttemptError{},
		RemainingBackups: remaining,
		RefundOptions:    RefundOptions,
	}
	for _, e := range meta.Errors {
		if e.Attempt == 0 {
			ue.PrimaryError = e
		} else {
			ue.BackupErrors = append(ue.BackupErrors, e)
		}
	}

	bg := context.WithoutCancel(ctx)
	dispute, err := o.Disputes.OpenUndelivered(bg, ledger.Undelivered{
		PaymentHash: signature,
		SessionID:   sess.ID,
		Buyer:       sess.Buyer,
		ServiceID:   sess.PrimaryID,
		Amount:      sess.Instructions.Amount,
		Currency:    sess.Instructions.Asset,
		Reason:      ue.Error(),
	})
	if err != nil {
		o.log.Error("dispute not opened", zap.String("payment_signature", signature), zap.Error(err))
	} else {
		ue.DisputeID = dispute.ID
	}

	alerts.Send(bg, o.Alerts, alerts.Alert{
		Kind:     alerts.KindUndelivered,
		Severity: alerts.SeverityCritical,
		Subject:  "Paid purchase undelivered",
		Message:  ue.Error(),
		Fields: map[string]string{
			"session_id":        sess.ID,
			"payment_signature": signature,
			"buyer":             sess.Buyer,
			"amount":            fmt.Sprintf("%s %s", sess.Instructions.Amount, sess.Instructions.Asset),
			"dispute_id":        ue.DisputeID,
		},
		CreatedAt: o.now(),
	})

	o.log.Error("purchase undelivered",
		zap.String("session_id", sess.ID),
		zap.String("payment_signature", signature),
		zap.Strings("attempted", meta.AttemptedServices))
	return ue
}

func (o *Orchestrator) restore(ctx context.Context, sess *session.Session) {
	if !o.now().Before(sess.ExpiresAt) {
		return
	}
	if err := o.Sessions.Create(ctx, sess); err != nil {
		o.log.Warn("session not restored", zap.String("session_id", sess.ID), zap.Error(err))
	}
}

func (o *Orchestrator) claim(sig string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[sig]; busy {
		return false
	}
	o.inFlight[sig] = struct{}{}
	return true
}

func (o *Orchestrator) release(sig string) {
	o.mu.Lock()
	delete(o.inFlight, sig)
	o.mu.Unlock()
}

func notConsumed(err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae.With("payment_status", PaymentNotConsumed)
	}
	return apperr.Wrap(err, apperr.KindValidation, "%s", err.Error()).With("payment_status", PaymentNotConsumed)
}

// Rate lets the buyer of a completed transaction score it once.
func (o *Orchestrator) Rate(ctx context.Context, rater, transactionID string, r marketplace.RateRequest) (marketplace.RatingSummary, error) {
	return o.Ratings.Rate(ctx, rater, transactionID, r.Score, r.Review)
}

// Reviews lists a service's ratings, newest first.
func (o *Orchestrator) Reviews(ctx context.Context, serviceID string, limit int) ([]marketplace.Rating, error) {
	return o.Ratings.ForService(ctx, serviceID, limit)
}

// Audit reports every attempt made with a payment signature.
func (o *Orchestrator) Audit(ctx context.Context, signature string) (AuditReport, error) {
	if _, err := payment.ValidateSignature(signature); err != nil {
		return AuditReport{}, err
	}
	txs, err := o.Ledger.ByPayment(ctx, signature)
	if err != nil {
		return AuditReport{}, err
	}
	if len(txs) == 0 {
		return AuditReport{}, apperr.NotFound("no transactions for payment signature")
	}
	report := AuditReport{Signature: signature, Transactions: txs}
	for _, tx := range txs {
		if tx.Status == marketplace.TxCompleted {
			report.Delivered = true
		}
	}
	return report, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
