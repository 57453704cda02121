// Package registrar orchestrates sponsored agent registration: gating,
// claim verification, on-chain reconciliation, fee checks, and transaction
// submission.
package registrar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/agentdirectory/backend/internal/directory"
	"github.com/agentdirectory/backend/internal/gate"
	"github.com/agentdirectory/backend/internal/metrics"
	"github.com/agentdirectory/backend/internal/verify"
)

// DefaultGasBufferWei covers worst-case gas for one register call on top of
// the fee (0.0005 ETH).
var DefaultGasBufferWei = big.NewInt(500_000_000_000_000)

var nameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Claim is a caller-asserted (platform, handle) pair.
type Claim struct {
	Platform string
	Handle   string
}

// Request is one inbound sponsored registration.
type Request struct {
	Name   string
	Claims []Claim
	Caller string
}

// Result is a confirmed registration.
type Result struct {
	Name        string
	Platforms   []string
	URLs        []string
	Unverified  []string
	TxHash      string
	BlockNumber uint64
}

// ClaimVerifier dispatches one platform claim. *verify.Registry satisfies
// this.
type ClaimVerifier interface {
	Verify(ctx context.Context, platform, handle string) verify.Result
}

// Pipeline is the registration state machine. Safe for concurrent use.
type Pipeline struct {
	verifiers ClaimVerifier
	gate      *gate.Gate
	dir       directory.Client
	gasBuffer *big.Int
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New wires a pipeline. gasBuffer nil gets the default; metrics may be nil.
func New(verifiers ClaimVerifier, g *gate.Gate, dir directory.Client, gasBuffer *big.Int, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	if gasBuffer == nil {
		gasBuffer = DefaultGasBufferWei
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		verifiers: verifiers,
		gate:      g,
		dir:       dir,
		gasBuffer: gasBuffer,
		metrics:   m,
		logger:    logger,
	}
}

// Register runs one request through the full state machine.
func (p *Pipeline) Register(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res, err := p.register(ctx, req)
	p.metrics.RecordRegistration(outcomeLabel(err), time.Since(start).Seconds())
	return res, err
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "confirmed"
	case errors.As(err, new(*RateLimitedError)):
		return "rate_limited"
	case errors.As(err, new(*ConflictError)):
		return "conflict"
	case errors.As(err, new(*FundingError)):
		return "underfunded"
	case errors.As(err, new(*UnavailableError)):
		return "unavailable"
	case errors.As(err, new(*ChainError)):
		return "chain_error"
	default:
		return "rejected"
	}
}

func (p *Pipeline) register(ctx context.Context, req Request) (*Result, error) {
	// Received -> Validated
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, &ValidationError{Reason: "Missing agent name"}
	}
	if len(name) < 2 || len(name) > 32 {
		return nil, &ValidationError{Reason: "Name must be 2-32 characters"}
	}
	if !nameRe.MatchString(name) {
		return nil, &ValidationError{Reason: "Name can only contain letters, numbers, underscores, and hyphens"}
	}
	if len(req.Claims) == 0 {
		return nil, &ValidationError{Reason: "Provide at least one platform. Example: [{platform: 'moltbook', handle: 'YourName'}]"}
	}

	// Validated -> Gated
	outcome, err := p.gate.Check(ctx, req.Caller, name)
	if err != nil {
		return nil, &UnavailableError{Cause: err}
	}
	switch outcome {
	case gate.Cooldown:
		return nil, &RateLimitedError{RetryAfter: p.gate.CooldownWindow()}
	case gate.Duplicate:
		return nil, &ConflictError{Reason: "This name has already been registered"}
	}

	// Gated -> Verifying
	platforms, urls, unverified, err := p.verifyClaims(ctx, req.Claims)
	if err != nil {
		return nil, err
	}
	if len(platforms) == 0 {
		return nil, &ValidationError{Reason: "No valid platforms provided"}
	}

	// Verifying -> Reconciling
	existing, err := p.dir.Lookup(ctx, name)
	if err != nil && !errors.Is(err, directory.ErrNotFound) {
		// Could not determine on-chain state; refusing to submit is safer
		// than racing a transient RPC failure into a duplicate.
		p.logger.Error("duplicate check unavailable", "name", name, "err", err)
		return nil, &UnavailableError{Cause: err}
	}
	if existing != nil {
		if err := p.gate.MarkProcessed(ctx, name); err != nil {
			p.logger.Warn("failed to mark processed", "name", name, "err", err)
		}
		return nil, &ConflictError{Reason: "This agent is already registered"}
	}

	// Reconciling -> FeeChecked
	if !p.dir.SponsorConfigured() {
		return nil, directory.ErrNoSponsor
	}
	fee, err := p.dir.RegistrationFee(ctx)
	if err != nil {
		return nil, &UnavailableError{Cause: err}
	}
	balance, err := p.dir.SponsorBalance(ctx)
	if err != nil {
		return nil, &UnavailableError{Cause: err}
	}
	balFloat, _ := new(big.Float).SetInt(balance).Float64()
	p.metrics.ObserveSponsorBalance(balFloat)

	needed := new(big.Int).Add(fee, p.gasBuffer)
	if balance.Cmp(needed) < 0 {
		p.logger.Error("sponsor wallet underfunded",
			"balance_wei", balance.String(), "needed_wei", needed.String())
		return nil, &FundingError{BalanceWei: balance.String(), NeededWei: needed.String()}
	}

	// FeeChecked -> Submitted
	p.logger.Info("registering agent", "name", name, "platforms", platforms)
	pending, err := p.dir.SubmitRegistration(ctx, name, platforms, urls, fee)
	if err != nil {
		return nil, &ChainError{Cause: err}
	}

	// The slot is fixed as soon as the transaction is in the pending pool:
	// a rare stuck-unconfirmed name beats the common double-submission.
	if err := p.gate.Admit(ctx, req.Caller); err != nil {
		p.logger.Warn("failed to record caller attempt", "caller", req.Caller, "err", err)
	}
	if err := p.gate.MarkProcessed(ctx, name); err != nil {
		p.logger.Warn("failed to mark processed", "name", name, "err", err)
	}

	// Submitted -> Confirmed
	conf, err := p.dir.Confirm(ctx, pending)
	if err != nil {
		p.logger.Error("confirmation failed", "name", name, "tx", pending.Hash, "err", err)
		return nil, &ChainError{TxHash: pending.Hash, Cause: err}
	}
	p.logger.Info("registration confirmed", "name", name, "tx", conf.TxHash, "block", conf.BlockNumber)

	return &Result{
		Name:        name,
		Platforms:   platforms,
		URLs:        urls,
		Unverified:  unverified,
		TxHash:      conf.TxHash,
		BlockNumber: conf.BlockNumber,
	}, nil
}

// verifyClaims fans out one probe per claim. Claims missing a platform or
// handle are skipped. The first hard failure aborts the registration and
// cancels outstanding probes; survivors accumulate index-aligned platform
// and URL lists in claim order.
func (p *Pipeline) verifyClaims(ctx context.Context, claims []Claim) (platforms, urls, unverified []string, err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type slot struct {
		platform string
		res      verify.Result
		skipped  bool
	}
	slots := make([]slot, len(claims))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for i, c := range claims {
		if c.Platform == "" || c.Handle == "" {
			slots[i].skipped = true
			continue
		}
		platform := strings.ToLower(c.Platform)
		slots[i].platform = platform

		wg.Add(1)
		go func(i int, platform, handle string) {
			defer wg.Done()
			res := p.verifiers.Verify(ctx, platform, handle)
			slots[i].res = res

			switch {
			case !res.Valid:
				p.metrics.RecordProbe(platform, "invalid")
				mu.Lock()
				if firstErr == nil {
					firstErr = &ValidationError{Reason: fmt.Sprintf("%s: %s", platform, res.Error)}
					cancel()
				}
				mu.Unlock()
			case res.Unverified:
				p.metrics.RecordProbe(platform, "unverified")
				p.logger.Warn("claim accepted without verification", "platform", platform, "handle", handle)
			default:
				p.metrics.RecordProbe(platform, "valid")
			}
		}(i, platform, c.Handle)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, nil, nil, firstErr
	}
	for _, s := range slots {
		if s.skipped {
			continue
		}
		platforms = append(platforms, s.platform)
		urls = append(urls, s.res.URL)
		if s.res.Unverified {
			unverified = append(unverified, s.platform)
		}
	}
	return platforms, urls, unverified, nil
}
