// Package processor wires the emission pipeline end to end: sequential
// allocation, access key generation, canonical document build, signing,
// submission, and authorization polling, with every step recorded in the
// document lifecycle store.
package processor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/facturex/sri-pipeline/internal/accesskey"
	"github.com/facturex/sri-pipeline/internal/authority"
	"github.com/facturex/sri-pipeline/internal/document"
	"github.com/facturex/sri-pipeline/internal/lifecycle"
	"github.com/facturex/sri-pipeline/internal/model"
	"github.com/facturex/sri-pipeline/internal/sequence"
	"github.com/facturex/sri-pipeline/internal/sign"
)

// Default polling policy for authorization
const (
	DefaultPollInterval = 3 * time.Second
	DefaultMaxPollWait  = 90 * time.Second
)

// Gateway is the slice of the authority client the pipeline needs. Stubbed
// in tests.
type Gateway interface {
	Submit(ctx context.Context, signedXML []byte) (*authority.ReceptionResult, error)
	PollAuthorization(ctx context.Context, accessKey string) (*authority.AuthorizationResult, error)
}

// EmissionResult is the outcome of a successful submit.
type EmissionResult struct {
	AccessKey string
	SignedXML []byte
	Record    *lifecycle.Record
}

// Pipeline drives one invoice from validated input to a terminal authority
// outcome.
type Pipeline struct {
	builder   *document.Builder
	signer    *sign.Signer
	gateway   Gateway
	store     lifecycle.Store
	allocator sequence.Allocator
	logger    *slog.Logger

	pollInterval time.Duration
	maxPollWait  time.Duration
	now          func() time.Time
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithPollPolicy sets the spacing between authorization polls and the
// maximum total wait before AwaitAuthorization gives up with a timeout.
func WithPollPolicy(interval, maxWait time.Duration) Option {
	return func(p *Pipeline) {
		p.pollInterval = interval
		p.maxPollWait = maxWait
	}
}

// WithSequenceAllocator lets Emit fill in the header's sequential number
// when the caller left it empty.
func WithSequenceAllocator(alloc sequence.Allocator) Option {
	return func(p *Pipeline) {
		p.allocator = alloc
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithClock overrides the signing-time source. Tests pin it for
// reproducible signatures.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// NewPipeline creates a pipeline over the given signer, gateway, and store.
func NewPipeline(signer *sign.Signer, gateway Gateway, store lifecycle.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		builder:      document.NewBuilder(),
		signer:       signer,
		gateway:      gateway,
		store:        store,
		logger:       slog.Default(),
		pollInterval: DefaultPollInterval,
		maxPollWait:  DefaultMaxPollWait,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit takes a validated invoice through generation, signing, and submission.
// On success the lifecycle record is SUBMITTED and the caller proceeds to
// AwaitAuthorization. A rejection at reception leaves the record at SIGNED
// with the authority's reasons annotated; the access key is burned and the
// invoice must be regenerated under a new sequential number.
//
// When the same invoice yields an access key whose record is still GENERATED
// or SIGNED (a transient submit failure, or a crash before submission), Emit
// resumes that record: the document is rebuilt, re-signed, and submitted
// under the same key. Records already SUBMITTED or terminal are duplicates
// and fail with lifecycle.ErrRecordExists.
func (p *Pipeline) Emit(ctx context.Context, inv *model.Invoice) (*EmissionResult, error) {
	if inv.Header.Sequential == "" && p.allocator != nil {
		seq, err := p.allocator.AllocateNext(ctx, inv.Header.Establishment, inv.Header.EmissionPoint, inv.Header.DocType)
		if err != nil {
			return nil, err
		}
		inv.Header.Sequential = seq
	}

	key, err := accesskey.Generate(inv.Header)
	if err != nil {
		return nil, err
	}
	logger := p.logger.With("access_key", key)

	var resumedFrom lifecycle.State
	if _, err := p.store.Create(ctx, key); err != nil {
		if !errors.Is(err, lifecycle.ErrRecordExists) {
			return nil, err
		}
		existing, getErr := p.store.Get(ctx, key)
		if getErr != nil {
			return nil, getErr
		}
		if existing.State != lifecycle.StateGenerated && existing.State != lifecycle.StateSigned {
			return nil, err
		}
		resumedFrom = existing.State
		logger.Info("resuming stranded emission", "state", string(existing.State))
	} else {
		logger.Info("access key generated", "sequential", inv.Header.Sequential)
	}

	doc, err := p.builder.Build(inv, key)
	if err != nil {
		return nil, err
	}

	signed, err := p.signer.Sign(ctx, doc, p.now())
	if err != nil {
		return nil, err
	}
	if resumedFrom != lifecycle.StateSigned {
		if _, err := p.store.Transition(ctx, key, lifecycle.StateSigned, nil); err != nil {
			return nil, err
		}
	}
	logger.Info("document signed", "bytes", len(signed))

	reception, err := p.gateway.Submit(ctx, signed)
	if err != nil {
		// Transient failure: record stays SIGNED, a later Emit with the same
		// invoice resumes from here.
		if _, annErr := p.store.Annotate(ctx, key, func(r *lifecycle.Record) {
			r.SubmissionAttempts++
			r.LastAuthorityMessage = err.Error()
		}); annErr != nil {
			logger.Error("failed to annotate record after submit failure", "error", annErr)
		}
		return nil, err
	}

	if reception.Status == authority.ReceptionRejected {
		messages := reception.Messages
		_, annErr := p.store.Annotate(ctx, key, func(r *lifecycle.Record) {
			r.SubmissionAttempts++
			r.LastAuthorityMessage = joinMessages(messages)
		})
		if annErr != nil {
			return nil, annErr
		}
		logger.Warn("rejected at reception")
		return nil, model.NewRejectionError(key, "reception", messages)
	}

	record, err := p.store.Transition(ctx, key, lifecycle.StateSubmitted, func(r *lifecycle.Record) {
		r.SubmissionAttempts++
	})
	if err != nil {
		return nil, err
	}
	logger.Info("document submitted")

	return &EmissionResult{AccessKey: key, SignedXML: signed, Record: record}, nil
}

// CheckAuthorization performs exactly one poll and applies any resulting
// transition. A PENDING answer leaves the record SUBMITTED.
func (p *Pipeline) CheckAuthorization(ctx context.Context, accessKey string) (*lifecycle.Record, error) {
	result, err := p.gateway.PollAuthorization(ctx, accessKey)
	if err != nil {
		return nil, err
	}
	return p.applyAuthorization(ctx, accessKey, result)
}

// AwaitAuthorization polls until the authority decides, the context is
// cancelled, or the maximum wait elapses. Expiry returns the current record
// together with a model.TimeoutError: non-fatal, the record stays SUBMITTED
// and a later poll can still resolve it. Terminal business outcomes
// (rejection, return) are reported as typed errors alongside the updated
// record.
func (p *Pipeline) AwaitAuthorization(ctx context.Context, accessKey string) (*lifecycle.Record, error) {
	started := p.now()
	deadline := started.Add(p.maxPollWait)
	polls := 0

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Cancelled mid-wait: the record stays SUBMITTED untouched.
			return nil, ctx.Err()
		case <-timer.C:
		}

		result, err := p.gateway.PollAuthorization(ctx, accessKey)
		if err != nil {
			return nil, err
		}
		polls++

		if result.Status != authority.AuthorizationPending {
			return p.applyAuthorization(ctx, accessKey, result)
		}

		if p.now().Add(p.pollInterval).After(deadline) {
			record, getErr := p.store.Get(ctx, accessKey)
			if getErr != nil {
				return nil, getErr
			}
			p.logger.Warn("authorization still pending", "access_key", accessKey, "polls", polls)
			return record, model.NewTimeoutError(accessKey, p.now().Sub(started), polls)
		}
		timer.Reset(p.pollInterval)
	}
}

func (p *Pipeline) applyAuthorization(ctx context.Context, accessKey string, result *authority.AuthorizationResult) (*lifecycle.Record, error) {
	switch result.Status {
	case authority.AuthorizationAuthorized:
		record, err := p.store.Transition(ctx, accessKey, lifecycle.StateAuthorized, func(r *lifecycle.Record) {
			r.AuthorizationNumber = result.Number
			if !result.Timestamp.IsZero() {
				ts := result.Timestamp
				r.AuthorizationTimestamp = &ts
			}
		})
		if err != nil {
			return nil, err
		}
		p.logger.Info("document authorized", "access_key", accessKey, "number", result.Number)
		return record, nil

	case authority.AuthorizationRejected:
		record, err := p.store.Transition(ctx, accessKey, lifecycle.StateRejected, func(r *lifecycle.Record) {
			r.LastAuthorityMessage = joinMessages(result.Messages)
		})
		if err != nil {
			return nil, err
		}
		return record, model.NewRejectionError(accessKey, "authorization", result.Messages)

	case authority.AuthorizationReturned:
		record, err := p.store.Transition(ctx, accessKey, lifecycle.StateReturned, func(r *lifecycle.Record) {
			r.LastAuthorityMessage = joinMessages(result.Messages)
		})
		if err != nil {
			return nil, err
		}
		return record, model.NewReturnError(accessKey, result.Messages)

	default:
		record, err := p.store.Get(ctx, accessKey)
		if err != nil {
			return nil, err
		}
		return record, nil
	}
}

// Status returns the current lifecycle record for an access key.
func (p *Pipeline) Status(ctx context.Context, accessKey string) (*lifecycle.Record, error) {
	return p.store.Get(ctx, accessKey)
}

func joinMessages(msgs []model.AuthorityMessage) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, m.String())
	}
	return strings.Join(parts, "; ")
}
