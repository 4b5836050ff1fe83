package facturalib

import (
	"context"
	"time"

	"github.com/facturex/sri-pipeline/internal/authority"
	"github.com/facturex/sri-pipeline/internal/lifecycle"
	"github.com/facturex/sri-pipeline/internal/processor"
	"github.com/facturex/sri-pipeline/internal/sequence"
	"github.com/facturex/sri-pipeline/internal/sign"
)

// SRI web service endpoints per environment
const (
	TestReceptionURL     = "https://celcer.sri.gob.ec/comprobantes-electronicos-ws/RecepcionComprobantesOffline"
	TestAuthorizationURL = "https://celcer.sri.gob.ec/comprobantes-electronicos-ws/AutorizacionComprobantesOffline"
	ProdReceptionURL     = "https://cel.sri.gob.ec/comprobantes-electronicos-ws/RecepcionComprobantesOffline"
	ProdAuthorizationURL = "https://cel.sri.gob.ec/comprobantes-electronicos-ws/AutorizacionComprobantesOffline"
)

// Options configures an Emitter
type Options struct {
	// Certificate
	CertificatePath     string
	CertificatePassword string

	// CheckRevocation queries the issuer's OCSP responder before each
	// signature; inconclusive answers are advisory and never block.
	CheckRevocation bool

	// Endpoints; when empty, chosen from Production
	ReceptionURL     string
	AuthorizationURL string
	Production       bool

	// Polling policy; zero values use the pipeline defaults
	PollInterval time.Duration
	MaxPollWait  time.Duration
}

// EmissionResult mirrors the pipeline's emission outcome.
type EmissionResult struct {
	AccessKey string
	SignedXML []byte
	Record    *Record
}

// Emitter is the embeddable facade over the emission pipeline.
type Emitter struct {
	pipeline *processor.Pipeline
}

// NewEmitter wires a pipeline from the given options with an in-memory
// lifecycle store and sequence allocator.
func NewEmitter(opts Options) (*Emitter, error) {
	receptionURL := opts.ReceptionURL
	authorizationURL := opts.AuthorizationURL
	if receptionURL == "" {
		if opts.Production {
			receptionURL = ProdReceptionURL
		} else {
			receptionURL = TestReceptionURL
		}
	}
	if authorizationURL == "" {
		if opts.Production {
			authorizationURL = ProdAuthorizationURL
		} else {
			authorizationURL = TestAuthorizationURL
		}
	}

	var signerOpts []sign.SignerOption
	if opts.CheckRevocation {
		signerOpts = append(signerOpts, sign.WithRevocationCheck(sign.NewRevocationChecker(nil)))
	}
	signer := sign.NewSigner(sign.NewP12Provider(opts.CertificatePath, opts.CertificatePassword), signerOpts...)
	gateway := authority.NewClient(receptionURL, authorizationURL)

	pipelineOpts := []processor.Option{
		processor.WithSequenceAllocator(sequence.NewMemoryAllocator()),
	}
	if opts.PollInterval > 0 && opts.MaxPollWait > 0 {
		pipelineOpts = append(pipelineOpts, processor.WithPollPolicy(opts.PollInterval, opts.MaxPollWait))
	}

	pipeline := processor.NewPipeline(signer, gateway, lifecycle.NewInMemoryStore(), pipelineOpts...)
	return &Emitter{pipeline: pipeline}, nil
}

// Emit generates, signs, and submits one invoice.
func (e *Emitter) Emit(ctx context.Context, inv *Invoice) (*EmissionResult, error) {
	result, err := e.pipeline.Emit(ctx, inv)
	if err != nil {
		return nil, err
	}
	return &EmissionResult{
		AccessKey: result.AccessKey,
		SignedXML: result.SignedXML,
		Record:    result.Record,
	}, nil
}

// AwaitAuthorization polls until the authority decides or the poll window
// expires.
func (e *Emitter) AwaitAuthorization(ctx context.Context, accessKey string) (*Record, error) {
	return e.pipeline.AwaitAuthorization(ctx, accessKey)
}

// Status returns the lifecycle record for an access key.
func (e *Emitter) Status(ctx context.Context, accessKey string) (*Record, error) {
	return e.pipeline.Status(ctx, accessKey)
}
