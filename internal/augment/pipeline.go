package augment

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vendalia/catalog-ai-platform/internal/crm"
	"github.com/vendalia/catalog-ai-platform/pkg/logging"
)

var tracer = otel.Tracer("catalogai.internal.augment")

// Input is the per-turn material the pipeline works from.
type Input struct {
	From      string
	To        string
	Text      string
	ImageB64  string
	ImageMIME string
}

// Output is the merged augmentation outcome for one turn.
type Output struct {
	// Context is the assembled prompt context, possibly empty.
	Context string
	// Contact is the resolved CRM record, nil when unknown.
	Contact *crm.Contact
	// VisualResolved reports a verified single catalog-page match.
	VisualResolved bool
}

// Pipeline runs the three augmentation stages for a turn. Identity and visual
// run concurrently; retrieval runs after visual because pure-image turns
// derive their query from the visual outcome. Every stage carries its own
// timeout and fails soft to an empty fragment.
type Pipeline struct {
	identity     *IdentityStage
	visual       *VisualStage
	retrieval    *RetrievalStage
	stageTimeout time.Duration
	logger       *logging.Logger
}

// NewPipeline assembles the augmentation pipeline. visual and retrieval may
// be nil for deployments without those sources; identity is mandatory.
func NewPipeline(identity *IdentityStage, visualStage *VisualStage, retrieval *RetrievalStage, stageTimeout time.Duration, logger *logging.Logger) *Pipeline {
	if identity == nil {
		panic("augment: identity stage cannot be nil")
	}
	if stageTimeout <= 0 {
		stageTimeout = 20 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Pipeline{
		identity:     identity,
		visual:       visualStage,
		retrieval:    retrieval,
		stageTimeout: stageTimeout,
		logger:       logger,
	}
}

// Run executes the stages and assembles the fragments in fixed order.
func (p *Pipeline) Run(ctx context.Context, in Input) Output {
	ctx, span := tracer.Start(ctx, "augment.Pipeline.Run")
	defer span.End()

	var (
		wg        sync.WaitGroup
		identFrag string
		contact   *crm.Contact
		visualRes = &VisualResult{}
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer recoverStage(p.logger, "identity")
		stageCtx, cancel := context.WithTimeout(ctx, p.stageTimeout)
		defer cancel()
		_, stageSpan := tracer.Start(stageCtx, "augment.stage.identity")
		defer stageSpan.End()
		identFrag, contact = p.identity.Run(stageCtx, in.From, in.To)
	}()

	if p.visual != nil && in.ImageB64 != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer recoverStage(p.logger, "visual")
			stageCtx, cancel := context.WithTimeout(ctx, p.stageTimeout)
			defer cancel()
			_, stageSpan := tracer.Start(stageCtx, "augment.stage.visual")
			defer stageSpan.End()
			visualRes = p.visual.Run(stageCtx, in.ImageB64, in.ImageMIME)
		}()
	}
	wg.Wait()

	var docsFrag, toneFrag string
	if p.retrieval != nil {
		func() {
			defer recoverStage(p.logger, "retrieval")
			stageCtx, cancel := context.WithTimeout(ctx, p.stageTimeout)
			defer cancel()
			_, stageSpan := tracer.Start(stageCtx, "augment.stage.retrieval")
			defer stageSpan.End()
			docsFrag, toneFrag = p.retrieval.Run(stageCtx, in.Text, in.ImageB64, in.ImageMIME, visualRes.Resolved())
		}()
	}

	assembled := Assemble(map[Source]string{
		SourceIdentity: identFrag,
		SourceVisual:   visualRes.Fragment,
		SourceTone:     toneFrag,
		SourceDocs:     docsFrag,
	})
	span.SetAttributes(
		attribute.Int("augment.context_len", len(assembled)),
		attribute.Bool("augment.visual_resolved", visualRes.Resolved()),
	)

	return Output{
		Context:        assembled,
		Contact:        contact,
		VisualResolved: visualRes.Resolved(),
	}
}

func recoverStage(logger *logging.Logger, stage string) {
	if rec := recover(); rec != nil {
		logger.Error("augmentation stage panicked", "stage", stage, "panic", rec)
	}
}
