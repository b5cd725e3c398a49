package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vendalia/catalog-ai-platform/pkg/logging"
)

var toolExecutionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "catalogai",
		Subsystem: "tools",
		Name:      "executions_total",
		Help:      "Tool executions by name and outcome",
	},
	[]string{"tool", "outcome"}, // outcome: ok, failed, unknown
)

func init() {
	prometheus.MustRegister(toolExecutionsTotal)
}

// handler executes one tool kind. Implementations return an error only for
// unexpected internal failures; expected business outcomes go in the Result.
type handler interface {
	Spec() Spec
	Run(ctx context.Context, args json.RawMessage, tc *Context) (Result, error)
}

// Registry is the fixed catalogue of tools plus the dispatcher over it.
type Registry struct {
	handlers map[Kind]handler
	order    []Kind
	logger   *logging.Logger
}

// Deps bundles the collaborators tool implementations need.
type Deps struct {
	Contacts  ContactDirectory
	Knowledge KnowledgeSearcher
	Vision    ImageReader
	Catalogs  []CatalogFile
	Hours     HoursConfig
	Queues    QueueConfig
	Logger    *logging.Logger
	Now       func() time.Time
}

// QueueConfig names the human queues transfers can target.
type QueueConfig struct {
	Sales   string
	Support string
}

// NewRegistry builds the static tool table. The set is fixed per deployment.
func NewRegistry(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Queues.Sales == "" {
		deps.Queues.Sales = "sales"
	}
	if deps.Queues.Support == "" {
		deps.Queues.Support = "support"
	}

	r := &Registry{
		handlers: make(map[Kind]handler),
		logger:   deps.Logger,
	}
	register := func(kind Kind, h handler) {
		r.handlers[kind] = h
		r.order = append(r.order, kind)
	}

	register(KindBusinessHours, &businessHoursTool{hours: deps.Hours, now: deps.Now})
	register(KindTransfer, &transferTool{queues: deps.Queues})
	register(KindSendCatalog, &sendCatalogTool{catalogs: deps.Catalogs})
	register(KindKnowledge, &knowledgeTool{searcher: deps.Knowledge})
	register(KindVisionExtract, &visionExtractTool{reader: deps.Vision})
	register(KindConsent, &consentTool{})
	register(KindPromoter, &promoterTool{contacts: deps.Contacts})
	register(KindEnd, &endTool{})

	return r
}

// Catalogue returns the tool specs in registration order, for the model call.
func (r *Registry) Catalogue() []Spec {
	specs := make([]Spec, 0, len(r.order))
	for _, kind := range r.order {
		specs = append(specs, r.handlers[kind].Spec())
	}
	return specs
}

// Execute runs a single invocation. It is total over the tool-name set:
// unknown names and internal failures both come back as failed Results with a
// user-safe error, never as a propagated failure.
func (r *Registry) Execute(ctx context.Context, inv Invocation, tc *Context) (result Result) {
	h, ok := r.handlers[Kind(inv.Name)]
	if !ok {
		toolExecutionsTotal.WithLabelValues(inv.Name, "unknown").Inc()
		r.logger.Warn("unknown tool requested", "tool", inv.Name)
		return failure(fmt.Sprintf("herramienta desconocida %q", inv.Name), nil)
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked", "tool", inv.Name, "panic", rec)
			toolExecutionsTotal.WithLabelValues(inv.Name, "failed").Inc()
			result = failure("la herramienta no pudo completarse", nil)
		}
	}()

	args := inv.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	res, err := h.Run(ctx, args, tc)
	if err != nil {
		r.logger.Error("tool execution failed", "tool", inv.Name, "error", err)
		toolExecutionsTotal.WithLabelValues(inv.Name, "failed").Inc()
		return failure("la herramienta no pudo completarse", nil)
	}

	outcome := "ok"
	if !res.OK {
		outcome = "failed"
	}
	toolExecutionsTotal.WithLabelValues(inv.Name, outcome).Inc()
	return res
}

// Executed pairs an invocation with its result, in execution order.
type Executed struct {
	Invocation Invocation
	Result     Result
}

// ExecuteAll runs invocations strictly sequentially in request order. Each
// tool sees the session-variable patches of the tools before it; the merged
// patch comes back for the orchestrator to apply once.
func (r *Registry) ExecuteAll(ctx context.Context, invs []Invocation, tc *Context) ([]Executed, map[string]string) {
	merged := make(map[string]string)
	working := make(map[string]string, len(tc.Vars)+4)
	for k, v := range tc.Vars {
		working[k] = v
	}

	executed := make([]Executed, 0, len(invs))
	for _, inv := range invs {
		stepCtx := *tc
		stepCtx.Vars = working

		res := r.Execute(ctx, inv, &stepCtx)
		executed = append(executed, Executed{Invocation: inv, Result: res})

		for k, v := range res.Patch {
			working[k] = v
			merged[k] = v
		}
	}
	return executed, merged
}
