package observability

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/msaidizi/internal/provision"
)

// InstrumentedProvider wraps a provision.Provider with metrics and
// tracing. Every platform call gets a span and an operation-labeled
// counter/histogram pair.
type InstrumentedProvider struct {
	inner   provision.Provider
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedProvider wraps a provisioning provider with observability.
func NewInstrumentedProvider(inner provision.Provider, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedProvider {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedProvider{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
	}
}

func (p *InstrumentedProvider) CreateKnowledgeBase(ctx context.Context, req *provision.CreateKnowledgeBaseRequest) (*provision.ProviderKnowledgeBase, error) {
	ctx, finish := p.begin(ctx, "create_knowledge_base",
		attribute.String("kb.seed_url", req.SeedURL),
	)
	kb, err := p.inner.CreateKnowledgeBase(ctx, req)
	finish(ctx, err)
	return kb, err
}

func (p *InstrumentedProvider) CreateAgent(ctx context.Context, req *provision.CreateAgentRequest) (*provision.ProviderAgent, error) {
	ctx, finish := p.begin(ctx, "create_agent")
	agent, err := p.inner.CreateAgent(ctx, req)
	finish(ctx, err)
	return agent, err
}

func (p *InstrumentedProvider) GetAgent(ctx context.Context, agentID string) (*provision.ProviderAgent, error) {
	ctx, finish := p.begin(ctx, "get_agent",
		attribute.String("agent.id", agentID),
	)
	agent, err := p.inner.GetAgent(ctx, agentID)
	finish(ctx, err)
	return agent, err
}

func (p *InstrumentedProvider) CreateAgentAccessKey(ctx context.Context, agentID, keyName string) (string, error) {
	ctx, finish := p.begin(ctx, "create_access_key",
		attribute.String("agent.id", agentID),
	)
	secret, err := p.inner.CreateAgentAccessKey(ctx, agentID, keyName)
	finish(ctx, err)
	return secret, err
}

func (p *InstrumentedProvider) AttachKnowledgeBase(ctx context.Context, agentID, kbID string) error {
	ctx, finish := p.begin(ctx, "attach_knowledge_base",
		attribute.String("agent.id", agentID),
		attribute.String("kb.id", kbID),
	)
	err := p.inner.AttachKnowledgeBase(ctx, agentID, kbID)
	finish(ctx, err)
	return err
}

// begin opens a span (when tracing is on) and returns a finish func
// that records the span outcome and the operation metrics.
func (p *InstrumentedProvider) begin(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(context.Context, error)) {
	var span trace.Span
	if p.tracer != nil {
		ctx, span = p.tracer.Start(ctx, "provider."+operation, trace.WithAttributes(attrs...))
	}

	start := time.Now()
	return ctx, func(_ context.Context, err error) {
		duration := time.Since(start).Seconds()

		if span != nil {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}

		if p.metrics != nil {
			status := "success"
			if err != nil {
				status = "error"
			}
			p.metrics.ProviderRequestsTotal.WithLabelValues(operation, status).Inc()
			p.metrics.ProviderRequestDuration.WithLabelValues(operation).Observe(duration)
		}
	}
}

func statusCode(code int) string {
	return strconv.Itoa(code)
}
