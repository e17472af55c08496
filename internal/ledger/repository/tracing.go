package repository

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tair/stock-ledger/internal/ledger/domain"
)

var tracer = otel.Tracer("stock-repository")

var _ domain.StockRepository = (*TracingStockRepository)(nil)

// TracingStockRepository wraps a StockRepository with spans per operation.
type TracingStockRepository struct {
	inner domain.StockRepository
}

func NewTracingStockRepository(inner domain.StockRepository) *TracingStockRepository {
	return &TracingStockRepository{inner: inner}
}

func keyAttributes(productID, variantID uint32, scope domain.ScopeKey) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64("stock.product_id", int64(productID)),
		attribute.Int64("stock.variant_id", int64(variantID)),
		attribute.String("stock.scope", scope.String()),
	}
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (r *TracingStockRepository) Find(ctx context.Context, productID, variantID uint32, scope domain.ScopeKey) (*domain.StockRecord, error) {
	ctx, span := tracer.Start(ctx, "repository.Find",
		trace.WithAttributes(keyAttributes(productID, variantID, scope)...))
	rec, err := r.inner.Find(ctx, productID, variantID, scope)
	finishSpan(span, err)
	return rec, err
}

func (r *TracingStockRepository) SumQuantity(ctx context.Context, productID, variantID uint32, scope domain.ScopeKey) (int32, error) {
	ctx, span := tracer.Start(ctx, "repository.SumQuantity",
		trace.WithAttributes(keyAttributes(productID, variantID, scope)...))
	sum, err := r.inner.SumQuantity(ctx, productID, variantID, scope)
	if err == nil {
		span.SetAttributes(attribute.Int("stock.quantity", int(sum)))
	}
	finishSpan(span, err)
	return sum, err
}

func (r *TracingStockRepository) SumVariants(ctx context.Context, productID uint32, scope domain.ScopeKey) (int32, int64, error) {
	ctx, span := tracer.Start(ctx, "repository.SumVariants",
		trace.WithAttributes(
			attribute.Int64("stock.product_id", int64(productID)),
			attribute.String("stock.scope", scope.String()),
		))
	sum, rows, err := r.inner.SumVariants(ctx, productID, scope)
	if err == nil {
		span.SetAttributes(
			attribute.Int("stock.variant_sum", int(sum)),
			attribute.Int64("stock.variant_rows", rows),
		)
	}
	finishSpan(span, err)
	return sum, rows, err
}

func (r *TracingStockRepository) Mutate(ctx context.Context, productID, variantID uint32, scope domain.ScopeKey, fn domain.MutateFunc) (domain.Mutation, error) {
	ctx, span := tracer.Start(ctx, "repository.Mutate",
		trace.WithAttributes(keyAttributes(productID, variantID, scope)...))
	m, err := r.inner.Mutate(ctx, productID, variantID, scope, fn)
	if err == nil {
		span.SetAttributes(
			attribute.Int("stock.quantity.previous", int(m.Previous)),
			attribute.Int("stock.quantity.new", int(m.New)),
			attribute.Bool("stock.row_created", m.Created),
		)
	}
	finishSpan(span, err)
	return m, err
}

func (r *TracingStockRepository) UpdatePolicy(ctx context.Context, productID, variantID uint32, scope domain.ScopeKey, policy domain.OutOfStockPolicy) error {
	ctx, span := tracer.Start(ctx, "repository.UpdatePolicy",
		trace.WithAttributes(append(keyAttributes(productID, variantID, scope),
			attribute.String("stock.policy", policy.String()))...))
	err := r.inner.UpdatePolicy(ctx, productID, variantID, scope, policy)
	finishSpan(span, err)
	return err
}

func (r *TracingStockRepository) SetLocation(ctx context.Context, productID, variantID uint32, scope domain.ScopeKey, location string) error {
	ctx, span := tracer.Start(ctx, "repository.SetLocation",
		trace.WithAttributes(keyAttributes(productID, variantID, scope)...))
	err := r.inner.SetLocation(ctx, productID, variantID, scope, location)
	finishSpan(span, err)
	return err
}

func (r *TracingStockRepository) GetLocation(ctx context.Context, productID, variantID uint32, scope domain.ScopeKey) (string, bool, error) {
	ctx, span := tracer.Start(ctx, "repository.GetLocation",
		trace.WithAttributes(keyAttributes(productID, variantID, scope)...))
	loc, ok, err := r.inner.GetLocation(ctx, productID, variantID, scope)
	finishSpan(span, err)
	return loc, ok, err
}

func (r *TracingStockRepository) DeleteProduct(ctx context.Context, productID uint32, keepShared bool) ([]domain.StockRecord, error) {
	ctx, span := tracer.Start(ctx, "repository.DeleteProduct",
		trace.WithAttributes(
			attribute.Int64("stock.product_id", int64(productID)),
			attribute.Bool("stock.keep_shared", keepShared),
		))
	removed, err := r.inner.DeleteProduct(ctx, productID, keepShared)
	if err == nil {
		span.SetAttributes(attribute.Int("stock.rows_removed", len(removed)))
	}
	finishSpan(span, err)
	return removed, err
}
