package usecase

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("storefront/internal/usecase")

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// 5xx 相当だけ span をエラーにする（業務エラーは属性で残す）
func endSpan(span trace.Span, err error) {
	if err != nil {
		if he, ok := AsHTTPError(err); ok && he.Status < 500 {
			span.SetAttributes(attribute.String("error.code", string(he.Code)))
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}
