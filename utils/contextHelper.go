package utils

import (
	"context"

	"github.com/XCarlosEduardoX/backend-darkmart-sub000/appctx"
)

var (
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeyEventId       = appctx.ContextKeyEventId
	ContextKeyActor         = appctx.ContextKeyActor
)

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func GetEventIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyEventId)
}

func SetEventIdInContext(ctx context.Context, eventId string) context.Context {
	return appctx.Set(ctx, ContextKeyEventId, eventId)
}

func GetActorFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyActor)
}

func SetActorInContext(ctx context.Context, actor string) context.Context {
	return appctx.Set(ctx, ContextKeyActor, actor)
}
