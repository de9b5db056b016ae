package utils

import (
	"context"

	"github.com/mmdatafocus/goods_grouper/appctx"
)

// Alias the shared context key type so existing code keeps working.
type contextKey = appctx.ContextKey

var (
	ContextKeyBatchId       = appctx.ContextKeyBatchId
	ContextKeyMessageId     = appctx.ContextKeyMessageId
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeyTrigger       = appctx.ContextKeyTrigger
)

const (
	TriggerConsumer = "consumer"
	TriggerScanner  = "scanner"
	TriggerCLI      = "cli"
)

func GetBatchIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyBatchId)
}

func GetMessageIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyMessageId)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func GetTriggerFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyTrigger)
}

func SetBatchIdInContext(ctx context.Context, batchId string) context.Context {
	return appctx.Set(ctx, ContextKeyBatchId, batchId)
}

func SetMessageIdInContext(ctx context.Context, messageId string) context.Context {
	return appctx.Set(ctx, ContextKeyMessageId, messageId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func SetTriggerInContext(ctx context.Context, trigger string) context.Context {
	return appctx.Set(ctx, ContextKeyTrigger, trigger)
}
