package models

import "context"

type dialogIDKey struct{}

// ContextWithDialogID tags a context with the dialog it serves.
func ContextWithDialogID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, dialogIDKey{}, id)
}

// DialogIDFromContext returns the dialog id set by ContextWithDialogID, or "".
func DialogIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(dialogIDKey{}).(string)
	return id
}
