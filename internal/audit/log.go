// Package audit records security-relevant domain actions as structured log
// entries on the request logger.
package audit

import (
	"context"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"tradepost.app/internal/auth"
	"tradepost.app/internal/obs"
)

// Record logs action against the entity identified by subject. Request id
// and caller are taken from ctx when present. Blank actions are dropped.
func Record(ctx context.Context, action, subject string, attrs ...zap.Field) {
	action = strings.TrimSpace(action)
	if action == "" {
		return
	}
	fields := make([]zap.Field, 0, len(attrs)+5)
	fields = append(fields,
		zap.Bool("audit", true),
		zap.String("action", action),
		zap.String("subject", subject),
	)
	if rid := middleware.GetReqID(ctx); rid != "" {
		fields = append(fields, zap.String("request_id", rid))
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		fields = append(fields, zap.String("actor", p.ID), zap.String("actor_role", string(p.Role)))
	}
	fields = append(fields, attrs...)

	obs.L().Info("audit", fields...)
	obs.AuditEvent(action)
}
