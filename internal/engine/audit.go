package engine

import (
	"context"

	"github.com/sentinelai/risk-engine/internal/domain"
)

// QueryAudit returns audit entries matching the filter in id order. The
// log itself is append-only; this is the only read path it exposes.
func (e *Engine) QueryAudit(ctx context.Context, actor domain.Actor, f domain.AuditFilter) ([]*domain.AuditLogEntry, error) {
	if err := requireCapability(actor, domain.RoleAnalyst, "reading the audit log"); err != nil {
		return nil, err
	}

	rctx, cancel := e.repoCtx(ctx)
	defer cancel()
	return e.audit.Query(rctx, f)
}
