package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/ayo6706/merchant-settlement/internal/api/problem"
	"github.com/ayo6706/merchant-settlement/internal/observability"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Depth reports the number of items waiting in one pipeline queue.
type Depth func(ctx context.Context) (int64, error)

// BalanceSnapshot is the settlement account view held by the ledger.
type BalanceSnapshot interface {
	Snapshot() map[string]decimal.Decimal
	RefreshedAt() time.Time
}

// OpsHandler reports pipeline backlog and the cached settlement balances.
type OpsHandler struct {
	queues map[string]Depth
	ledger BalanceSnapshot
}

func NewOpsHandler(queues map[string]Depth, ledger BalanceSnapshot) *OpsHandler {
	return &OpsHandler{queues: queues, ledger: ledger}
}

type opsStatus struct {
	Queues            map[string]int64  `json:"queues"`
	Balances          map[string]string `json:"balances"`
	BalancesRefreshed *time.Time        `json:"balances_refreshed_at,omitempty"`
}

func (h *OpsHandler) Status(w http.ResponseWriter, r *http.Request) {
	out := opsStatus{
		Queues:   make(map[string]int64, len(h.queues)),
		Balances: make(map[string]string),
	}

	for name, depth := range h.queues {
		n, err := depth(r.Context())
		if err != nil {
			zap.L().Error("failed to read queue depth", zap.String("queue", name), zap.Error(err))
			RespondError(w, r, http.StatusServiceUnavailable, problem.QueueUnavailable, name+" depth unavailable")
			return
		}
		observability.SetQueueDepth(name, n)
		out.Queues[name] = n
	}

	if h.ledger != nil {
		for asset, amount := range h.ledger.Snapshot() {
			out.Balances[asset] = amount.String()
		}
		if at := h.ledger.RefreshedAt(); !at.IsZero() {
			out.BalancesRefreshed = &at
		}
	}

	RespondJSON(w, http.StatusOK, out)
}
