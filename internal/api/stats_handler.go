package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/vendalia/catalog-ai-platform/pkg/logging"
)

// StatsHandler summarizes the service's own Prometheus counters for the
// admin dashboard, which wants small JSON totals rather than the full
// exposition format.
type StatsHandler struct {
	gatherer prometheus.Gatherer
	logger   *logging.Logger
}

func NewStatsHandler(gatherer prometheus.Gatherer, logger *logging.Logger) *StatsHandler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &StatsHandler{gatherer: gatherer, logger: logger}
}

type statsResponse struct {
	TurnsByOutcome        map[string]int64 `json:"turns_by_outcome"`
	PolicyOverridesByRule map[string]int64 `json:"policy_overrides_by_rule"`
	LLMTokensByDirection  map[string]int64 `json:"llm_tokens_by_direction"`
}

// GetStats handles GET /admin/stats.
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	mfs, err := h.gatherer.Gather()
	if err != nil {
		h.logger.Error("metrics gather failed", "error", err)
		http.Error(w, "metrics unavailable", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		TurnsByOutcome:        counterByLabel(mfs, "catalogai_conversation_turns_total", "outcome"),
		PolicyOverridesByRule: counterByLabel(mfs, "catalogai_policy_overrides_total", "rule"),
		LLMTokensByDirection:  counterByLabel(mfs, "catalogai_llm_tokens_total", "direction"),
	}, h.logger)
}

// counterByLabel flattens one counter family into label value totals.
func counterByLabel(mfs []*dto.MetricFamily, family, label string) map[string]int64 {
	out := map[string]int64{}
	for _, mf := range mfs {
		if mf == nil || mf.GetName() != family {
			continue
		}
		for _, metric := range mf.Metric {
			if metric == nil || metric.GetCounter() == nil {
				continue
			}
			for _, lp := range metric.Label {
				if lp != nil && lp.GetName() == label {
					out[lp.GetValue()] += int64(metric.GetCounter().GetValue())
				}
			}
		}
	}
	return out
}
