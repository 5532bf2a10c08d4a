package meter

import (
	"log/slog"

	"github.com/aimarket/marketsdk"
)

// LogMeter logs request events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ marketsdk.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnRequest(e marketsdk.RequestEvent) {
	m.Logger.Info("request",
		"request_id", e.RequestID,
		"provider", e.Provider,
		"model", e.Model,
		"stream", e.Stream,
		"estimated_tokens", e.EstimatedIn,
	)
}

func (m *LogMeter) OnResult(e marketsdk.ResultEvent) {
	if !e.Success {
		m.Logger.Warn("result_error",
			"request_id", e.RequestID,
			"provider", e.Provider,
			"model", e.Model,
			"stream", e.Stream,
			"attempts", e.Attempts,
			"duration_ms", e.Duration.Milliseconds(),
			"error", e.Error,
		)
		return
	}

	m.Logger.Info("result",
		"request_id", e.RequestID,
		"provider", e.Provider,
		"model", e.Model,
		"stream", e.Stream,
		"attempts", e.Attempts,
		"duration_ms", e.Duration.Milliseconds(),
		"prompt_tokens", e.Usage.PromptTokens,
		"completion_tokens", e.Usage.CompletionTokens,
		"cost_usd", e.Cost,
	)

	// Make silent mispricing and broken SSE framing visible.
	if e.PricingFallback {
		m.Logger.Warn("pricing_fallback", "request_id", e.RequestID, "model", e.Model)
	}
	if e.MalformedFrames > 0 {
		m.Logger.Warn("malformed_frames", "request_id", e.RequestID, "count", e.MalformedFrames)
	}
}
