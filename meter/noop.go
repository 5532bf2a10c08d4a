package meter

import "github.com/aimarket/marketsdk"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ marketsdk.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnRequest(marketsdk.RequestEvent) {}
func (m *NoopMeter) OnResult(marketsdk.ResultEvent)   {}
