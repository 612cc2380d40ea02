package events

// Stream names shared by every stage. Payloads are JSON-encoded event
// objects carried in a single "payload" field on the wire.
const (
	StreamNewsRaw         = "news.raw"
	StreamNewsEntity      = "news.entity"
	StreamSignalRaw       = "signal.raw"
	StreamSignalTradeable = "signal.tradeable"
	StreamSignalUniverse  = "signal.universe"
	StreamOrderIntent     = "order.intent"
	StreamOrderApproved   = "order.approved"
	StreamOrderRejected   = "order.rejected"
	StreamExecutionReport = "execution.report"
	StreamPnLSnapshot     = "pnl.snapshot"
	StreamRiskAlert       = "risk.alert"
)

// PipelineStreams lists every stream the orchestrator reports on.
var PipelineStreams = []string{
	StreamNewsRaw,
	StreamNewsEntity,
	StreamSignalRaw,
	StreamSignalTradeable,
	StreamSignalUniverse,
	StreamOrderIntent,
	StreamOrderApproved,
	StreamOrderRejected,
	StreamExecutionReport,
	StreamPnLSnapshot,
}
