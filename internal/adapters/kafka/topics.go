package kafka

// Topic definitions for Kafka event streaming
const (
	// TopicCostEvents carries JSON cost events from producers
	TopicCostEvents = "cost.events"
	// TopicCostEventsDLQ receives cost events that could not be recorded
	TopicCostEventsDLQ = "cost.events.dlq"
)

// Header keys set on dead-lettered messages
const (
	HeaderDLQReason   = "x-dlq-reason"
	HeaderSourceTopic = "x-source-topic"
	HeaderContentType = "content-type"
	ContentTypeJSON   = "application/json"
)
