package enums

// OutboxEventType enumerates domain events written to the outbox.
type OutboxEventType string

const (
	EventOrderCreated   OutboxEventType = "order.created"
	EventOrderReceived  OutboxEventType = "order.received"
	EventItemDelivered  OutboxEventType = "order.item_delivered"
	EventOrderCompleted OutboxEventType = "order.completed"
	EventOrderCancelled OutboxEventType = "order.cancelled"
)

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder     OutboxAggregateType = "order"
	AggregateOrderItem OutboxAggregateType = "order_item"
)
