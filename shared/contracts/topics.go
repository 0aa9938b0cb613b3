package contracts

// Queue names. Producers and consumers agree on these by convention; each one
// is asserted as a durable queue by whichever side touches it first.
const (
	TopicUserCreated = "NOTIF_AUTH.USER_CREATED"

	TopicPaymentCompleted = "PAYMENT.NOTIFICATION_COMPLETED"
	TopicPaymentFailed    = "PAYMENT.NOTIFICATION_FAILED"

	TopicProductCreatedNotification = "PRODUCT_NOTIFICATION.PRODUCT_CREATED"
	TopicProductCreatedDashboard    = "PRODUCT_SELLER_DASHBOARD.PRODUCT_CREATED"
	TopicProductUpdated             = "PRODUCT_UPDATED"
	TopicProductDeleted             = "PRODUCT_DELETED"

	TopicOrderCreated   = "ORDER_CREATED"
	TopicOrderUpdated   = "ORDER_UPDATED"
	TopicOrderCancelled = "ORDER_CANCELLED"
)

// DeadLetterQueue returns the queue failed messages of topic are parked in.
func DeadLetterQueue(topic string) string {
	return topic + ".dlq"
}

// NotificationTopics are consumed by the notification service.
var NotificationTopics = []string{
	TopicUserCreated,
	TopicPaymentCompleted,
	TopicPaymentFailed,
	TopicProductCreatedNotification,
}
