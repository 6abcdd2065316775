package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/backstage/services/fulfillment/config"
	"example.com/backstage/services/fulfillment/internal/mailer"
	"example.com/backstage/services/fulfillment/internal/metrics"
	"example.com/backstage/services/fulfillment/internal/models"
	"example.com/backstage/services/fulfillment/internal/repositories"
)

// Notification types recorded for each dispatch
const (
	NotificationNewOrder     = "new_order"
	NotificationLabelCreated = "label_created"
	NotificationShipped      = "shipped"
	NotificationDelivered    = "delivered"
	NotificationDailySummary = "daily_summary"
)

// NotificationService dispatches operator notifications for order and
// shipment lifecycle changes. Dispatch is best-effort: a failed send is
// recorded and logged but never propagated to the caller, so a notification
// failure can never roll back the transition that triggered it.
type NotificationService struct {
	notificationRepo *repositories.NotificationRepository
	orderRepo        *repositories.OrderRepository
	sender           mailer.Sender
	metrics          *metrics.Metrics
	recipient        string
}

// NewNotificationService creates a new notification service
func NewNotificationService(
	notificationRepo *repositories.NotificationRepository,
	orderRepo *repositories.OrderRepository,
	sender mailer.Sender,
	m *metrics.Metrics,
	cfg config.EmailConfig,
) *NotificationService {
	return &NotificationService{
		notificationRepo: notificationRepo,
		orderRepo:        orderRepo,
		sender:           sender,
		metrics:          m,
		recipient:        cfg.Recipient,
	}
}

// NotifyNewOrder announces an order seen for the first time
func (s *NotificationService) NotifyNewOrder(ctx context.Context, order *models.Order) {
	subject := fmt.Sprintf("New %s order %s", order.Platform, order.OrderNumber)
	body := fmt.Sprintf(
		"A new order was synced from %s.\n\nOrder: %s\nCustomer: %s\nItems: %d\nTotal: %s %s\n",
		order.Platform, order.OrderNumber, order.CustomerName,
		len(order.Items), order.Total.StringFixed(2), order.Currency,
	)
	s.dispatch(ctx, NotificationNewOrder, subject, body)
}

// NotifyLabelCreated announces a shipping label for an order
func (s *NotificationService) NotifyLabelCreated(ctx context.Context, order *models.Order, shipment *models.Shipment) {
	subject := fmt.Sprintf("Label created for order %s", order.OrderNumber)
	body := fmt.Sprintf(
		"A shipping label was created.\n\nOrder: %s\nCarrier: %s\nTracking: %s\n",
		order.OrderNumber, shipment.Carrier, shipment.TrackingNumber,
	)
	s.dispatch(ctx, NotificationLabelCreated, subject, body)
}

// NotifyShipped announces a shipment entering transit
func (s *NotificationService) NotifyShipped(ctx context.Context, order *models.Order, shipment *models.Shipment) {
	subject := fmt.Sprintf("Order %s shipped", order.OrderNumber)
	body := fmt.Sprintf(
		"The shipment is in transit.\n\nOrder: %s\nCarrier: %s\nTracking: %s\n",
		order.OrderNumber, shipment.Carrier, shipment.TrackingNumber,
	)
	s.dispatch(ctx, NotificationShipped, subject, body)
}

// NotifyDelivered announces a completed delivery
func (s *NotificationService) NotifyDelivered(ctx context.Context, order *models.Order, shipment *models.Shipment) {
	subject := fmt.Sprintf("Order %s delivered", order.OrderNumber)
	body := fmt.Sprintf(
		"The shipment was delivered.\n\nOrder: %s\nTracking: %s\nSignature: %s\n",
		order.OrderNumber, shipment.TrackingNumber, shipment.DeliverySignature,
	)
	s.dispatch(ctx, NotificationDelivered, subject, body)
}

// SendDailySummary aggregates the last 24 hours of orders per status and
// mails the summary to the configured recipient
func (s *NotificationService) SendDailySummary(ctx context.Context) error {
	since := time.Now().UTC().Add(-24 * time.Hour)
	summaries, err := s.orderRepo.SummarizeSince(ctx, since)
	if err != nil {
		return err
	}

	var body strings.Builder
	body.WriteString("Order summary for the last 24 hours:\n\n")
	if len(summaries) == 0 {
		body.WriteString("No orders synced.\n")
	}
	var total int64
	for _, summary := range summaries {
		total += summary.Count
		fmt.Fprintf(&body, "%-16s %5d orders, revenue %s\n",
			summary.Status.String(), summary.Count, summary.Revenue.StringFixed(2))
	}
	fmt.Fprintf(&body, "\nTotal: %d orders\n", total)

	subject := fmt.Sprintf("Daily fulfillment summary (%d orders)", total)
	s.dispatch(ctx, NotificationDailySummary, subject, body.String())
	return nil
}

// dispatch sends one notification and records the attempt
func (s *NotificationService) dispatch(ctx context.Context, notificationType, subject, body string) {
	record := &models.Notification{
		Type:      notificationType,
		Recipient: s.recipient,
		Subject:   subject,
	}

	err := s.sender.Send(s.recipient, subject, body)
	if err != nil {
		record.Status = "failed"
		record.Error = err.Error()
		s.metrics.IncrementCounter(metrics.CounterNotificationsFail)
		log.Warn().Err(err).
			Str("type", notificationType).
			Str("subject", subject).
			Msg("Failed to send notification")
	} else {
		now := time.Now().UTC()
		record.Status = "sent"
		record.SentAt = &now
		s.metrics.IncrementCounter(metrics.CounterNotificationsSent)
	}

	if err := s.notificationRepo.Create(ctx, record); err != nil {
		log.Warn().Err(err).
			Str("type", notificationType).
			Msg("Failed to record notification")
	}
}
