package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/backstage/services/fulfillment/config"
	"example.com/backstage/services/fulfillment/internal/carriers"
	"example.com/backstage/services/fulfillment/internal/messaging"
	"example.com/backstage/services/fulfillment/internal/metrics"
	"example.com/backstage/services/fulfillment/internal/models"
	"example.com/backstage/services/fulfillment/internal/repositories"
)

// Event types recorded on tracking events
const (
	eventTypeManual  = "manual"
	eventTypeCarrier = "carrier_update"
)

// LabelInput carries operator-supplied label data
type LabelInput struct {
	TrackingNumber string `json:"tracking_number"`
	Carrier        string `json:"carrier"`
	ServiceType    string `json:"service_type"`
}

// TrackingRunResult summarizes one batch refresh pass
type TrackingRunResult struct {
	Checked int      `json:"checked"`
	Updated int      `json:"updated"`
	Errors  []string `json:"errors,omitempty"`
}

// TrackingService owns the shipment state machine. Status only ever moves
// forward: a carrier or operator reporting an earlier state than the
// shipment has already reached is recorded as an event but never regresses
// the status, and delivered is terminal.
type TrackingService struct {
	orderRepo    *repositories.OrderRepository
	shipmentRepo *repositories.ShipmentRepository
	eventRepo    *repositories.TrackingEventRepository
	registry     *carriers.Registry
	notifier     *NotificationService
	publisher    messaging.EventPublisher
	metrics      *metrics.Metrics
	cfg          config.TrackingConfig

	now func() time.Time
}

// NewTrackingService creates a new tracking service
func NewTrackingService(
	orderRepo *repositories.OrderRepository,
	shipmentRepo *repositories.ShipmentRepository,
	eventRepo *repositories.TrackingEventRepository,
	registry *carriers.Registry,
	notifier *NotificationService,
	publisher messaging.EventPublisher,
	m *metrics.Metrics,
	cfg config.TrackingConfig,
) *TrackingService {
	return &TrackingService{
		orderRepo:    orderRepo,
		shipmentRepo: shipmentRepo,
		eventRepo:    eventRepo,
		registry:     registry,
		notifier:     notifier,
		publisher:    publisher,
		metrics:      m,
		cfg:          cfg,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// GetShipment returns a shipment and its full event history
func (s *TrackingService) GetShipment(ctx context.Context, shipmentID uuid.UUID) (*models.Shipment, []models.TrackingEvent, error) {
	shipment, err := s.shipmentRepo.GetByID(ctx, shipmentID)
	if err != nil {
		return nil, nil, err
	}
	events, err := s.eventRepo.ListByShipment(ctx, shipmentID)
	if err != nil {
		return nil, nil, err
	}
	return shipment, events, nil
}

// GetShipmentForOrder returns the shipment owned by an order with its events
func (s *TrackingService) GetShipmentForOrder(ctx context.Context, orderID uuid.UUID) (*models.Shipment, []models.TrackingEvent, error) {
	shipment, err := s.shipmentRepo.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	events, err := s.eventRepo.ListByShipment(ctx, shipment.ID)
	if err != nil {
		return nil, nil, err
	}
	return shipment, events, nil
}

// RecordLabelCreated records a shipping label for an order, creating the
// shipment if the order does not have one yet. Delivered shipments are
// left untouched.
func (s *TrackingService) RecordLabelCreated(ctx context.Context, orderID uuid.UUID, input LabelInput) (*models.Shipment, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	shipment, err := s.shipmentRepo.GetByOrderID(ctx, orderID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		shipment = &models.Shipment{
			OrderID:        orderID,
			TrackingNumber: input.TrackingNumber,
			Carrier:        input.Carrier,
			CarrierCode:    carriers.NormalizeCarrier(input.Carrier),
			ServiceType:    input.ServiceType,
			CurrentStatus:  models.ShipmentStatusLabelCreated,
			LabelCreatedAt: &now,
		}
		if err := s.shipmentRepo.Create(ctx, shipment); err != nil {
			return nil, err
		}
	} else {
		if shipment.CurrentStatus.IsTerminal() {
			return shipment, nil
		}
		if input.TrackingNumber != "" {
			shipment.TrackingNumber = input.TrackingNumber
		}
		if input.Carrier != "" {
			shipment.Carrier = input.Carrier
			shipment.CarrierCode = carriers.NormalizeCarrier(input.Carrier)
		}
		if input.ServiceType != "" {
			shipment.ServiceType = input.ServiceType
		}
		if models.ShipmentStatusLabelCreated.Rank() > shipment.CurrentStatus.Rank() {
			shipment.CurrentStatus = models.ShipmentStatusLabelCreated
		}
		if shipment.LabelCreatedAt == nil {
			shipment.LabelCreatedAt = &now
		}
		if err := s.shipmentRepo.Save(ctx, shipment); err != nil {
			return nil, err
		}
	}

	s.appendEvent(ctx, shipment.ID, eventTypeManual, models.ShipmentStatusLabelCreated.String(),
		"Shipping label created", "", now)

	if err := s.orderRepo.UpdateStatus(ctx, orderID, models.OrderStatusLabelCreated); err != nil {
		log.Warn().Err(err).Str("order_id", orderID.String()).Msg("Failed to update order status")
	}

	s.notifier.NotifyLabelCreated(ctx, order, shipment)
	s.publishEvent(ctx, messaging.EventShipmentLabeled, shipment)
	return shipment, nil
}

// RecordShipped marks an order's shipment as handed to the carrier. The
// shipped timestamp is first-write-wins; calling this after the shipment has
// already progressed further is a no-op for status.
func (s *TrackingService) RecordShipped(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	shipment, err := s.shipmentRepo.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	advanced := false
	if models.ShipmentStatusInTransit.Rank() > shipment.CurrentStatus.Rank() {
		shipment.CurrentStatus = models.ShipmentStatusInTransit
		advanced = true
	}
	if shipment.ShippedAt == nil {
		shipment.ShippedAt = &now
	}
	if err := s.shipmentRepo.Save(ctx, shipment); err != nil {
		return nil, err
	}

	s.appendEvent(ctx, shipment.ID, eventTypeManual, models.ShipmentStatusInTransit.String(),
		"Shipment picked up by carrier", "", now)

	if advanced {
		s.metrics.IncrementCounter(metrics.CounterShipmentsAdvanced)
		if err := s.orderRepo.UpdateStatus(ctx, orderID, models.OrderStatusShipped); err != nil {
			log.Warn().Err(err).Str("order_id", orderID.String()).Msg("Failed to update order status")
		}
		s.notifier.NotifyShipped(ctx, order, shipment)
		s.publishEvent(ctx, messaging.EventShipmentShipped, shipment)
	}
	return shipment, nil
}

// RecordDelivered marks an order's shipment delivered. Delivered is
// terminal: repeated calls after delivery change nothing.
func (s *TrackingService) RecordDelivered(ctx context.Context, orderID uuid.UUID, signature string) (*models.Shipment, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	shipment, err := s.shipmentRepo.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if shipment.CurrentStatus.IsTerminal() {
		return shipment, nil
	}

	now := s.now()
	shipment.CurrentStatus = models.ShipmentStatusDelivered
	if shipment.DeliveredAt == nil {
		shipment.DeliveredAt = &now
	}
	if signature != "" {
		shipment.DeliverySignature = signature
	}
	if err := s.shipmentRepo.Save(ctx, shipment); err != nil {
		return nil, err
	}

	s.appendEvent(ctx, shipment.ID, eventTypeManual, models.ShipmentStatusDelivered.String(),
		"Shipment delivered", "", now)
	s.metrics.IncrementCounter(metrics.CounterShipmentsAdvanced)

	if err := s.orderRepo.UpdateStatus(ctx, orderID, models.OrderStatusDelivered); err != nil {
		log.Warn().Err(err).Str("order_id", orderID.String()).Msg("Failed to update order status")
	}
	s.notifier.NotifyDelivered(ctx, order, shipment)
	s.publishEvent(ctx, messaging.EventShipmentDelivered, shipment)
	return shipment, nil
}

// RefreshShipment polls the carrier for one shipment and applies the result.
// Returns true when the poll changed the shipment's status.
func (s *TrackingService) RefreshShipment(ctx context.Context, shipment *models.Shipment) (bool, error) {
	now := s.now()

	provider, ok := s.registry.Lookup(shipment.CarrierCode)
	if !ok {
		log.Warn().
			Str("shipment_id", shipment.ID.String()).
			Str("carrier_code", shipment.CarrierCode).
			Msg("No tracking provider for carrier, skipping")
		shipment.LastCheckedAt = &now
		return false, s.shipmentRepo.Save(ctx, shipment)
	}

	result, err := provider.Track(ctx, shipment.TrackingNumber)
	if err != nil {
		shipment.LastCheckedAt = &now
		if saveErr := s.shipmentRepo.Save(ctx, shipment); saveErr != nil {
			log.Warn().Err(saveErr).Str("shipment_id", shipment.ID.String()).Msg("Failed to record check time")
		}
		return false, errors.Wrapf(err, "failed to track shipment %s", shipment.TrackingNumber)
	}

	for _, event := range result.Events {
		s.appendEvent(ctx, shipment.ID, eventTypeCarrier, event.Status,
			event.Description, event.Location, event.Timestamp)
	}

	target := shipment.CurrentStatus
	switch {
	case result.Delivered:
		target = models.ShipmentStatusDelivered
	case result.OutForDelivery:
		target = models.ShipmentStatusOutForDelivery
	case result.InTransit || result.Shipped:
		target = models.ShipmentStatusInTransit
	}

	advanced := target.Rank() > shipment.CurrentStatus.Rank()
	if advanced {
		shipment.CurrentStatus = target

		// Transition timestamps are first-write-wins, including the ones a
		// skipped intermediate state would have set
		if target.Rank() >= models.ShipmentStatusInTransit.Rank() && shipment.ShippedAt == nil {
			shipment.ShippedAt = &now
		}
		if target.Rank() >= models.ShipmentStatusOutForDelivery.Rank() && shipment.OutForDeliveryAt == nil {
			shipment.OutForDeliveryAt = &now
		}
		if target == models.ShipmentStatusDelivered && shipment.DeliveredAt == nil {
			shipment.DeliveredAt = &now
		}
		if result.DeliverySignature != "" && target == models.ShipmentStatusDelivered {
			shipment.DeliverySignature = result.DeliverySignature
		}
		s.metrics.IncrementCounter(metrics.CounterShipmentsAdvanced)
	}

	if result.LastLocation != "" {
		shipment.LastKnownLocation = result.LastLocation
	}
	if result.EstimatedDelivery != nil {
		shipment.EstimatedDelivery = result.EstimatedDelivery
	}
	shipment.LastCheckedAt = &now

	if err := s.shipmentRepo.Save(ctx, shipment); err != nil {
		return false, err
	}

	if advanced {
		s.applyOrderTransition(ctx, shipment, target)
	}
	return advanced, nil
}

// RefreshAll polls every shipment due for a tracking update. Per-shipment
// failures are collected, not fatal.
func (s *TrackingService) RefreshAll(ctx context.Context) (*TrackingRunResult, error) {
	staleBefore := s.now().Add(-s.cfg.PollInterval)
	shipments, err := s.shipmentRepo.NeedingUpdate(ctx, staleBefore, s.cfg.BatchLimit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to select shipments for refresh")
	}

	result := &TrackingRunResult{Checked: len(shipments)}
	for i := range shipments {
		if i > 0 && s.cfg.PollDelay > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(s.cfg.PollDelay):
			}
		}

		advanced, err := s.RefreshShipment(ctx, &shipments[i])
		if err != nil {
			log.Warn().Err(err).
				Str("shipment_id", shipments[i].ID.String()).
				Msg("Shipment refresh failed")
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		if advanced {
			result.Updated++
		}
	}

	log.Info().
		Int("checked", result.Checked).
		Int("updated", result.Updated).
		Int("failed", len(result.Errors)).
		Msg("Tracking refresh finished")
	return result, nil
}

// applyOrderTransition mirrors a shipment transition onto the owning order
// and fires the matching notification
func (s *TrackingService) applyOrderTransition(ctx context.Context, shipment *models.Shipment, status models.ShipmentStatus) {
	order, err := s.orderRepo.GetByID(ctx, shipment.OrderID)
	if err != nil {
		log.Warn().Err(err).Str("order_id", shipment.OrderID.String()).Msg("Failed to load order for transition")
		return
	}

	switch status {
	case models.ShipmentStatusInTransit:
		if err := s.orderRepo.UpdateStatus(ctx, order.ID, models.OrderStatusShipped); err != nil {
			log.Warn().Err(err).Str("order_id", order.ID.String()).Msg("Failed to update order status")
		}
		s.notifier.NotifyShipped(ctx, order, shipment)
		s.publishEvent(ctx, messaging.EventShipmentShipped, shipment)
	case models.ShipmentStatusDelivered:
		if err := s.orderRepo.UpdateStatus(ctx, order.ID, models.OrderStatusDelivered); err != nil {
			log.Warn().Err(err).Str("order_id", order.ID.String()).Msg("Failed to update order status")
		}
		s.notifier.NotifyDelivered(ctx, order, shipment)
		s.publishEvent(ctx, messaging.EventShipmentDelivered, shipment)
	}
}

// appendEvent writes one tracking event, counting only the appends that
// were not deduplicated away
func (s *TrackingService) appendEvent(ctx context.Context, shipmentID uuid.UUID, eventType, status, description, location string, at time.Time) {
	written, err := s.eventRepo.Append(ctx, &models.TrackingEvent{
		ShipmentID:     shipmentID,
		EventType:      eventType,
		EventStatus:    status,
		Description:    description,
		Location:       location,
		EventTimestamp: at,
	})
	if err != nil {
		log.Warn().Err(err).
			Str("shipment_id", shipmentID.String()).
			Msg("Failed to append tracking event")
		return
	}
	if written {
		s.metrics.IncrementCounter(metrics.CounterEventsAppended)
	}
}

// publishEvent publishes a lifecycle event, logging failures instead of
// propagating them
func (s *TrackingService) publishEvent(ctx context.Context, eventType string, body interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishEvent(ctx, eventType, body); err != nil {
		log.Warn().Err(err).Str("event_type", eventType).Msg("Failed to publish event")
	}
}
