package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/casedesk/case-service/internal/domain"
	"github.com/casedesk/case-service/internal/events"
	"github.com/casedesk/case-service/internal/notify"
	"github.com/casedesk/case-service/internal/repository"
)

// TransferSender delivers transfer notices; *notify.Webhook implements it.
type TransferSender interface {
	SendTransfer(ctx context.Context, notice notify.TransferNotice) error
}

// NotificationService turns domain events into ghost messages, transfer
// webhooks and broker events. Every delivery is best effort.
type NotificationService struct {
	dispatcher    events.Dispatcher
	messages      repository.MessageRepository
	webhook       TransferSender
	publisher     notify.Publisher
	logger        *zap.Logger
	ghostMessages bool
	producer      string
}

// NotificationDependencies bundles collaborators.
type NotificationDependencies struct {
	Dispatcher    events.Dispatcher
	MessageRepo   repository.MessageRepository
	Webhook       TransferSender
	Publisher     notify.Publisher
	Logger        *zap.Logger
	GhostMessages bool
	Producer      string
}

// NewNotificationService creates the service.
func NewNotificationService(deps NotificationDependencies) *NotificationService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	return &NotificationService{
		dispatcher:    deps.Dispatcher,
		messages:      deps.MessageRepo,
		webhook:       deps.Webhook,
		publisher:     publisher,
		logger:        logger,
		ghostMessages: deps.GhostMessages,
		producer:      deps.Producer,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventCaseAssigned, n.handleCaseAssigned)
	n.dispatcher.Subscribe(events.EventCasesMerged, n.handleCasesMerged)
}

func (n *NotificationService) handleCaseAssigned(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.CaseAssignedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	n.logger.Info("CaseAssigned",
		zap.Int64("institution_id", event.InstitutionID),
		zap.Int64("case_id", event.CaseID),
		zap.Int64("assignee_id", payload.AssigneeID),
		zap.String("source", string(payload.Source)))

	var errs []error
	if n.ghostMessages && n.messages != nil {
		if err := n.messages.Create(ctx, ghostMessage(payload)); err != nil {
			errs = append(errs, fmt.Errorf("ghost message: %w", err))
		}
	}

	notice := notify.TransferNotice{
		InstitutionID:  event.InstitutionID,
		CaseID:         event.CaseID,
		CaseIdentifier: payload.CaseIdentifier,
		AssigneeID:     payload.AssigneeID,
		AssigneeName:   payload.AssigneeName,
		PreviousName:   payload.PreviousName,
		CustomerName:   payload.CustomerName,
		CustomerPhone:  payload.CustomerPhone,
		ChannelPhone:   payload.ChannelPhone,
		Source:         string(payload.Source),
		AssignedAt:     event.Timestamp.UTC().Format(time.RFC3339),
	}
	if n.webhook != nil {
		if err := n.webhook.SendTransfer(ctx, notice); err != nil {
			errs = append(errs, err)
		}
	}
	if err := n.publisher.Publish(ctx, notify.KeyCaseAssigned, n.envelope(event, notify.KeyCaseAssigned, notice)); err != nil {
		errs = append(errs, fmt.Errorf("publish %s: %w", notify.KeyCaseAssigned, err))
	}
	return errors.Join(errs...)
}

func (n *NotificationService) handleCasesMerged(ctx context.Context, event events.Event) error {
	n.logger.Info("CasesMerged", zap.Int64("institution_id", event.InstitutionID), zap.Any("payload", event.Payload))
	return n.publisher.Publish(ctx, notify.KeyCasesMerged, n.envelope(event, notify.KeyCasesMerged, event.Payload))
}

func (n *NotificationService) envelope(event events.Event, eventType string, data any) notify.Envelope {
	meta := notify.Meta{ID: event.ID, Time: event.Timestamp, Type: eventType}
	if n.producer != "" {
		producer := n.producer
		meta.Producer = &producer
	}
	return notify.Envelope{Meta: meta, Data: data}
}

func ghostMessage(p events.CaseAssignedPayload) *domain.CaseMessage {
	body := fmt.Sprintf("Case assigned to %s", p.AssigneeName)
	if p.PreviousName != "" {
		body = fmt.Sprintf("Case transferred from %s to %s", p.PreviousName, p.AssigneeName)
	}
	return &domain.CaseMessage{
		CaseIdentifier: p.CaseIdentifier,
		Sender:         domain.SenderSystem,
		AuthorName:     "system",
		Body:           body,
	}
}
