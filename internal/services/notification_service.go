package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	domain "github.com/odera-store/api/internal/domain"
	"github.com/odera-store/api/internal/platform/mail"
	"github.com/odera-store/api/internal/repositories"
)

const auditActionNotifiedStatus = "status_changed"

// Mailer delivers one rendered message.
type Mailer interface {
	Send(ctx context.Context, msg mail.Message) error
}

// NotificationServiceDeps bundles collaborators for the post-commit notification consumer.
type NotificationServiceDeps struct {
	UnitOfWork repositories.UnitOfWork
	Orders     repositories.OrderRepository
	Audit      AuditLogService
	Mailer     Mailer
	// AdminCopy receives a blind copy of confirmations and payment submissions when set.
	AdminCopy string
	StoreName string
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type notificationService struct {
	unitOfWork repositories.UnitOfWork
	orders     repositories.OrderRepository
	audit      AuditLogService
	mailer     Mailer
	adminCopy  string
	storeName  string
	clock      func() time.Time
	logger     func(context.Context, string, map[string]any)
}

var _ NotificationService = (*notificationService)(nil)

// NewNotificationService builds the consumer that emails customers and records status audit entries.
func NewNotificationService(deps NotificationServiceDeps) (NotificationService, error) {
	if deps.UnitOfWork == nil {
		return nil, errors.New("notification service: unit of work is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("notification service: order repository is required")
	}
	if deps.Audit == nil {
		return nil, errors.New("notification service: audit log service is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	store := strings.TrimSpace(deps.StoreName)
	if store == "" {
		store = "ODERA 05 STORE"
	}
	return &notificationService{
		unitOfWork: deps.UnitOfWork,
		orders:     deps.Orders,
		audit:      deps.Audit,
		mailer:     deps.Mailer,
		adminCopy:  strings.TrimSpace(deps.AdminCopy),
		storeName:  store,
		clock:      func() time.Time { return clock().UTC() },
		logger:     logger,
	}, nil
}

// HandleOrderEvent processes one delivered event. Every branch tolerates redelivery.
func (s *notificationService) HandleOrderEvent(ctx context.Context, event OrderEvent) (err error) {
	ctx, span := tracer.Start(ctx, "NotificationService.HandleOrderEvent")
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(event.OrderID) == "" {
		return invalidInput("orderId", "event is missing the order id")
	}
	switch event.Type {
	case OrderEventCreated:
		return s.sendConfirmation(ctx, event)
	case OrderEventStatusChanged, OrderEventExpired:
		return s.recordStatusChange(ctx, event)
	case OrderEventPaymentSubmitted:
		return s.notifyPaymentSubmitted(ctx, event)
	default:
		s.logger(ctx, "notification.event.ignored", map[string]any{"type": event.Type, "eventId": event.ID})
		return nil
	}
}

func (s *notificationService) sendConfirmation(ctx context.Context, event OrderEvent) error {
	order, err := s.orders.FindByID(ctx, event.OrderID)
	if err != nil {
		if isNotFound(err) {
			s.logger(ctx, "notification.order.missing.warning", map[string]any{"orderId": event.OrderID, "eventId": event.ID})
			return nil
		}
		return mapRepositoryError(err)
	}
	if order.EmailSent || strings.TrimSpace(order.Customer.Email) == "" || s.mailer == nil {
		return nil
	}

	msg, err := s.renderConfirmation(order)
	if err != nil {
		return err
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("notification service: send confirmation: %w", err)
	}

	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, order.ID)
		if err != nil {
			return err
		}
		if current.EmailSent {
			return nil
		}
		current.EmailSent = true
		current.UpdatedAt = s.clock()
		return s.orders.Update(txCtx, current)
	})
	if err != nil {
		return mapRepositoryError(err)
	}
	s.logger(ctx, "notification.confirmation.sent", map[string]any{"orderId": order.ID, "publicCode": order.PublicCode})
	return nil
}

func (s *notificationService) recordStatusChange(ctx context.Context, event OrderEvent) error {
	var previous *string
	if event.PreviousStatus != "" {
		prev := event.PreviousStatus
		previous = &prev
	}
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = s.clock()
	}
	actor := event.ActorID
	if actor == "" {
		actor = changedBySystem
	}
	err := s.audit.Record(ctx, AuditLogRecord{
		ID:            event.ID,
		Entity:        "order",
		EntityID:      event.OrderID,
		Action:        auditActionNotifiedStatus,
		PreviousValue: previous,
		NewValue:      event.CurrentStatus,
		PerformedBy:   actor,
		OccurredAt:    occurred,
	})
	if err != nil {
		return mapRepositoryError(err)
	}
	return nil
}

func (s *notificationService) notifyPaymentSubmitted(ctx context.Context, event OrderEvent) error {
	if s.mailer == nil || s.adminCopy == "" {
		return nil
	}
	code, _ := event.Metadata["operationCode"].(string)
	msg := mail.Message{
		To:       []string{s.adminCopy},
		Subject:  fmt.Sprintf("Pago reportado: pedido %s", event.PublicCode),
		TextBody: fmt.Sprintf("El pedido %s registró el código de operación %s. Verifica el pago en el panel.", event.PublicCode, code),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("notification service: send payment notice: %w", err)
	}
	return nil
}

type confirmationView struct {
	StoreName     string
	Order         domain.Order
	Lines         []confirmationLine
	Subtotal      string
	Shipping      string
	Total         string
	ReservedUntil string
}

type confirmationLine struct {
	Name     string
	Variant  string
	Quantity int
	Amount   string
}

var limaLocation = time.FixedZone("PET", -5*60*60)

var confirmationText = texttemplate.Must(texttemplate.New("confirmation.txt").Parse(`Hola {{.Order.Customer.Name}},

Recibimos tu pedido {{.Order.PublicCode}} en {{.StoreName}}.
{{range .Lines}}
- {{.Name}} ({{.Variant}}) x{{.Quantity}}: {{.Amount}}{{end}}

Subtotal: {{.Subtotal}}
Envío: {{.Shipping}}
Total: {{.Total}}

Tu reserva está vigente hasta las {{.ReservedUntil}}. Envía tu comprobante y el código de operación antes de esa hora.
`))

var confirmationHTML = htmltemplate.Must(htmltemplate.New("confirmation.html").Parse(`<p>Hola {{.Order.Customer.Name}},</p>
<p>Recibimos tu pedido <strong>{{.Order.PublicCode}}</strong> en {{.StoreName}}.</p>
<ul>{{range .Lines}}<li>{{.Name}} ({{.Variant}}) x{{.Quantity}}: {{.Amount}}</li>{{end}}</ul>
<p>Subtotal: {{.Subtotal}}<br>Envío: {{.Shipping}}<br><strong>Total: {{.Total}}</strong></p>
<p>Tu reserva está vigente hasta las {{.ReservedUntil}}.</p>`))

func (s *notificationService) renderConfirmation(order domain.Order) (mail.Message, error) {
	view := confirmationView{
		StoreName:     s.storeName,
		Order:         order,
		Subtotal:      domain.FormatSoles(order.Subtotal),
		Shipping:      domain.FormatSoles(order.ShippingCost),
		Total:         domain.FormatSoles(order.Total),
		ReservedUntil: order.ReservedUntil.In(limaLocation).Format("15:04"),
	}
	for _, item := range order.Items {
		view.Lines = append(view.Lines, confirmationLine{
			Name:     item.NameSnapshot,
			Variant:  strings.TrimSpace(item.VariantSnapshot.Size + " " + item.VariantSnapshot.Color),
			Quantity: item.Quantity,
			Amount:   domain.FormatSoles(item.LineTotal()),
		})
	}

	var text, html bytes.Buffer
	if err := confirmationText.Execute(&text, view); err != nil {
		return mail.Message{}, fmt.Errorf("notification service: render text: %w", err)
	}
	if err := confirmationHTML.Execute(&html, view); err != nil {
		return mail.Message{}, fmt.Errorf("notification service: render html: %w", err)
	}
	msg := mail.Message{
		To:       []string{order.Customer.Email},
		Subject:  fmt.Sprintf("Pedido %s recibido", order.PublicCode),
		TextBody: text.String(),
		HTMLBody: html.String(),
	}
	if s.adminCopy != "" {
		msg.Bcc = []string{s.adminCopy}
	}
	return msg, nil
}
