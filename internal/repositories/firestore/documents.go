package firestore

import (
	"time"

	domain "github.com/odera-store/api/internal/domain"
)

const (
	productsCollection    = "products"
	stockLogsCollection   = "stockLogs"
	ordersCollection      = "orders"
	countersCollection    = "counters"
	idempotencyCollection = "idempotencyKeys"
	paymentOpsCollection  = "paymentOps"
	rateLimitsCollection  = "rateLimits"
	auditLogsCollection   = "auditLogs"
	settingsCollection    = "settings"
	storeSettingsDocID    = "store"
)

type productImageDocument struct {
	URL      string `firestore:"url"`
	ThumbURL string `firestore:"thumbUrl,omitempty"`
}

type productVariantDocument struct {
	ID    string `firestore:"id"`
	Size  string `firestore:"size"`
	Color string `firestore:"color"`
	Stock int    `firestore:"stock"`
}

type productDocument struct {
	PublicCode string                   `firestore:"publicCode"`
	Name       string                   `firestore:"name"`
	Slug       string                   `firestore:"slug"`
	Status     string                   `firestore:"status"`
	Price      float64                  `firestore:"price"`
	SalePrice  float64                  `firestore:"salePrice"`
	OnSale     bool                     `firestore:"onSale"`
	Images     []productImageDocument   `firestore:"images"`
	Variants   []productVariantDocument `firestore:"variants"`
	TotalStock int                      `firestore:"totalStock"`
	UpdatedAt  time.Time                `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) domain.Product {
	product := domain.Product{
		ID:         id,
		PublicCode: d.PublicCode,
		Name:       d.Name,
		Slug:       d.Slug,
		Status:     domain.ProductStatus(d.Status),
		Price:      domain.CentsFromSoles(d.Price),
		SalePrice:  domain.CentsFromSoles(d.SalePrice),
		OnSale:     d.OnSale,
		TotalStock: d.TotalStock,
		UpdatedAt:  d.UpdatedAt,
	}
	if len(d.Images) > 0 {
		product.CoverImageURL = d.Images[0].URL
	}
	product.Variants = make([]domain.ProductVariant, 0, len(d.Variants))
	for _, v := range d.Variants {
		product.Variants = append(product.Variants, domain.ProductVariant{ID: v.ID, Size: v.Size, Color: v.Color, Stock: v.Stock})
	}
	return product
}

func variantDocuments(variants []domain.ProductVariant) []productVariantDocument {
	docs := make([]productVariantDocument, 0, len(variants))
	for _, v := range variants {
		docs = append(docs, productVariantDocument{ID: v.ID, Size: v.Size, Color: v.Color, Stock: v.Stock})
	}
	return docs
}

type stockLogDocument struct {
	ProductID      string    `firestore:"productId"`
	VariantID      string    `firestore:"variantId"`
	PreviousStock  int       `firestore:"previousStock"`
	NewStock       int       `firestore:"newStock"`
	Delta          int       `firestore:"delta"`
	Reason         string    `firestore:"reason"`
	RelatedOrderID string    `firestore:"relatedOrderId"`
	CreatedAt      time.Time `firestore:"createdAt"`
}

type customerDocument struct {
	Name  string `firestore:"name"`
	Phone string `firestore:"phone"`
	Email string `firestore:"email,omitempty"`
}

type variantSnapshotDocument struct {
	Size  string `firestore:"size"`
	Color string `firestore:"color"`
}

type orderItemDocument struct {
	ProductID         string                  `firestore:"productId"`
	ProductPublicCode string                  `firestore:"productPublicCode"`
	VariantID         string                  `firestore:"variantId"`
	NameSnapshot      string                  `firestore:"nameSnapshot"`
	UnitPriceSnapshot float64                 `firestore:"unitPriceSnapshot"`
	Quantity          int                     `firestore:"quantity"`
	VariantSnapshot   variantSnapshotDocument `firestore:"variantSnapshot"`
	ImageSnapshot     string                  `firestore:"imageSnapshot,omitempty"`
}

type statusChangeDocument struct {
	From      *string   `firestore:"from"`
	To        string    `firestore:"to"`
	ChangedBy string    `firestore:"changedBy"`
	ChangedAt time.Time `firestore:"changedAt"`
	Reason    string    `firestore:"reason,omitempty"`
}

type deliveryDocument struct {
	District  string `firestore:"district"`
	Address   string `firestore:"address"`
	Reference string `firestore:"reference,omitempty"`
}

type agencyDocument struct {
	Department       string `firestore:"department"`
	Province         string `firestore:"province"`
	District         string `firestore:"district"`
	DNI              string `firestore:"dni"`
	Agency           string `firestore:"agency"`
	CustomerAccepted bool   `firestore:"customerAccepted"`
}

type shippingInfoDocument struct {
	Type     string            `firestore:"type"`
	Delivery *deliveryDocument `firestore:"delivery,omitempty"`
	Agency   *agencyDocument   `firestore:"agency,omitempty"`
}

type orderDocument struct {
	PublicCode      string                 `firestore:"publicCode"`
	UserID          string                 `firestore:"userId,omitempty"`
	Customer        customerDocument       `firestore:"customer"`
	Items           []orderItemDocument    `firestore:"items"`
	Subtotal        float64                `firestore:"subtotal"`
	ShippingCost    float64                `firestore:"shippingCost"`
	Total           float64                `firestore:"total"`
	Status          string                 `firestore:"status"`
	StatusHistory   []statusChangeDocument `firestore:"statusHistory"`
	ReservedUntil   time.Time              `firestore:"reservedUntil"`
	StockReserved   bool                   `firestore:"stockReserved"`
	ShippingType    string                 `firestore:"shippingType"`
	ShippingInfo    shippingInfoDocument   `firestore:"shippingInfo"`
	PaymentMethod   string                 `firestore:"paymentMethod"`
	PaymentVerified bool                   `firestore:"paymentVerified"`
	OperationCode   string                 `firestore:"operationCode,omitempty"`
	CustomerNotes   string                 `firestore:"customerNotes,omitempty"`
	EmailSent       bool                   `firestore:"emailSent"`
	WhatsAppSent    bool                   `firestore:"whatsappSent"`
	CreatedAt       time.Time              `firestore:"createdAt"`
	UpdatedAt       time.Time              `firestore:"updatedAt"`
	CancelledAt     *time.Time             `firestore:"cancelledAt,omitempty"`
	CancelledReason string                 `firestore:"cancelledReason,omitempty"`
	UpdatedBy       string                 `firestore:"updatedBy,omitempty"`
}

func newOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		PublicCode:      order.PublicCode,
		UserID:          order.UserID,
		Customer:        customerDocument{Name: order.Customer.Name, Phone: order.Customer.Phone, Email: order.Customer.Email},
		Subtotal:        domain.SolesFromCents(order.Subtotal),
		ShippingCost:    domain.SolesFromCents(order.ShippingCost),
		Total:           domain.SolesFromCents(order.Total),
		Status:          string(order.Status),
		ReservedUntil:   order.ReservedUntil.UTC(),
		StockReserved:   order.StockReserved,
		ShippingType:    string(order.ShippingType),
		ShippingInfo:    shippingInfoDocument{Type: string(order.ShippingInfo.Type)},
		PaymentMethod:   string(order.PaymentMethod),
		PaymentVerified: order.PaymentVerified,
		OperationCode:   order.OperationCode,
		CustomerNotes:   order.CustomerNotes,
		EmailSent:       order.EmailSent,
		WhatsAppSent:    order.WhatsAppSent,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
		CancelledAt:     order.CancelledAt,
		CancelledReason: order.CancelledReason,
		UpdatedBy:       order.UpdatedBy,
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ProductID:         item.ProductID,
			ProductPublicCode: item.ProductPublicCode,
			VariantID:         item.VariantID,
			NameSnapshot:      item.NameSnapshot,
			UnitPriceSnapshot: domain.SolesFromCents(item.UnitPriceSnapshot),
			Quantity:          item.Quantity,
			VariantSnapshot:   variantSnapshotDocument{Size: item.VariantSnapshot.Size, Color: item.VariantSnapshot.Color},
			ImageSnapshot:     item.ImageSnapshot,
		})
	}
	for _, change := range order.StatusHistory {
		entry := statusChangeDocument{
			To:        string(change.To),
			ChangedBy: change.ChangedBy,
			ChangedAt: change.ChangedAt.UTC(),
			Reason:    change.Reason,
		}
		if change.From != nil {
			from := string(*change.From)
			entry.From = &from
		}
		doc.StatusHistory = append(doc.StatusHistory, entry)
	}
	if d := order.ShippingInfo.Delivery; d != nil {
		doc.ShippingInfo.Delivery = &deliveryDocument{District: d.District, Address: d.Address, Reference: d.Reference}
	}
	if a := order.ShippingInfo.Agency; a != nil {
		doc.ShippingInfo.Agency = &agencyDocument{
			Department:       a.Department,
			Province:         a.Province,
			District:         a.District,
			DNI:              a.DNI,
			Agency:           a.Agency,
			CustomerAccepted: a.CustomerAccepted,
		}
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:              id,
		PublicCode:      d.PublicCode,
		UserID:          d.UserID,
		Customer:        domain.Customer{Name: d.Customer.Name, Phone: d.Customer.Phone, Email: d.Customer.Email},
		Subtotal:        domain.CentsFromSoles(d.Subtotal),
		ShippingCost:    domain.CentsFromSoles(d.ShippingCost),
		Total:           domain.CentsFromSoles(d.Total),
		Status:          domain.OrderStatus(d.Status),
		ReservedUntil:   d.ReservedUntil,
		StockReserved:   d.StockReserved,
		ShippingType:    domain.ShippingType(d.ShippingType),
		ShippingInfo:    domain.ShippingInfo{Type: domain.ShippingType(d.ShippingInfo.Type)},
		PaymentMethod:   domain.PaymentMethod(d.PaymentMethod),
		PaymentVerified: d.PaymentVerified,
		OperationCode:   d.OperationCode,
		CustomerNotes:   d.CustomerNotes,
		EmailSent:       d.EmailSent,
		WhatsAppSent:    d.WhatsAppSent,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		CancelledAt:     d.CancelledAt,
		CancelledReason: d.CancelledReason,
		UpdatedBy:       d.UpdatedBy,
	}
	for _, item := range d.Items {
		order.Items = append(order.Items, domain.OrderItemSnapshot{
			ProductID:         item.ProductID,
			ProductPublicCode: item.ProductPublicCode,
			VariantID:         item.VariantID,
			NameSnapshot:      item.NameSnapshot,
			UnitPriceSnapshot: domain.CentsFromSoles(item.UnitPriceSnapshot),
			Quantity:          item.Quantity,
			VariantSnapshot:   domain.VariantSnapshot{Size: item.VariantSnapshot.Size, Color: item.VariantSnapshot.Color},
			ImageSnapshot:     item.ImageSnapshot,
		})
	}
	for _, change := range d.StatusHistory {
		entry := domain.StatusChange{
			To:        domain.OrderStatus(change.To),
			ChangedBy: change.ChangedBy,
			ChangedAt: change.ChangedAt,
			Reason:    change.Reason,
		}
		if change.From != nil {
			from := domain.OrderStatus(*change.From)
			entry.From = &from
		}
		order.StatusHistory = append(order.StatusHistory, entry)
	}
	if del := d.ShippingInfo.Delivery; del != nil {
		order.ShippingInfo.Delivery = &domain.DeliveryInfo{District: del.District, Address: del.Address, Reference: del.Reference}
	}
	if a := d.ShippingInfo.Agency; a != nil {
		order.ShippingInfo.Agency = &domain.AgencyInfo{
			Department:       a.Department,
			Province:         a.Province,
			District:         a.District,
			DNI:              a.DNI,
			Agency:           a.Agency,
			CustomerAccepted: a.CustomerAccepted,
		}
	}
	return order
}

type counterDocument struct {
	Seq       int64     `firestore:"seq"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type idempotencyDocument struct {
	OrderID    string    `firestore:"orderId"`
	PublicCode string    `firestore:"publicCode"`
	Total      float64   `firestore:"total"`
	CreatedAt  time.Time `firestore:"createdAt"`
}

type paymentOpDocument struct {
	Code            string    `firestore:"code"`
	OrderID         string    `firestore:"orderId"`
	OrderPublicCode string    `firestore:"orderPublicCode"`
	UserID          string    `firestore:"userId,omitempty"`
	Verified        bool      `firestore:"verified"`
	CreatedAt       time.Time `firestore:"createdAt"`
}

type rateLimitDocument struct {
	LastOrderAt time.Time `firestore:"lastOrderAt"`
	Count       int       `firestore:"count"`
}

type auditLogDocument struct {
	Entity        string    `firestore:"entity"`
	EntityID      string    `firestore:"entityId"`
	Action        string    `firestore:"action"`
	PreviousValue *string   `firestore:"previousValue"`
	NewValue      string    `firestore:"newValue"`
	PerformedBy   string    `firestore:"performedBy"`
	AdminEmail    string    `firestore:"adminEmail,omitempty"`
	UserAgent     string    `firestore:"userAgent,omitempty"`
	IP            string    `firestore:"ip,omitempty"`
	CreatedAt     time.Time `firestore:"createdAt"`
}

type deliverySettingsDocument struct {
	Cost      *float64 `firestore:"cost"`
	Districts []string `firestore:"districts"`
}

type settingsDocument struct {
	Delivery *deliverySettingsDocument `firestore:"delivery"`
}
