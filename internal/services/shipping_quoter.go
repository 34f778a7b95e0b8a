package services

import (
	"fmt"

	domain "github.com/odera-store/api/internal/domain"
	"github.com/odera-store/api/internal/platform/textutil"
)

// DefaultDeliveryCost applies when neither the store settings nor configuration define a fee.
const DefaultDeliveryCost int64 = 1500

// ShippingQuoter prices shipping from the store settings and checks the delivery zone.
type ShippingQuoter struct {
	fallbackDeliveryCost int64
}

// NewShippingQuoter builds a quoter; a non-positive fallback uses DefaultDeliveryCost.
func NewShippingQuoter(fallbackDeliveryCost int64) ShippingQuoter {
	if fallbackDeliveryCost <= 0 {
		fallbackDeliveryCost = DefaultDeliveryCost
	}
	return ShippingQuoter{fallbackDeliveryCost: fallbackDeliveryCost}
}

// Quote returns the shipping cost in céntimos. Agency pickup is free; delivery costs the
// configured flat fee and is only offered in the listed districts. An empty district list
// means no restriction.
func (q ShippingQuoter) Quote(settings domain.StoreSettings, shipping domain.ShippingInfo) (int64, error) {
	switch shipping.Type {
	case domain.ShippingTypeAgencyCollect:
		return 0, nil
	case domain.ShippingTypeDelivery:
	default:
		return 0, invalidInput("shippingType", fmt.Sprintf("unsupported shipping type %q", shipping.Type))
	}
	if shipping.Delivery == nil {
		return 0, invalidInput("delivery", "delivery details are required")
	}

	if len(settings.DeliveryDistricts) > 0 {
		want := textutil.FoldKey(shipping.Delivery.District)
		served := false
		for _, district := range settings.DeliveryDistricts {
			if textutil.FoldKey(district) == want {
				served = true
				break
			}
		}
		if !served {
			return 0, newOrderError(ErrOrderFailedPrecondition, ReasonZoneNotServiceable,
				fmt.Sprintf("Distrito %q no disponible para delivery. Use envío por agencia.", shipping.Delivery.District),
				map[string]any{"district": shipping.Delivery.District})
		}
	}

	if settings.DeliveryCost != nil && *settings.DeliveryCost >= 0 {
		return *settings.DeliveryCost, nil
	}
	return q.fallbackDeliveryCost, nil
}
