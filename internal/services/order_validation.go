package services

import (
	"fmt"
	"html"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/odera-store/api/internal/domain"
	"github.com/odera-store/api/internal/platform/textutil"
)

const (
	maxOrderLines       = 50
	maxLineQuantity     = 99
	maxNotesRunes       = 500
	maxAddressRunes     = 200
	minAddressRunes     = 5
	minCustomerName     = 3
	maxCustomerName     = 100
	defaultAgencyName   = "Shalom"
	minOperationCodeLen = 4
	maxOperationCodeLen = 30
)

var (
	peruMobilePattern     = regexp.MustCompile(`^9\d{8}$`)
	dniPattern            = regexp.MustCompile(`^\d{8}$`)
	idempotencyKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,128}$`)
	operationCodePattern  = regexp.MustCompile(`^[A-Z0-9-]+$`)
)

// freeText strips any markup from customer supplied text. The sanitised output is
// unescaped again so documents hold plain text.
var freeText = bluemonday.StrictPolicy()

func cleanText(value string, limit int) string {
	cleaned := html.UnescapeString(freeText.Sanitize(strings.TrimSpace(value)))
	return textutil.Truncate(strings.TrimSpace(cleaned), limit)
}

// normalizeCreateOrder validates the command and returns a cleaned copy.
func normalizeCreateOrder(cmd CreateOrderCommand) (CreateOrderCommand, error) {
	out := cmd
	out.Customer.Name = strings.TrimSpace(cmd.Customer.Name)
	out.Customer.Phone = strings.ReplaceAll(strings.TrimSpace(cmd.Customer.Phone), " ", "")
	out.Customer.Email = strings.TrimSpace(cmd.Customer.Email)
	out.IdempotencyKey = strings.TrimSpace(cmd.IdempotencyKey)

	if n := utf8.RuneCountInString(out.Customer.Name); n < minCustomerName || n > maxCustomerName {
		return out, invalidInput("customer.name", fmt.Sprintf("customer name must have between %d and %d characters", minCustomerName, maxCustomerName))
	}
	if !peruMobilePattern.MatchString(out.Customer.Phone) {
		return out, invalidInput("customer.phone", "phone must be a 9 digit mobile number starting with 9")
	}
	if out.Customer.Email != "" {
		addr, err := mail.ParseAddress(out.Customer.Email)
		if err != nil {
			return out, invalidInput("customer.email", "email is not valid")
		}
		out.Customer.Email = addr.Address
	}

	if len(cmd.Items) == 0 {
		return out, invalidInput("items", "at least one item is required")
	}
	if len(cmd.Items) > maxOrderLines {
		return out, invalidInput("items", fmt.Sprintf("at most %d items are allowed", maxOrderLines))
	}
	out.Items = make([]OrderLineInput, 0, len(cmd.Items))
	for i, item := range cmd.Items {
		line := OrderLineInput{
			ProductID: strings.TrimSpace(item.ProductID),
			VariantID: strings.TrimSpace(item.VariantID),
			Quantity:  item.Quantity,
		}
		if line.ProductID == "" || line.VariantID == "" {
			return out, invalidInput(fmt.Sprintf("items[%d]", i), "productId and variantId are required")
		}
		if line.Quantity < 1 || line.Quantity > maxLineQuantity {
			return out, invalidInput(fmt.Sprintf("items[%d].quantity", i), fmt.Sprintf("quantity must be between 1 and %d", maxLineQuantity))
		}
		out.Items = append(out.Items, line)
	}

	switch cmd.ShippingType {
	case domain.ShippingTypeDelivery:
		if cmd.Delivery == nil {
			return out, invalidInput("shippingInfo", "delivery details are required")
		}
		delivery := domain.DeliveryInfo{
			District:  strings.TrimSpace(cmd.Delivery.District),
			Address:   cleanText(cmd.Delivery.Address, maxAddressRunes),
			Reference: cleanText(cmd.Delivery.Reference, maxAddressRunes),
		}
		if delivery.District == "" {
			return out, invalidInput("shippingInfo.district", "district is required")
		}
		if utf8.RuneCountInString(delivery.Address) < minAddressRunes {
			return out, invalidInput("shippingInfo.address", fmt.Sprintf("address must have at least %d characters", minAddressRunes))
		}
		out.Delivery = &delivery
		out.Agency = nil
	case domain.ShippingTypeAgencyCollect:
		if cmd.Agency == nil {
			return out, invalidInput("shippingInfo", "agency details are required")
		}
		agency := domain.AgencyInfo{
			Department:       strings.TrimSpace(cmd.Agency.Department),
			Province:         strings.TrimSpace(cmd.Agency.Province),
			District:         strings.TrimSpace(cmd.Agency.District),
			DNI:              strings.TrimSpace(cmd.Agency.DNI),
			Agency:           strings.TrimSpace(cmd.Agency.Agency),
			CustomerAccepted: cmd.Agency.CustomerAccepted,
		}
		if agency.Department == "" || agency.Province == "" || agency.District == "" {
			return out, invalidInput("shippingInfo", "department, province and district are required")
		}
		if !dniPattern.MatchString(agency.DNI) {
			return out, invalidInput("shippingInfo.dni", "dni must have 8 digits")
		}
		if !agency.CustomerAccepted {
			return out, invalidInput("shippingInfo.customerAccepted", "the customer must accept the agency pickup terms")
		}
		if agency.Agency == "" {
			agency.Agency = defaultAgencyName
		}
		out.Agency = &agency
		out.Delivery = nil
	default:
		return out, invalidInput("shippingType", "shippingType must be DELIVERY or AGENCY_COLLECT")
	}

	switch domain.PaymentMethod(strings.ToLower(strings.TrimSpace(string(cmd.PaymentMethod)))) {
	case domain.PaymentMethodYape:
		out.PaymentMethod = domain.PaymentMethodYape
	case domain.PaymentMethodPlin:
		out.PaymentMethod = domain.PaymentMethodPlin
	default:
		return out, invalidInput("paymentMethod", "paymentMethod must be yape or plin")
	}

	if out.IdempotencyKey != "" && !idempotencyKeyPattern.MatchString(out.IdempotencyKey) {
		return out, invalidInput("idempotencyKey", "idempotencyKey must be 8 to 128 characters of letters, digits, '-' or '_'")
	}
	out.CustomerNotes = cleanText(cmd.CustomerNotes, maxNotesRunes)
	out.UserID = strings.TrimSpace(cmd.UserID)
	out.ClientIP = strings.TrimSpace(cmd.ClientIP)
	return out, nil
}

// normalizeOperationCode trims and upper-cases a payment operation code.
func normalizeOperationCode(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if n := len(code); n < minOperationCodeLen || n > maxOperationCodeLen {
		return "", invalidInput("operationCode", fmt.Sprintf("operationCode must have between %d and %d characters", minOperationCodeLen, maxOperationCodeLen))
	}
	if !operationCodePattern.MatchString(code) {
		return "", invalidInput("operationCode", "operationCode may only contain letters, digits and '-'")
	}
	return code, nil
}
