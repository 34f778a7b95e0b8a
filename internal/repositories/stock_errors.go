package repositories

import "fmt"

// StockErrorCode enumerates stock ledger failure causes.
type StockErrorCode string

const (
	// StockErrorInsufficient indicates requested quantity exceeds the variant's stock.
	StockErrorInsufficient StockErrorCode = "insufficient_stock"
	// StockErrorProductNotFound indicates the product document is missing.
	StockErrorProductNotFound StockErrorCode = "product_not_found"
	// StockErrorVariantNotFound indicates the product has no variant with the requested id.
	StockErrorVariantNotFound StockErrorCode = "variant_not_found"
	// StockErrorProductInactive indicates the product cannot be sold.
	StockErrorProductInactive StockErrorCode = "product_inactive"
)

// StockError wraps stock-specific failures with machine readable codes.
type StockError struct {
	Op        string
	Code      StockErrorCode
	ProductID string
	VariantID string
	Requested int
	Available int
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewStockError constructs a typed stock error.
func NewStockError(code StockErrorCode, productID, variantID, message string, err error) *StockError {
	if message == "" {
		message = string(code)
	}
	return &StockError{
		Code:      code,
		ProductID: productID,
		VariantID: variantID,
		Message:   message,
		Err:       err,
	}
}
