package task

// Rejection codes returned to clients. Stable machine-readable identifiers;
// the message is advisory only.
const (
	CodePendingOrder        = "PENDING_ORDER"
	CodeGrabDisabled        = "GRAB_DISABLED"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeQuotaExceeded       = "QUOTA_EXCEEDED"
	CodeAccountNotFound     = "ACCOUNT_NOT_FOUND"
	CodeUserNotFound        = "USER_NOT_FOUND"
	CodeInvalidToken        = "INVALID_OR_EXPIRED_TOKEN"
	CodeAlreadyProcessed    = "ALREADY_PROCESSED"
	CodeOrderNotFound       = "ORDER_NOT_FOUND"
)

// Rejection is a structured precondition or conflict failure. It reports why
// an operation was refused; no state changed when one is returned.
type Rejection struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	OrderID string `json:"order_id,omitempty"` // set for PENDING_ORDER
}

// Error implements error
func (r *Rejection) Error() string {
	return r.Message
}

func reject(code, message string) *Rejection {
	return &Rejection{Code: code, Message: message}
}

var (
	errGrabDisabled        = reject(CodeGrabDisabled, "Account grabbing is disabled.")
	errInsufficientBalance = reject(CodeInsufficientBalance, "Insufficient balance.")
	errQuotaExceeded       = reject(CodeQuotaExceeded, "Daily task limit reached.")
	errAccountNotFound     = reject(CodeAccountNotFound, "User not found.")
	errUserNotFound        = reject(CodeUserNotFound, "User not found.")
	errInvalidToken        = reject(CodeInvalidToken, "Invalid or expired match. Please try again.")
	errAlreadyProcessed    = reject(CodeAlreadyProcessed, "Order already processed.")
	errOrderNotFound       = reject(CodeOrderNotFound, "Order not found.")
)
