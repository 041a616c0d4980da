package models

// RegisterRequest represents a user registration request
type RegisterRequest struct {
	Username   string `json:"username" binding:"required,min=3,max=30"`
	Email      string `json:"email" binding:"required,email"`
	Password   string `json:"password" binding:"required,min=8"`
	InviteCode string `json:"invite_code"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse carries the signed JWT back to the client
type LoginResponse struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// ConfirmRequest confirms a matched order by its single-use token
type ConfirmRequest struct {
	MatchToken string `json:"match_token" binding:"required"`
}

// SubmitRequest settles a pending order directly by its id
type SubmitRequest struct {
	OrderID string `json:"order_id" binding:"required"`
}

// DispatchOrderRequest upserts a dispatch override for a user
type DispatchOrderRequest struct {
	TaskIndex int     `json:"task_index" binding:"required,min=1"`
	MinAmount float64 `json:"min_amount" binding:"required,min=0"`
	MaxAmount float64 `json:"max_amount" binding:"required,min=0"`
}

// ProductRequest creates a catalog item
type ProductRequest struct {
	Title    string  `json:"title" binding:"required"`
	Price    float64 `json:"price" binding:"required,gt=0"`
	Image    string  `json:"image"`
	VIPLevel int     `json:"vip_level" binding:"min=0"`
}

// TierRequest upserts a VIP level definition
type TierRequest struct {
	Level          int     `json:"level" binding:"required,min=1"`
	Name           string  `json:"name" binding:"required"`
	Price          float64 `json:"price"`
	CommissionRate float64 `json:"commission_rate" binding:"required,gt=0"`
	TaskLimit      int     `json:"task_limit" binding:"required,min=1"`
	MinBalance     float64 `json:"min_balance"`
}

// AdjustBalanceRequest credits or debits a user's balance (admin only)
type AdjustBalanceRequest struct {
	Amount float64 `json:"amount" binding:"required"`
	Reason string  `json:"reason" binding:"required"`
}

// MatchResult is returned by a successful match
type MatchResult struct {
	MatchToken     string   `json:"match_token"`
	OrderNo        string   `json:"order_no"`
	Amount         float64  `json:"amount"`
	ProductName    string   `json:"product_name,omitempty"`
	UnitPrice      *float64 `json:"unit_price,omitempty"`
	Quantity       *int     `json:"quantity,omitempty"`
	Commission     float64  `json:"commission"`
	CommissionRate float64  `json:"commission_rate"`
	TotalReturn    float64  `json:"total_return"`
}

// SettleResult is returned by a successful confirm or submit
type SettleResult struct {
	OrderNo      string   `json:"order_no"`
	Amount       float64  `json:"amount"`
	ProductName  string   `json:"product_name,omitempty"`
	UnitPrice    *float64 `json:"unit_price,omitempty"`
	Quantity     *int     `json:"quantity,omitempty"`
	Commission   float64  `json:"commission"`
	TotalReturn  float64  `json:"total_return"`
	TaskProgress int      `json:"task_progress"`
}
