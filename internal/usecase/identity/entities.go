package identity

type RegisterInput struct {
	Address     string `json:"address" validate:"required,wallet"`
	FirstName   string `json:"first_name" validate:"required,max=100"`
	LastName    string `json:"last_name" validate:"max=100"`
	Email       string `json:"email" validate:"omitempty,email,max=255"`
	CreditScore int    `json:"credit_score" validate:"gte=0,lte=1000"`
}

type PartyDTO struct {
	Address     string `json:"address"`
	DisplayName string `json:"display_name"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email,omitempty"`
	CreditScore int    `json:"credit_score"`
}
