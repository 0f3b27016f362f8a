package models

// Тела запросов и ответов REST API, общие для клиента и сервера

type RegisterRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	Password2   string `json:"password2"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Role        Role   `json:"role"`
	PhoneNumber string `json:"phone_number"`
	CompanyName string `json:"company_name"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse возвращается при входе и регистрации
type AuthResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	User    User   `json:"user"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type ProfileResponse struct {
	User User `json:"user"`
}

// BidCreate создаёт предложение: ссылка на тендер передаётся только здесь
type BidCreate struct {
	TenderID int    `json:"tender"`
	Amount   Amount `json:"bid_amount"`
	Message  string `json:"message"`
}

// BidUpdate редактирует предложение: только сумма и сообщение
type BidUpdate struct {
	Amount  Amount `json:"bid_amount"`
	Message string `json:"message"`
}

type BidPatch struct {
	Amount  *Amount `json:"bid_amount,omitempty"`
	Message *string `json:"message,omitempty"`
}

type TenderPatch struct {
	Title       *string       `json:"tender_title,omitempty"`
	OilType     *string       `json:"oil_type,omitempty"`
	Quantity    *Amount       `json:"quantity,omitempty"`
	Description *string       `json:"tender_description,omitempty"`
	StartDate   *Date         `json:"start_date,omitempty"`
	EndDate     *Date         `json:"end_date,omitempty"`
	Status      *TenderStatus `json:"status,omitempty"`
}

type SendMessageRequest struct {
	Receiver int    `json:"receiver"`
	Message  string `json:"message"`
}

type UnreadCount struct {
	Count int `json:"count"`
}

type NextTenderNumber struct {
	NextTenderNumber string `json:"next_tender_number"`
}

type QualityPrediction struct {
	QualityGrade QualityGrade `json:"quality_grade"`
	QualityScore float64      `json:"quality_score"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type MessageResponse struct {
	Message string `json:"message"`
}
