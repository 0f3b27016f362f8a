package models

import (
	"strings"
	"time"
)

// Роль пользователя площадки
type Role string

const (
	RoleManufacturer Role = "manufacturer"
	RoleBuyer        Role = "buyer"
)

func (r Role) Valid() bool {
	return r == RoleManufacturer || r == RoleBuyer
}

// Counterpart возвращает роль собеседников в чате: покупатели общаются с производителями и наоборот
func (r Role) Counterpart() Role {
	if r == RoleBuyer {
		return RoleManufacturer
	}
	return RoleBuyer
}

// Сущность Пользователя
type User struct {
	ID             int     `db:"id" json:"id"`
	Username       string  `db:"username" json:"username"`
	Email          string  `db:"email" json:"email"`
	FirstName      string  `db:"first_name" json:"first_name"`
	LastName       string  `db:"last_name" json:"last_name"`
	Role           Role    `db:"role" json:"role"`
	CompanyName    string  `db:"company_name" json:"company_name"`
	PhoneNumber    string  `db:"phone_number" json:"phone_number"`
	ProfilePicture *string `db:"profile_picture" json:"profile_picture"`
}

// DisplayName возвращает "Имя Фамилия", либо username если имя не заполнено
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// Initials для аватара-заглушки
func (u User) Initials() string {
	var b strings.Builder
	if r := firstRune(u.FirstName); r != "" {
		b.WriteString(r)
	}
	if r := firstRune(u.LastName); r != "" {
		b.WriteString(r)
	}
	if b.Len() == 0 {
		if r := firstRune(u.Username); r != "" {
			return strings.ToUpper(r)
		}
		return "?"
	}
	return strings.ToUpper(b.String())
}

func firstRune(s string) string {
	for _, r := range s {
		return string(r)
	}
	return ""
}

type TenderStatus string

const (
	TenderActive TenderStatus = "active"
	TenderClosed TenderStatus = "closed"
)

// Класс качества по результатам анализа отчёта
type QualityGrade string

const (
	GradeAPlus QualityGrade = "A+"
	GradeA     QualityGrade = "A"
	GradeB     QualityGrade = "B"
	GradeC     QualityGrade = "C"
	GradeD     QualityGrade = "D"
)

func (g QualityGrade) Valid() bool {
	switch g {
	case GradeAPlus, GradeA, GradeB, GradeC, GradeD:
		return true
	}
	return false
}

// Сущность Тендера
type Tender struct {
	ID             int           `db:"id" json:"id"`
	TenderNumber   string        `db:"tender_number" json:"tender_number"`
	Title          string        `db:"tender_title" json:"tender_title"`
	OilType        string        `db:"oil_type" json:"oil_type"`
	Quantity       Amount        `db:"quantity" json:"quantity"`
	Description    string        `db:"tender_description" json:"tender_description"`
	QualityGrade   *QualityGrade `db:"quality_grade" json:"quality_grade"`
	QualityScore   *float64      `db:"quality_score" json:"quality_score"`
	StartDate      Date          `db:"start_date" json:"start_date"`
	EndDate        Date          `db:"end_date" json:"end_date"`
	Status         TenderStatus  `db:"status" json:"status"`
	BidCount       int           `db:"bid_count" json:"bid_count"`
	ManufacturerID Ref           `db:"manufacturer_id" json:"manufacturer"`
	ReportFile     *string       `db:"report_file" json:"report_file"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
}

type BidStatus string

const (
	BidPending  BidStatus = "pending"
	BidAccepted BidStatus = "accepted"
	BidRejected BidStatus = "rejected"
)

// Сущность Предложения (ставки покупателя)
type Bid struct {
	ID          int       `db:"id" json:"id"`
	TenderID    Ref       `db:"tender_id" json:"tender"`
	BuyerID     Ref       `db:"buyer_id" json:"buyer"`
	BuyerName   string    `db:"buyer_name" json:"buyer_name,omitempty"`
	CompanyName string    `db:"company_name" json:"company_name,omitempty"`
	Amount      Amount    `db:"bid_amount" json:"bid_amount"`
	Message     string    `db:"message" json:"message"`
	Status      BidStatus `db:"status" json:"status"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Сообщение чата
type ChatMessage struct {
	ID         int       `db:"id" json:"id"`
	Sender     Ref       `db:"sender_id" json:"sender"`
	SenderName string    `db:"sender_name" json:"sender_name,omitempty"`
	Receiver   Ref       `db:"receiver_id" json:"receiver"`
	Message    string    `db:"message" json:"message"`
	IsRead     bool      `db:"is_read" json:"is_read"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
