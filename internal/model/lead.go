package model

import "time"

// LeadSource は問い合わせの流入元を表す。
type LeadSource string

const (
	LeadSourceContactForm LeadSource = "contact_form"
	LeadSourceExitIntent  LeadSource = "exit_intent"
)

// Valid は流入元が定義済みの値かどうかを返す。
func (s LeadSource) Valid() bool {
	return s == LeadSourceContactForm || s == LeadSourceExitIntent
}

// Lead はお問い合わせフォームまたは離脱防止ポップアップから獲得した見込み客。
type Lead struct {
	ID          string     `json:"id"`
	Source      LeadSource `json:"source"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	Phone       string     `json:"phone,omitempty"`
	Company     string     `json:"company,omitempty"`
	Message     string     `json:"message,omitempty"`
	MachineSlug string     `json:"machine_slug,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
