package company

import "time"

// Company is a tenant of the back-office. Billing hangs off its ID.
type Company struct {
	ID                string    `json:"id" gorm:"primaryKey"`
	Name              string    `json:"name"`
	Email             string    `json:"email" gorm:"index"`
	TaxID             string    `json:"taxId"`                          // CUIT/RUT shown on invoices
	GatewayCustomerID string    `json:"gatewayCustomerId" gorm:"index"` // Corresponds to the payment gateway's Customer ID
	Advisors          []Advisor `json:"advisors" gorm:"foreignKey:CompanyID"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Advisor is a seat-consuming sub-user of a Company. The count of active
// advisors against the plan's included capacity drives overage billing.
type Advisor struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	CompanyID string    `json:"companyId" gorm:"index"`
	Name      string    `json:"name"`
	Email     string    `json:"email" gorm:"index"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}
