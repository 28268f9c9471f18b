package billing

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Metadata is a free-form key/value map persisted as jsonb. The subtipo/periodo
// keys inside it back the dedup lookups, so callers must set them where noted.
type Metadata map[string]string

// Value implements driver.Valuer
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = Metadata{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported metadata column type %T", value)
	}
}

// Movement is one ledger entry of money owed or collected. Rows are created
// pending (upgrades) or directly paid (simulated history) and only transition
// state afterwards, they are never rewritten.
type Movement struct {
	ID                string          `json:"id" gorm:"primaryKey"`
	CompanyID         string          `json:"companyId" gorm:"index"`
	Date              time.Time       `json:"date" gorm:"index"`
	Type              Type            `json:"type" gorm:"index"`
	State             State           `json:"state" gorm:"index"`
	NetAmount         decimal.Decimal `json:"netAmount" gorm:"type:numeric"`
	TaxAmount         decimal.Decimal `json:"taxAmount" gorm:"type:numeric"`
	TotalAmount       decimal.Decimal `json:"totalAmount" gorm:"type:numeric"`
	Currency          string          `json:"currency"`
	Gateway           string          `json:"gateway"`
	ExternalReference string          `json:"externalReference" gorm:"index"`
	Metadata          Metadata        `json:"metadata" gorm:"type:jsonb"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}
