package patient

import (
	"time"

	"github.com/google/uuid"
)

// Patient maps to the patients table in the tenant database.
type Patient struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	FirstName  string     `db:"first_name" json:"first_name"`
	LastName   string     `db:"last_name" json:"last_name"`
	BirthDate  *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Sex        *string    `db:"sex" json:"sex,omitempty"`
	Email      *string    `db:"email" json:"email,omitempty"`
	Phone      *string    `db:"phone" json:"phone,omitempty"`
	AddressL1  *string    `db:"address_line1" json:"address_line1,omitempty"`
	AddressL2  *string    `db:"address_line2" json:"address_line2,omitempty"`
	City       *string    `db:"city" json:"city,omitempty"`
	PostalCode *string    `db:"postal_code" json:"postal_code,omitempty"`
	Country    *string    `db:"country" json:"country,omitempty"`
	Notes      *string    `db:"notes" json:"notes,omitempty"`
	Active     bool       `db:"active" json:"active"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}
