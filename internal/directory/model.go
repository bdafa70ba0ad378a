package directory

import "time"

type Patient struct {
	ID        string    `json:"patient_id" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	Email     *string   `json:"email,omitempty" bson:"email,omitempty"`
	Phone     *string   `json:"phone,omitempty" bson:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

type Provider struct {
	ID        string    `json:"provider_id" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	Specialty *string   `json:"specialty,omitempty" bson:"specialty,omitempty"`
	Email     *string   `json:"email,omitempty" bson:"email,omitempty"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// Contact returns the patient's email, or an empty string when none is on
// file.
func (p *Patient) Contact() string {
	if p.Email == nil {
		return ""
	}
	return *p.Email
}
