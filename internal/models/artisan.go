package models

import (
	"time"
)

type Artisan struct {
	ArtisanID string    `json:"artisanId" dynamodbav:"artisan_id"`
	Phone     string    `json:"phone" dynamodbav:"phone"`
	Name      string    `json:"name" dynamodbav:"name"`
	Craft     string    `json:"craft,omitempty" dynamodbav:"craft,omitempty"`
	Region    string    `json:"region,omitempty" dynamodbav:"region,omitempty"`
	CreatedAt time.Time `json:"createdAt" dynamodbav:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" dynamodbav:"updated_at"`
}

func (a *Artisan) GetPK() string {
	return "ARTISAN#" + a.ArtisanID
}

func (a *Artisan) GetSK() string {
	return "METADATA"
}

// PhonePK keys the item that reserves a phone number for one artisan.
func PhonePK(phone string) string {
	return "PHONE#" + phone
}
