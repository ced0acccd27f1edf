package handler

import "idresolve/internal/contact/models"

// IdentityResponse wraps the consolidated view of a cluster.
type IdentityResponse struct {
	Contact ContactView `json:"contact"`
}

type ContactView struct {
	PrimaryContactID    int64    `json:"primaryContactId"`
	Emails              []string `json:"emails"`
	PhoneNumbers        []string `json:"phoneNumbers"`
	SecondaryContactIDs []int64  `json:"secondaryContactIds"`
}

// HealthResponse is returned by the probe endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

// NewIdentityResponse renders identity in the API's envelope. Lists are never null.
func NewIdentityResponse(identity models.Identity) IdentityResponse {
	secondaries := make([]int64, 0, len(identity.SecondaryIDs))
	for _, id := range identity.SecondaryIDs {
		secondaries = append(secondaries, int64(id))
	}
	return IdentityResponse{
		Contact: ContactView{
			PrimaryContactID:    int64(identity.PrimaryID),
			Emails:              nonNil(identity.Emails),
			PhoneNumbers:        nonNil(identity.PhoneNumbers),
			SecondaryContactIDs: secondaries,
		},
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
