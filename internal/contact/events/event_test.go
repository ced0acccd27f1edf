package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idresolve/internal/contact/engine"
	"idresolve/internal/contact/models"
)

var at = time.Date(2023, 4, 1, 12, 30, 0, 123456789, time.UTC)

func TestPayload(t *testing.T) {
	e := Event{
		ID:         uuid.MustParse("6f1c2d1e-7d0b-4e5e-9a9b-0c3c6b8f1a11"),
		Type:       TypeDemoted,
		ContactID:  2,
		PrimaryID:  1,
		Precedence: models.PrecedenceSecondary,
		RequestID:  "req-1",
		OccurredAt: at,
	}

	b, err := e.Payload()
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "6f1c2d1e-7d0b-4e5e-9a9b-0c3c6b8f1a11",
		"type": "contact.demoted",
		"contactId": 2,
		"primaryContactId": 1,
		"linkPrecedence": "secondary",
		"requestId": "req-1",
		"occurredAt": "2023-04-01T12:30:00.123456789Z"
	}`, string(b))

	parsed, err := ParsePayload(b)
	require.NoError(t, err)
	assert.Equal(t, e, parsed)
}

func TestParsePayload_Rejects(t *testing.T) {
	cases := map[string]string{
		"not json":    `{`,
		"bad id":      `{"id":"nope","occurredAt":"2023-04-01T00:00:00Z"}`,
		"bad instant": `{"id":"6f1c2d1e-7d0b-4e5e-9a9b-0c3c6b8f1a11","occurredAt":"yesterday"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePayload([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestFromOutcome(t *testing.T) {
	t.Run("no writes", func(t *testing.T) {
		assert.Nil(t, FromOutcome(engine.Outcome{Identity: models.Identity{PrimaryID: 1}}, "", at))
	})

	t.Run("merge with new secondary", func(t *testing.T) {
		out := engine.Outcome{
			Identity: models.Identity{PrimaryID: 1},
			Created:  []models.Contact{{ID: 5, LinkPrecedence: models.PrecedenceSecondary, LinkedID: 1}},
			Demoted:  []models.ContactID{3},
			Relinked: []models.ContactID{4},
		}
		evs := FromOutcome(out, "req-9", at)
		require.Len(t, evs, 3)

		assert.Equal(t, TypeDemoted, evs[0].Type)
		assert.Equal(t, models.ContactID(3), evs[0].ContactID)
		assert.Equal(t, TypeRelinked, evs[1].Type)
		assert.Equal(t, models.ContactID(4), evs[1].ContactID)
		assert.Equal(t, TypeCreated, evs[2].Type)
		assert.Equal(t, models.ContactID(5), evs[2].ContactID)
		assert.Equal(t, models.PrecedenceSecondary, evs[2].Precedence)

		seen := make(map[uuid.UUID]bool)
		for _, e := range evs {
			assert.Equal(t, models.ContactID(1), e.PrimaryID)
			assert.Equal(t, "req-9", e.RequestID)
			assert.Equal(t, at, e.OccurredAt)
			assert.False(t, seen[e.ID], "event ids are unique")
			seen[e.ID] = true
		}
	})
}
