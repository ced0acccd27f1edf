package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"idresolve/internal/contact/handler/mocks"
	"idresolve/internal/contact/models"
	dErrors "idresolve/pkg/domain-errors"
	"idresolve/pkg/testutil"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service
type ContactHandlerSuite struct {
	suite.Suite
	service *mocks.MockService
	router  chi.Router
}

func TestContactHandlerSuite(t *testing.T) {
	suite.Run(t, new(ContactHandlerSuite))
}

func (s *ContactHandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.service = mocks.NewMockService(ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s.router = chi.NewRouter()
	New(s.service, logger).Register(s.router)
}

func (s *ContactHandlerSuite) do(method, path, body string) *httptest.ResponseRecorder {
	return testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), method, path, body))
}

var merged = models.Identity{
	PrimaryID:    1,
	Emails:       []string{"lorraine@hillvalley.edu", "mcfly@hillvalley.edu"},
	PhoneNumbers: []string{"123456"},
	SecondaryIDs: []models.ContactID{23},
}

func (s *ContactHandlerSuite) TestIdentify() {
	s.Run("returns the contact envelope", func() {
		s.service.EXPECT().Identify(gomock.Any(), "mcfly@hillvalley.edu", "123456").Return(merged, nil)

		w := s.do(http.MethodPost, "/identify", `{"email":"mcfly@hillvalley.edu","phoneNumber":"123456"}`)
		s.Equal(http.StatusOK, w.Code)
		s.Equal("application/json", w.Header().Get("Content-Type"))
		s.JSONEq(`{"contact":{
			"primaryContactId":1,
			"emails":["lorraine@hillvalley.edu","mcfly@hillvalley.edu"],
			"phoneNumbers":["123456"],
			"secondaryContactIds":[23]
		}}`, w.Body.String())
	})

	s.Run("numeric phone number is accepted", func() {
		s.service.EXPECT().Identify(gomock.Any(), "", "123456").Return(merged, nil)

		w := s.do(http.MethodPost, "/identify", `{"phoneNumber":123456}`)
		s.Equal(http.StatusOK, w.Code)
	})

	s.Run("null email is absent and values are trimmed", func() {
		s.service.EXPECT().Identify(gomock.Any(), "", "123456").Return(merged, nil)

		w := s.do(http.MethodPost, "/identify", `{"email":null,"phoneNumber":" 123456 "}`)
		s.Equal(http.StatusOK, w.Code)
	})

	s.Run("empty lists render as arrays", func() {
		s.service.EXPECT().Identify(gomock.Any(), "doc@example.com", "").
			Return(models.Identity{PrimaryID: 7, Emails: []string{"doc@example.com"}}, nil)

		w := s.do(http.MethodPost, "/identify", `{"email":"doc@example.com"}`)
		s.Equal(http.StatusOK, w.Code)
		s.JSONEq(`{"contact":{"primaryContactId":7,"emails":["doc@example.com"],"phoneNumbers":[],"secondaryContactIds":[]}}`, w.Body.String())
	})

	s.Run("mounted under /api", func() {
		s.service.EXPECT().Identify(gomock.Any(), "doc@example.com", "").Return(merged, nil)

		w := s.do(http.MethodPost, "/api/identify", `{"email":"doc@example.com"}`)
		s.Equal(http.StatusOK, w.Code)
	})
}

func (s *ContactHandlerSuite) TestIdentify_Rejects() {
	cases := []struct {
		name string
		body string
		code string
	}{
		{name: "neither attribute", body: `{}`, code: "validation_error"},
		{name: "blank attributes", body: `{"email":"  ","phoneNumber":""}`, code: "validation_error"},
		{name: "empty body", body: ``, code: "validation_error"},
		{name: "malformed json", body: `{"email":`, code: "bad_request"},
		{name: "phone of wrong type", body: `{"phoneNumber":true}`, code: "bad_request"},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			w := s.do(http.MethodPost, "/identify", tc.body)
			testutil.AssertStatusAndError(s.T(), w, http.StatusBadRequest, tc.code)
		})
	}
}

func (s *ContactHandlerSuite) TestIdentify_ServiceErrors() {
	s.Run("conflict is retryable", func() {
		s.service.EXPECT().Identify(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(models.Identity{}, dErrors.New(dErrors.CodeConflict, "contact is being updated concurrently, retry later"))

		w := s.do(http.MethodPost, "/identify", `{"email":"doc@example.com"}`)
		s.Equal(http.StatusServiceUnavailable, w.Code)
		s.Equal("1", w.Header().Get("Retry-After"))
	})

	s.Run("internal error hides detail", func() {
		s.service.EXPECT().Identify(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(models.Identity{}, dErrors.New(dErrors.CodeInternal, "failed to identify contact"))

		w := s.do(http.MethodPost, "/identify", `{"email":"doc@example.com"}`)
		s.Equal(http.StatusInternalServerError, w.Code)
		s.JSONEq(`{"error":"internal_error"}`, w.Body.String())
	})
}

func (s *ContactHandlerSuite) TestGetContact() {
	s.Run("returns the cluster", func() {
		s.service.EXPECT().Lookup(gomock.Any(), models.ContactID(23)).Return(merged, nil)

		w := s.do(http.MethodGet, "/contacts/23", "")
		s.Equal(http.StatusOK, w.Code)

		resp := testutil.UnmarshalResponse[IdentityResponse](s.T(), w)
		s.Equal(int64(1), resp.Contact.PrimaryContactID)
		s.Equal([]int64{23}, resp.Contact.SecondaryContactIDs)
	})

	s.Run("unknown id", func() {
		s.service.EXPECT().Lookup(gomock.Any(), models.ContactID(99)).
			Return(models.Identity{}, dErrors.New(dErrors.CodeNotFound, "contact not found"))

		w := s.do(http.MethodGet, "/api/contacts/99", "")
		testutil.AssertStatusAndError(s.T(), w, http.StatusNotFound, "not_found")
	})

	s.Run("malformed id never reaches the service", func() {
		w := s.do(http.MethodGet, "/contacts/abc", "")
		s.Equal(http.StatusBadRequest, w.Code)
	})
}

func TestIdentifyRoutesUseLimiter(t *testing.T) {
	ctrl := gomock.NewController(t)
	service := mocks.NewMockService(ctrl)
	service.EXPECT().Lookup(gomock.Any(), gomock.Any()).Return(merged, nil)

	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	r := chi.NewRouter()
	New(service, nil, deny).Register(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/identify", strings.NewReader(`{"email":"a@b.c"}`)))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/contacts/1", nil).WithContext(context.Background()))
	require.Equal(t, http.StatusOK, w.Code, "lookups are not rate limited")
}

func TestLooseString(t *testing.T) {
	cases := map[string]string{
		`"abc"`:  "abc",
		`123456`: "123456",
		`1.5e3`:  "1.5e3",
		`null`:   "",
	}
	for raw, want := range cases {
		var s looseString
		require.NoError(t, json.Unmarshal([]byte(raw), &s), raw)
		assert.Equal(t, want, string(s))
	}

	var s looseString
	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &s))
}
