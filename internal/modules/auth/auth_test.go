package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tilla-pos/api/internal/errs"
	"github.com/tilla-pos/api/internal/modules/staff"
)

const testSecret = "test-signing-secret"

type memStaffRepo struct {
	members map[uuid.UUID]*staff.Staff
}

func (m *memStaffRepo) Create(_ context.Context, st *staff.Staff) error {
	m.members[st.ID] = st
	return nil
}

func (m *memStaffRepo) GetByID(_ context.Context, id uuid.UUID) (*staff.Staff, error) {
	st, ok := m.members[id]
	if !ok {
		return nil, errs.New(errs.CodeNotFound, "staff member not found")
	}
	return st, nil
}

func seedStaff(t *testing.T, repo *memStaffRepo, pin string, role staff.Role, active bool) *staff.Staff {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.MinCost)
	require.NoError(t, err)
	st := &staff.Staff{
		ID:       uuid.New(),
		OrgID:    uuid.New(),
		BranchID: uuid.New(),
		FullName: "Asha Nankya",
		Role:     role,
		PINHash:  string(hash),
		Active:   active,
	}
	repo.members[st.ID] = st
	return st
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	repo := &memStaffRepo{members: map[uuid.UUID]*staff.Staff{}}
	member := seedStaff(t, repo, "4321", staff.RoleManager, true)
	svc := NewService(repo, testSecret)

	token, got, err := svc.Login(context.Background(), member.ID, "4321")
	require.NoError(t, err)
	assert.Equal(t, member.ID, got.ID)

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(testSecret), nil
	})
	require.NoError(t, err)
	require.True(t, parsed.Valid)
	assert.Equal(t, member.ID, claims.StaffID)
	assert.Equal(t, member.OrgID, claims.OrgID)
	assert.Equal(t, member.BranchID, claims.BranchID)
	assert.Equal(t, staff.RoleManager, claims.Role)
	assert.Greater(t, claims.ExpiresAt, time.Now().Unix())
}

func TestLoginRejections(t *testing.T) {
	repo := &memStaffRepo{members: map[uuid.UUID]*staff.Staff{}}
	active := seedStaff(t, repo, "4321", staff.RoleCashier, true)
	inactive := seedStaff(t, repo, "4321", staff.RoleCashier, false)
	svc := NewService(repo, testSecret)
	ctx := context.Background()

	tests := []struct {
		name    string
		staffID uuid.UUID
		pin     string
	}{
		{"wrong pin", active.ID, "0000"},
		{"unknown staff", uuid.New(), "4321"},
		{"inactive staff", inactive.ID, "4321"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Login(ctx, tt.staffID, tt.pin)
			assert.ErrorIs(t, err, ErrInvalidCredentials)
		})
	}
}

func TestAuthenticateMiddleware(t *testing.T) {
	repo := &memStaffRepo{members: map[uuid.UUID]*staff.Staff{}}
	member := seedStaff(t, repo, "4321", staff.RoleCashier, true)
	svc := NewService(repo, testSecret)
	token, _, err := svc.Login(context.Background(), member.ID, "4321")
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(Authenticate(testSecret))
	r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
		c, ok := FromContext(r.Context())
		require.True(t, ok)
		w.Write([]byte(c.OrgID.String()))
	})

	// A forged token signed with another secret must not pass.
	forged, _, err := NewService(repo, "other-secret").Login(context.Background(), member.ID, "4321")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid token", "Bearer " + token, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not.a.jwt", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + forged, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, member.OrgID.String(), rr.Body.String())
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	gate := RequireRole(staff.RoleManager, staff.RoleAdmin)
	next := gate(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	serve := func(c *Claims) int {
		req := httptest.NewRequest(http.MethodPost, "/guarded", nil)
		if c != nil {
			req = req.WithContext(WithClaims(req.Context(), c))
		}
		rr := httptest.NewRecorder()
		next.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusUnauthorized, serve(nil))
	assert.Equal(t, http.StatusForbidden, serve(&Claims{Role: staff.RoleCashier}))
	assert.Equal(t, http.StatusNoContent, serve(&Claims{Role: staff.RoleManager}))
	assert.Equal(t, http.StatusNoContent, serve(&Claims{Role: staff.RoleAdmin}))
}

func TestLoginEndpoint(t *testing.T) {
	repo := &memStaffRepo{members: map[uuid.UUID]*staff.Staff{}}
	member := seedStaff(t, repo, "4321", staff.RoleCashier, true)

	r := chi.NewRouter()
	NewHandler(NewService(repo, testSecret)).RegisterRoutes(r)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr
	}

	rr := post(`{"staff_id":"` + member.ID.String() + `","pin":"4321"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var ok struct {
		Token string       `json:"token"`
		Staff *staff.Staff `json:"staff"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&ok))
	assert.NotEmpty(t, ok.Token)
	assert.Equal(t, member.ID, ok.Staff.ID)

	rr = post(`{"staff_id":"` + member.ID.String() + `","pin":"9999"}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = post(`{"staff_id":"nope","pin":"4321"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
