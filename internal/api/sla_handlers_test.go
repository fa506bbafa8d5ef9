package api

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendesk-io/opendesk-ce/internal/models"
	"github.com/opendesk-io/opendesk-ce/internal/repository"
	"github.com/opendesk-io/opendesk-ce/internal/services/escalation"
	"github.com/opendesk-io/opendesk-ce/internal/services/sla"
)

func intPtr(v int) *int { return &v }

type serverFixture struct {
	router   *gin.Engine
	tickets  *repository.MemoryTicketStore
	users    *repository.MemoryUserDirectory
	tracker  *sla.Tracker
	policies *repository.MemorySLAPolicyRepository
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	quiet := log.New(io.Discard, "", 0)

	tickets := repository.NewMemoryTicketStore()
	users := repository.NewMemoryUserDirectory()
	notifier := repository.NewMemoryNotificationSink()
	tracking := repository.NewMemorySLATrackingRepository(tickets)
	escalations := repository.NewMemoryEscalationRepository(tickets)
	policies := repository.NewMemorySLAPolicyRepository()
	settings := repository.NewMemorySettingsStore(nil)

	calendars := sla.NewCalendarProvider(settings, sla.WithLogger(quiet))
	calc := sla.NewDeadlineCalculator(calendars)
	tracker := sla.NewTracker(tracking, tickets, calc, quiet)
	manager := escalation.NewManager(tickets, users, escalations, notifier, escalation.WithLogger(quiet))
	monitor := sla.NewMonitor(tracking, tickets, notifier, manager, sla.WithSweepLogger(quiet))

	srv := &Server{
		Tracker:     tracker,
		Monitor:     monitor,
		Escalation:  manager,
		Escalations: escalations,
		Policies:    policies,
	}
	return &serverFixture{router: srv.Router(), tickets: tickets, users: users, tracker: tracker, policies: policies}
}

func (f *serverFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetTicketSLA(t *testing.T) {
	f := newServerFixture(t)
	f.tickets.Put(&models.Ticket{ID: 1, Number: "T-1", Status: models.TicketStatusOpen, PriorityID: 1})

	policy := &models.SLAPolicy{ID: 1, PriorityID: 1, ResponseMinutes: 60, ResolutionMinutes: 480, IsActive: true}
	_, err := f.tracker.CreateTracking(context.Background(), 1, policy, time.Now().UTC())
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/v1/tickets/1/sla", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Tracked  bool               `json:"tracked"`
		Status   models.SLAStatus   `json:"status"`
		Tracking models.SLATracking `json:"tracking"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Tracked)
	assert.Equal(t, models.SLAStatusOnTrack, body.Status)
	assert.Equal(t, 1, body.Tracking.TicketID)
}

func TestGetTicketSLAUntracked(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/tickets/99/sla", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"tracked":false}`, rec.Body.String())
}

func TestGetTicketSLABadID(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/tickets/zero/sla", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEscalateTicketEndpoint(t *testing.T) {
	f := newServerFixture(t)
	f.tickets.Put(&models.Ticket{ID: 2, Number: "T-2", Status: models.TicketStatusOpen, AssigneeID: intPtr(10)})
	f.users.Put(&models.User{ID: 30, Login: "boss", Role: "admin", IsActive: true})

	rec := f.do(t, http.MethodPost, "/api/v1/tickets/2/escalate", `{"reason":"customer called twice"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	ticket, err := f.tickets.GetTicket(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 30, *ticket.AssigneeID)

	escRec := f.do(t, http.MethodGet, "/api/v1/tickets/2/escalations", "")
	require.Equal(t, http.StatusOK, escRec.Code)

	var body struct {
		Escalations []models.Escalation `json:"escalations"`
	}
	require.NoError(t, json.Unmarshal(escRec.Body.Bytes(), &body))
	require.Len(t, body.Escalations, 1)
	assert.Equal(t, models.EscalationTypeManual, body.Escalations[0].Type)
}

func TestEscalateTicketNoTarget(t *testing.T) {
	f := newServerFixture(t)
	f.tickets.Put(&models.Ticket{ID: 3, Status: models.TicketStatusOpen})

	rec := f.do(t, http.MethodPost, "/api/v1/tickets/3/escalate", `{"reason":"nobody to take it"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestEscalateTicketMissingReason(t *testing.T) {
	f := newServerFixture(t)
	f.tickets.Put(&models.Ticket{ID: 4, Status: models.TicketStatusOpen})

	rec := f.do(t, http.MethodPost, "/api/v1/tickets/4/escalate", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEscalateTicketNotFound(t *testing.T) {
	f := newServerFixture(t)
	f.users.Put(&models.User{ID: 30, Login: "boss", Role: "admin", IsActive: true})

	rec := f.do(t, http.MethodPost, "/api/v1/tickets/404/escalate", `{"reason":"gone"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunSweepEndpoint(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/sla/sweep", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var result sla.SweepResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.NotEmpty(t, result.RunID)
}

func TestCreatePolicyHoursForm(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/sla/policies",
		`{"name":"critical","priority_id":1,"response_hours":1,"resolution_hours":8,"business_hours_only":true}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var policy models.SLAPolicy
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &policy))
	assert.Equal(t, 60, policy.ResponseMinutes)
	assert.Equal(t, 480, policy.ResolutionMinutes)
	assert.True(t, policy.IsActive)

	stored, err := f.policies.Get(context.Background(), policy.ID)
	require.NoError(t, err)
	assert.Equal(t, 480, stored.ResolutionMinutes)
}

func TestCreatePolicyMinutesForm(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/sla/policies",
		`{"name":"low","priority_id":4,"response_minutes":90,"resolution_minutes":2880,"is_active":false}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var policy models.SLAPolicy
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &policy))
	assert.Equal(t, 90, policy.ResponseMinutes)
	assert.False(t, policy.IsActive)
}

func TestCreatePolicyRejectsAmbiguousTargets(t *testing.T) {
	f := newServerFixture(t)

	cases := []struct {
		name string
		body string
	}{
		{"both forms", `{"name":"x","priority_id":1,"response_minutes":60,"response_hours":1,"resolution_minutes":480}`},
		{"neither form", `{"name":"x","priority_id":1,"resolution_minutes":480}`},
		{"zero hours", `{"name":"x","priority_id":1,"response_hours":0,"resolution_minutes":480}`},
		{"missing name", `{"priority_id":1,"response_minutes":60,"resolution_minutes":480}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/v1/sla/policies", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestListPoliciesActiveFilter(t *testing.T) {
	f := newServerFixture(t)
	require.NoError(t, f.policies.Create(context.Background(), &models.SLAPolicy{Name: "live", PriorityID: 1, ResponseMinutes: 60, ResolutionMinutes: 480, IsActive: true}))
	require.NoError(t, f.policies.Create(context.Background(), &models.SLAPolicy{Name: "retired", PriorityID: 1, ResponseMinutes: 30, ResolutionMinutes: 240}))

	rec := f.do(t, http.MethodGet, "/api/v1/sla/policies?active=true", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Policies []models.SLAPolicy `json:"policies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Policies, 1)
	assert.Equal(t, "live", body.Policies[0].Name)
}
