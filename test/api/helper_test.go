package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/careview-api/internal/aggregate"
	"github.com/jwalitptl/careview-api/internal/handler/health"
	"github.com/jwalitptl/careview-api/internal/handler/snapshot"
	"github.com/jwalitptl/careview-api/internal/middleware"
	"github.com/jwalitptl/careview-api/internal/router"
	"github.com/jwalitptl/careview-api/internal/session"
	"github.com/jwalitptl/careview-api/internal/store"
	"github.com/jwalitptl/careview-api/internal/store/memstore"
)

const testSecret = "test-secret"

var testNow = time.Date(2024, 2, 20, 10, 0, 0, 0, time.Local)

// APIResponse mirrors the handler envelope for assertions.
type APIResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type testServer struct {
	engine http.Handler
	store  *memstore.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ms := memstore.New()
	seedClinic(ms)

	planner := aggregate.NewPlanner(ms, zerolog.Nop(), nil)
	joiner := aggregate.NewJoiner(ms, zerolog.Nop(), nil)
	assembler := aggregate.NewAssembler(planner, joiner, zerolog.Nop(), nil).
		WithClock(func() time.Time { return testNow })

	parser := session.NewTokenParser(testSecret)
	auth := middleware.NewAuthMiddleware(parser)

	snapshotHandler := snapshot.NewHandler(assembler, session.ContextProvider{}, nil, zerolog.Nop())
	healthHandler := health.NewHandler("test")

	r := router.NewRouter(auth, healthHandler, snapshotHandler, router.Config{
		RateLimit:  rate.Inf,
		RateBurst:  1,
		CORSConfig: middleware.DefaultCORSConfig(),
		Logger:     zerolog.Nop(),
	})
	r.Setup()

	return &testServer{engine: r.Engine(), store: ms}
}

// seedClinic sets up doctor D1 with patients P1 and P2, and nurse N1
// who doubles as patient P2.
func seedClinic(ms *memstore.Store) {
	ms.Put(aggregate.CollectionDoctors, store.Document{"id": "D1", "name": "Dr. Grey"})
	ms.Put(aggregate.CollectionNurses, store.Document{"id": "N1", "name": "Nina Reyes"})

	ms.Put(aggregate.CollectionPatients, store.Document{
		"id": "P1", "name": "Pat One",
		"assignedDoctorId": "D1", "assignedNurseId": "N1",
	})
	ms.Put(aggregate.CollectionPatients, store.Document{
		"id": "P2", "name": "Nina Reyes", "staffId": "N1",
		"assignedDoctorId": "D1", "assignedNurseId": "N1",
	})

	ms.Put(aggregate.CollectionWebAppointments, store.Document{
		"id": "WA1", "doctorId": "D1", "nurseId": "N1", "patientId": "P1",
		"date": "2024-02-20", "time": "14:30",
		"room": "2B", "reason": "follow-up",
	})

	ms.Put(aggregate.CollectionMobileAppointments, store.Document{
		"id": "MA1", "doctorId": "D1", "patientId": "P2",
		"appointmentDate": time.Date(2024, 2, 20, 9, 0, 0, 0, time.Local),
		"reason":          "blood draw",
	})

	ms.Put(aggregate.CollectionLabRequests, store.Document{
		"id": "LQ1", "doctorId": "D1", "patientId": "P1",
		"testType": "CBC", "status": "pending",
		"createdAt": time.Date(2024, 2, 19, 8, 0, 0, 0, time.UTC),
	})

	ms.Put(aggregate.CollectionLabResults, store.Document{
		"id": "LR1", "requestId": "LQ1", "doctorId": "D1",
		"createdAt": time.Date(2024, 2, 19, 16, 0, 0, 0, time.UTC),
		"results": []any{
			map[string]any{"name": "WBC", "value": "6.1"},
			map[string]any{"name": "RBC", "value": "4.9"},
		},
	})

	ms.Put(aggregate.CollectionPrescriptions, store.Document{
		"id": "RX1", "doctorId": "D1", "patientId": "P1",
		"medication": "amoxicillin",
		"createdAt":  testNow.Add(-48 * time.Hour),
	})

	ms.Put(aggregate.CollectionOverrides, store.Document{
		"id": "OV1", "doctorId": "D1", "nurseId": "N1", "patientId": "P1",
		"requestingRole": "nurse", "reviewingRole": "doctor",
		"message": "increase dosage", "status": "pending",
		"createdAt": time.Date(2024, 2, 20, 7, 0, 0, 0, time.UTC),
	})
}

func signToken(t *testing.T, userID, role string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":  userID,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func (s *testServer) request(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	var envelope APIResponse
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	}
	return rec, envelope
}
