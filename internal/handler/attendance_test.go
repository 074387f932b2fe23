package handler

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/devparmar15199/qr-student-app-backend/internal/attendance"
	"github.com/devparmar15199/qr-student-app-backend/internal/session"
)

func bindJSON(t *testing.T, body string, out any) error {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", "/", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	return c.ShouldBindJSON(out)
}

// Zero is a legal coordinate (equator, Greenwich meridian); binding
// must not treat it as missing.
func TestCoordinateBindingAcceptsZero(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var sub submissionRequest
	if err := bindJSON(t, `{"classId":"c1","sessionId":"x","latitude":51.4779,"longitude":0}`, &sub); err != nil {
		t.Fatalf("zero longitude rejected: %v", err)
	}
	if sub.Longitude == nil || *sub.Longitude != 0 {
		t.Fatalf("longitude = %v, want 0", sub.Longitude)
	}

	var gen generateSessionRequest
	if err := bindJSON(t, `{"classId":"c1","latitude":0,"longitude":0}`, &gen); err != nil {
		t.Fatalf("zero coordinates rejected: %v", err)
	}

	var sch createScheduleRequest
	body := `{"classId":"c1","dayOfWeek":1,"startTime":"09:00","endTime":"10:00","latitude":0,"longitude":77.5946}`
	if err := bindJSON(t, body, &sch); err != nil {
		t.Fatalf("zero latitude rejected: %v", err)
	}

	// Absent coordinates still fail binding.
	var missing submissionRequest
	if err := bindJSON(t, `{"classId":"c1","sessionId":"x","latitude":51.4779}`, &missing); err == nil {
		t.Fatal("missing longitude bound without error")
	}
}

func TestBuildSyncBatchCarriesResolveError(t *testing.T) {
	h := &Handler{
		Sessions: session.NewService(nil, nil, nil, session.Config{SigningKey: "test-key"}),
	}
	lat, lon := 12.9716, 77.5946

	items := []submissionRequest{
		{Token: "QR_not-a-session-id", ClassID: "c1", Latitude: &lat, Longitude: &lon},
		{SessionID: "0123456789abcdef0123456789abcdef", ClassID: "c1", Latitude: &lat, Longitude: &lon},
	}

	results, subs, positions := h.buildSyncBatch(items)
	if len(results) != 2 {
		t.Fatalf("got %d result slots, want 2", len(results))
	}
	if results[0].Outcome != attendance.SyncFailed {
		t.Errorf("bad token item = %+v, want failed", results[0])
	}
	if !strings.Contains(results[0].Error, "legacy token") {
		t.Errorf("error = %q, want the token resolution reason", results[0].Error)
	}
	if len(subs) != 1 || subs[0].SessionID != items[1].SessionID {
		t.Fatalf("subs = %+v, want only the resolvable item", subs)
	}
	if len(positions) != 1 || positions[0] != 1 {
		t.Errorf("positions = %v, want [1]", positions)
	}
}
