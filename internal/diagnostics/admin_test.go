package diagnostics

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldmesh/terrafuse/internal/testutil"
)

func TestDiagnosticsStatsHandlerReportsCounts(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	now := time.Now()
	require.NoError(t, store.RecordEvent("rover-1", EventMalformedDatagram, nil, now))
	require.NoError(t, store.RecordEvent("rover-1", EventMalformedDatagram, nil, now))
	require.NoError(t, store.RecordCellRemap("rover-1", 1, 2, 5.0, 7.0, now))

	mux := http.NewServeMux()
	require.NoError(t, store.AttachAdminRoutes(mux))

	req := testutil.NewTestRequest(http.MethodGet, "/debug/diagnostics-stats")
	rec := testutil.NewTestRecorder()
	mux.ServeHTTP(rec, req)

	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var counts map[string]int
	testutil.AssertNoError(t, json.Unmarshal(rec.Body.Bytes(), &counts))
	if counts[string(EventMalformedDatagram)] != 2 {
		t.Fatalf("malformed_datagram count = %d, want 2", counts[string(EventMalformedDatagram)])
	}
	if counts[string(EventCellRemap)] != 1 {
		t.Fatalf("cell_remap count = %d, want 1", counts[string(EventCellRemap)])
	}
}

func TestDiagnosticsStatsHandlerEmptyStore(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	mux := http.NewServeMux()
	require.NoError(t, store.AttachAdminRoutes(mux))

	req := testutil.NewTestRequest(http.MethodGet, "/debug/diagnostics-stats")
	rec := testutil.NewTestRecorder()
	mux.ServeHTTP(rec, req)

	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
}
