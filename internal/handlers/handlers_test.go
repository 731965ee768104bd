package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventui/server/internal/queue"
	"github.com/eventui/server/pkg/core"
)

var testPlayer = uuid.MustParse("0b6b8f2e-1f6c-4a8e-8f7d-5d1a2c3b4e5f")

// mockEngine implements Engine for testing
type mockEngine struct {
	signals      []core.Signal
	positions    int
	observations map[string]int
	enqueueErr   error
	checkErr     error
}

func (e *mockEngine) Enqueue(s core.Signal) error {
	if e.enqueueErr != nil {
		return e.enqueueErr
	}
	e.signals = append(e.signals, s)
	return nil
}

func (e *mockEngine) CheckLocation(uuid.UUID, string, float64, float64) (int, error) {
	if e.checkErr != nil {
		return 0, e.checkErr
	}
	e.positions++
	return 1, nil
}

func (e *mockEngine) CheckObjective(_ uuid.UUID, missionID, objectiveID string, observed int) (bool, error) {
	if e.checkErr != nil {
		return false, e.checkErr
	}
	if e.observations == nil {
		e.observations = make(map[string]int)
	}
	e.observations[missionID+"/"+objectiveID] = observed
	return true, nil
}

var _ Engine = (*mockEngine)(nil)

func newTestService(engine *mockEngine, secret string) *Service {
	return NewService(Dependencies{Engine: engine, Logger: slog.Default(), Secret: secret})
}

func post(t *testing.T, svc *Service, body string, header http.Header) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/signals", strings.NewReader(body))
	for k, v := range header {
		for _, vv := range v {
			req.Header.Add(k, vv)
		}
	}
	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, req)

	var resp Response
	if rec.Code == http.StatusOK || rec.Code == http.StatusServiceUnavailable {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestServeHTTP_AcceptsBatch(t *testing.T) {
	engine := &mockEngine{}
	svc := newTestService(engine, "")
	p := testPlayer.String()

	body := fmt.Sprintf(`{
		"signals": [["entity_killed","%[1]s","0","zombie"],["item_crafted","%[1]s","0","bread","4"]],
		"positions": [["%[1]s","0","overworld","1.5","2"]],
		"observations": [["%[1]s","gather","logs","7"]]
	}`, p)

	rec, resp := post(t, svc, body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, 4, resp.Accepted)
	assert.Zero(t, resp.Rejected)
	assert.Empty(t, resp.Errors)

	require.Len(t, engine.signals, 2)
	assert.Equal(t, core.SignalEntityKilled, engine.signals[0].Kind())
	assert.Equal(t, 4, engine.signals[1].(core.ItemCrafted).Count)
	assert.Equal(t, 1, engine.positions)
	assert.Equal(t, 7, engine.observations["gather/logs"])
}

func TestServeHTTP_RejectsBadRecords(t *testing.T) {
	engine := &mockEngine{}
	svc := newTestService(engine, "")
	p := testPlayer.String()

	body := fmt.Sprintf(`{"signals": [["entity_killed","%s","0","zombie"],["warp","x"]]}`, p)
	rec, resp := post(t, svc, body, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, resp.Accepted)
	assert.Equal(t, 1, resp.Rejected)
	require.Len(t, resp.Errors, 1)
	assert.Contains(t, resp.Errors[0], "signals[1]")
}

func TestServeHTTP_QueueFull(t *testing.T) {
	engine := &mockEngine{enqueueErr: fmt.Errorf("enqueue custom: %w", queue.ErrFull)}
	svc := newTestService(engine, "")

	body := fmt.Sprintf(`{"signals": [["custom","%s","0","token"]]}`, testPlayer)
	rec, resp := post(t, svc, body, nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, 1, resp.Rejected)
}

func TestServeHTTP_CheckFailuresAreRejected(t *testing.T) {
	engine := &mockEngine{checkErr: core.ErrPlayerNotFound}
	svc := newTestService(engine, "")

	body := fmt.Sprintf(`{"positions": [["%[1]s","0","overworld","1","2"]], "observations": [["%[1]s","m","o","1"]]}`, testPlayer)
	rec, resp := post(t, svc, body, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, resp.Rejected)
	assert.Contains(t, resp.Errors[0], "positions[0]")
	assert.Contains(t, resp.Errors[1], "observations[0]")
}

func TestServeHTTP_ErrorListIsCapped(t *testing.T) {
	svc := newTestService(&mockEngine{}, "")

	records := make([]string, maxErrors+5)
	for i := range records {
		records[i] = `["bogus"]`
	}
	rec, resp := post(t, svc, `{"signals": [`+strings.Join(records, ",")+`]}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxErrors+5, resp.Rejected)
	assert.Len(t, resp.Errors, maxErrors)
}

func TestServeHTTP_RequestValidation(t *testing.T) {
	svc := newTestService(&mockEngine{}, "s3cret")

	t.Run("method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/signals", nil)
		rec := httptest.NewRecorder()
		svc.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
	})

	t.Run("missing secret", func(t *testing.T) {
		rec, _ := post(t, svc, `{}`, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bad body", func(t *testing.T) {
		rec, _ := post(t, svc, `{"signals": 5`, http.Header{SecretHeader: {"s3cret"}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("empty batch", func(t *testing.T) {
		rec, resp := post(t, svc, `{}`, http.Header{SecretHeader: {"s3cret"}})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Zero(t, resp.Accepted)
	})
}

func TestIngest_ParserDefaults(t *testing.T) {
	svc := NewService(Dependencies{Engine: &mockEngine{}})
	require.NotNil(t, svc.deps.Parser)
	require.NotNil(t, svc.deps.Logger)

	resp, full := svc.Ingest(Batch{Signals: [][]string{{"custom", testPlayer.String(), "0", "x"}}})
	assert.False(t, full)
	assert.Equal(t, 1, resp.Accepted)
}
