package handler

import (
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	consentmodels "healthvault/internal/consent/models"
	"healthvault/internal/consent/service"
	"healthvault/internal/consent/store"
	"healthvault/pkg/testutil"
)

func TestHandleDefinitions(t *testing.T) {
	ledger := service.NewLedger(store.NewInMemoryStore(), "2025-06")
	r := chi.NewRouter()
	New(ledger, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)

	rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/v1/consent/definitions"))

	testutil.AssertStatusOK(t, rr)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	body := testutil.UnmarshalResponse[DefinitionsResponse](t, rr)
	assert.Equal(t, "2025-06", body.PolicyVersion)
	require.Len(t, body.Definitions, len(consentmodels.Catalogue()))

	required := 0
	for _, d := range body.Definitions {
		if d.Required {
			required++
		}
	}
	assert.Equal(t, 3, required)
}

func TestHandleDefinitions_MethodNotAllowed(t *testing.T) {
	r := chi.NewRouter()
	New(service.NewLedger(store.NewInMemoryStore(), "v1"), slog.Default()).Register(r)

	rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodPost, "/v1/consent/definitions"))
	testutil.AssertStatus(t, rr, http.StatusMethodNotAllowed)
}
