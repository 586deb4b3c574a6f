package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/nftbridge/starknet-migrator/internal/api/middleware"
	"github.com/nftbridge/starknet-migrator/internal/domain"
)

// MigrationService is what the HTTP layer needs from the queue manager.
type MigrationService interface {
	RequestMigration(ctx context.Context, req domain.MigrationRequest) ([]*domain.QueueItem, error)
	GetCustomerMigrationState(ctx context.Context, walletPubKey, projectID string) []*domain.QueueItem
	GetCustomerKeys(ctx context.Context, walletPubKey, projectID string) (*domain.CustomerKeys, error)
}

type MigrationHandler struct {
	svc    MigrationService
	logger *zap.Logger
}

func NewMigrationHandler(svc MigrationService, logger *zap.Logger) *MigrationHandler {
	return &MigrationHandler{svc: svc, logger: logger}
}

// Request handles POST /api/v1/migrations
//
// @Summary  Request migration of source-chain tokens to Starknet
// @Tags     migrations
// @Accept   json
// @Produce  json
// @Param    body  body      domain.MigrationRequest  true  "Signed migration request"
// @Success  201   {object}  map[string]any
// @Failure  401   {object}  map[string]string
// @Failure  422   {object}  map[string]string
// @Router   /api/v1/migrations [post]
func (h *MigrationHandler) Request(w http.ResponseWriter, r *http.Request) {
	var req domain.MigrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	items, err := h.svc.RequestMigration(r.Context(), req)
	if err != nil {
		apimw.Logger(r.Context(), h.logger).Info("migration request refused",
			zap.String("wallet", req.WalletPubKey), zap.String("project_id", req.ProjectID), zap.Error(err))
		mapError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{"items": items})
}

// State handles GET /api/v1/migrations/{wallet}/{project}
//
// @Summary  Migration status of every token a wallet requested for a project
// @Tags     migrations
// @Produce  json
// @Success  200  {object}  map[string]any
// @Router   /api/v1/migrations/{wallet}/{project} [get]
func (h *MigrationHandler) State(w http.ResponseWriter, r *http.Request) {
	items := h.svc.GetCustomerMigrationState(r.Context(), chi.URLParam(r, "wallet"), chi.URLParam(r, "project"))
	respondJSON(w, http.StatusOK, map[string]any{"items": items})
}

// CustomerTokens handles GET /api/v1/customers/{wallet}/{project}/tokens
//
// @Summary  Tokens already migrated for a wallet and project
// @Tags     customers
// @Produce  json
// @Success  200  {object}  domain.CustomerKeys
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/customers/{wallet}/{project}/tokens [get]
func (h *MigrationHandler) CustomerTokens(w http.ResponseWriter, r *http.Request) {
	keys, err := h.svc.GetCustomerKeys(r.Context(), chi.URLParam(r, "wallet"), chi.URLParam(r, "project"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, keys)
}
