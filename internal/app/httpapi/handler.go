// Package httpapi exposes the card engine as JSON over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	app "github.com/R3E-Network/scratchcards/internal/app"
	"github.com/R3E-Network/scratchcards/internal/app/domain/card"
	"github.com/R3E-Network/scratchcards/internal/app/metrics"
	"github.com/R3E-Network/scratchcards/internal/app/services/claims"
	"github.com/R3E-Network/scratchcards/internal/app/services/provisioning"
	svcerrors "github.com/R3E-Network/scratchcards/internal/errors"
	"github.com/R3E-Network/scratchcards/internal/middleware"
	"github.com/R3E-Network/scratchcards/pkg/logger"
)

const maxBodyBytes = 1 << 20

// MaxBatchSize caps token ids per request.
const MaxBatchSize = 500

// Options configures the router around the handlers.
type Options struct {
	RateLimiter *middleware.RateLimiter // nil disables throttling
	CORSOrigins []string
	Log         *logger.Logger
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
	log *logger.Logger
}

// NewHandler returns a router exposing the card API, /healthz and /metrics.
func NewHandler(application *app.Application, opts Options) http.Handler {
	log := opts.Log
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application, log: log}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.NewTracingMiddleware(log).Handler)
	r.Use(metrics.InstrumentHandler)
	if len(opts.CORSOrigins) > 0 {
		r.Use(middleware.NewCORSMiddleware(opts.CORSOrigins).Handler)
	}

	r.Get("/healthz", h.health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1/contracts/{contract}", func(r chi.Router) {
		if opts.RateLimiter != nil {
			r.Use(opts.RateLimiter.Handler)
		}
		r.Post("/cards", h.provision)
		r.Get("/cards/{tokenID}", h.getCard)
		r.Post("/cards/{tokenID}/scratch", h.scratch)
		r.Post("/cards/{tokenID}/claim-authorization", h.authorize)
		r.Post("/claim-authorizations", h.authorizeBatch)
		r.Post("/claims/confirm", h.confirm)
	})
	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// cardView hides the face of a card until it has been scratched.
type cardView struct {
	ID          string        `json:"id"`
	TokenID     uint64        `json:"token_id"`
	ContractRef string        `json:"contract_ref"`
	Revealed    bool          `json:"revealed"`
	Claimed     bool          `json:"claimed"`
	MinterRef   string        `json:"minter_ref"`
	Grid        *card.Grid    `json:"grid,omitempty"`
	Outcome     *card.Outcome `json:"outcome,omitempty"`
	RevealedBy  string        `json:"revealed_by,omitempty"`
	RevealedAt  *time.Time    `json:"revealed_at,omitempty"`
	ClaimedAt   *time.Time    `json:"claimed_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

func newCardView(c card.Card) cardView {
	v := cardView{
		ID:          c.ID,
		TokenID:     c.TokenID,
		ContractRef: c.ContractRef,
		Revealed:    c.Revealed,
		Claimed:     c.Claimed,
		MinterRef:   c.MinterRef,
		CreatedAt:   c.CreatedAt,
	}
	if c.Revealed {
		grid, outcome, at := c.Grid, c.Outcome, c.RevealedAt
		v.Grid, v.Outcome, v.RevealedAt = &grid, &outcome, &at
		v.RevealedBy = c.RevealedByRef
	}
	if c.Claimed {
		at := c.ClaimedAt
		v.ClaimedAt = &at
	}
	return v
}

func (h *handler) provision(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TokenIDs  []uint64    `json:"token_ids"`
		Recipient string      `json:"recipient"`
		Peers     []card.Peer `json:"peers"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(payload.TokenIDs) > MaxBatchSize {
		h.writeError(w, r, svcerrors.BadRequest(fmt.Sprintf("at most %d token ids per request", MaxBatchSize)))
		return
	}

	provisioned, err := h.app.Provisioner.Provision(r.Context(), provisioning.Request{
		ContractRef:  chi.URLParam(r, "contract"),
		TokenIDs:     payload.TokenIDs,
		PeerPool:     payload.Peers,
		RecipientRef: payload.Recipient,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	views := make([]cardView, 0, len(provisioned))
	for _, c := range provisioned {
		views = append(views, newCardView(c))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cards": views})
}

func (h *handler) getCard(w http.ResponseWriter, r *http.Request) {
	tokenID, err := tokenIDParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.app.Cards.Get(r.Context(), chi.URLParam(r, "contract"), tokenID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCardView(c))
}

type scratchResponse struct {
	Card         cardView   `json:"card"`
	WinningRow   *int       `json:"winning_row"`
	RewardedPeer *card.Peer `json:"rewarded_peer,omitempty"`
}

func (h *handler) scratch(w http.ResponseWriter, r *http.Request) {
	tokenID, err := tokenIDParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var payload struct {
		RevealedBy string `json:"revealed_by"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(payload.RevealedBy) == "" {
		h.writeError(w, r, svcerrors.BadRequest("revealed_by is required"))
		return
	}

	res, err := h.app.Cards.Scratch(r.Context(), chi.URLParam(r, "contract"), tokenID, payload.RevealedBy)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scratchResponse{
		Card:         newCardView(res.Card),
		WinningRow:   res.WinningRow,
		RewardedPeer: res.RewardedPeer,
	})
}

type deadlinePayload struct {
	DeadlineOffsetSeconds *float64 `json:"deadline_offset_seconds"`
}

// offset converts the optional seconds field; absent means the default.
func (p deadlinePayload) offset() (time.Duration, error) {
	if p.DeadlineOffsetSeconds == nil {
		return 0, nil
	}
	secs := *p.DeadlineOffsetSeconds
	if secs <= 0 {
		return 0, svcerrors.InvalidFormat("deadline_offset_seconds", "positive number of seconds")
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func (h *handler) authorize(w http.ResponseWriter, r *http.Request) {
	tokenID, err := tokenIDParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var payload deadlinePayload
	if err := decodeJSON(w, r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	offset, err := payload.offset()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	auth, err := h.app.Claims.Authorize(r.Context(), claims.Request{
		ContractRef:    chi.URLParam(r, "contract"),
		TokenID:        tokenID,
		DeadlineOffset: offset,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, auth)
}

func (h *handler) authorizeBatch(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TokenIDs []uint64 `json:"token_ids"`
		deadlinePayload
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := checkBatch(payload.TokenIDs); err != nil {
		h.writeError(w, r, err)
		return
	}
	offset, err := payload.offset()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res := h.app.Claims.AuthorizeBatch(r.Context(), chi.URLParam(r, "contract"), payload.TokenIDs, offset)
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) confirm(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TokenIDs []uint64 `json:"token_ids"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := checkBatch(payload.TokenIDs); err != nil {
		h.writeError(w, r, err)
		return
	}

	res := h.app.Claims.ConfirmClaims(r.Context(), chi.URLParam(r, "contract"), payload.TokenIDs)
	writeJSON(w, http.StatusOK, res)
}

func checkBatch(ids []uint64) error {
	switch {
	case len(ids) == 0:
		return svcerrors.BadRequest("token_ids is required")
	case len(ids) > MaxBatchSize:
		return svcerrors.BadRequest(fmt.Sprintf("at most %d token ids per request", MaxBatchSize))
	}
	return nil
}

func tokenIDParam(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "tokenID")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, svcerrors.InvalidFormat("token id", "unsigned integer")
	}
	return id, nil
}

// decodeJSON reads a bounded JSON body. An empty body decodes as {}.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return svcerrors.BadRequest("invalid JSON body").WithDetails("reason", err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	se := svcerrors.FromDomain(err)
	entry := h.log.WithError(err).
		WithField("trace_id", middleware.TraceID(r.Context())).
		WithField("code", se.Code)
	if se.HTTPStatus >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}
	writeJSON(w, se.HTTPStatus, map[string]interface{}{"error": se})
}
