package reception

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-reception/internal/catalog"
	"github.com/odyssey-erp/odyssey-reception/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-reception/internal/procurement"
	"github.com/odyssey-erp/odyssey-reception/internal/reception/columns"
	"github.com/odyssey-erp/odyssey-reception/internal/reception/domain"
	"github.com/odyssey-erp/odyssey-reception/internal/reception/sheet"
	"github.com/odyssey-erp/odyssey-reception/internal/tenant"
)

// multipart overhead allowed on top of the file limit
const formOverhead = 1 << 20

// Handler exposes the reception workflow over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	maxUpload int64
	uploads   func(http.Handler) http.Handler
}

// NewHandler builds Handler. maxUpload <= 0 selects sheet.DefaultMaxBytes.
func NewHandler(logger *slog.Logger, service *Service, maxUpload int64) *Handler {
	if maxUpload <= 0 {
		maxUpload = sheet.DefaultMaxBytes
	}
	return &Handler{logger: logger, service: service, validator: validator.New(), maxUpload: maxUpload}
}

// LimitUploads caps spreadsheet imports per client IP and minute.
func (h *Handler) LimitUploads(perMinute int) *Handler {
	if perMinute > 0 {
		h.uploads = httprate.LimitByIP(perMinute, time.Minute)
	}
	return h
}

// MountRoutes registers reception routes. Every route requires a tenant.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(tenant.Middleware)
		r.Route("/receptions", func(r chi.Router) {
			if h.uploads != nil {
				r.With(h.uploads).Post("/", h.importReception)
			} else {
				r.Post("/", h.importReception)
			}
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getReception)
				r.Patch("/", h.updateHeader)
				r.Patch("/lines/{row}", h.updateLine)
				r.Delete("/lines/{row}", h.discardRow)
				r.Post("/validate", h.validate)
				r.Post("/commit", h.commit)
				r.Post("/order-status/retry", h.retryOrderStatus)
				r.Post("/onboard", h.onboard)
			})
		})
		r.Get("/suppliers/{id}/column-mapping", h.getMapping)
		r.Put("/suppliers/{id}/column-mapping", h.putMapping)
	})
}

type importForm struct {
	SupplierID int64  `validate:"required,gt=0"`
	OrderID    int64  `validate:"gte=0"`
	Source     string `validate:"omitempty,oneof=supplier catalog"`
}

func (h *Handler) importReception(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := tenant.FromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+formOverhead)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		h.respondError(w, err)
		return
	}
	form := importForm{
		SupplierID: parseInt(r.FormValue("supplier_id")),
		OrderID:    parseInt(r.FormValue("order_id")),
		Source:     strings.TrimSpace(r.FormValue("source")),
	}
	if !h.validateStruct(w, form) {
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.ValidationProblem(w, map[string]string{"file": "a spreadsheet file is required"})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		h.respondError(w, err)
		return
	}

	draft, err := h.service.Import(r.Context(), ImportInput{
		TenantID:   tenantID,
		SupplierID: form.SupplierID,
		OrderID:    form.OrderID,
		Source:     domain.Source(form.Source),
		Upload:     sheet.Upload{Name: header.Filename, Data: data},
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, draft)
}

func (h *Handler) getReception(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	draft, err := h.service.Get(r.Context(), tenantID, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, draft)
}

func (h *Handler) updateHeader(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	var patch HeaderPatch
	if !h.decode(w, r, &patch) {
		return
	}
	draft, err := h.service.UpdateHeader(r.Context(), tenantID, id, patch)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, draft)
}

func (h *Handler) updateLine(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	row, ok := rowParam(w, r)
	if !ok {
		return
	}
	var patch LinePatch
	if !h.decode(w, r, &patch) {
		return
	}
	draft, err := h.service.UpdateLine(r.Context(), tenantID, id, row, patch)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, draft)
}

func (h *Handler) discardRow(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	row, ok := rowParam(w, r)
	if !ok {
		return
	}
	draft, err := h.service.DiscardRow(r.Context(), tenantID, id, row)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, draft)
}

func rowParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	row, err := strconv.Atoi(chi.URLParam(r, "row"))
	if err != nil || row <= 0 {
		httpx.ValidationProblem(w, map[string]string{"row": "row must be a positive integer"})
		return 0, false
	}
	return row, true
}

type validateRequest struct {
	Acknowledge []string `json:"acknowledge" validate:"dive,required,max=256"`
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	var req validateRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	draft, err := h.service.Validate(r.Context(), tenantID, id, req.Acknowledge)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, draft)
}

func (h *Handler) commit(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	result, err := h.service.Commit(r.Context(), tenantID, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	status := http.StatusOK
	if result.State == CommitStateFollowUp {
		status = http.StatusAccepted
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) retryOrderStatus(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	result, err := h.service.RetryOrderStatus(r.Context(), tenantID, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type onboardRequest struct {
	Codes []string `json:"codes" validate:"dive,required,max=64"`
}

func (h *Handler) onboard(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	var req onboardRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	outcome, err := h.service.Onboard(r.Context(), tenantID, id, req.Codes)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, outcome)
}

func (h *Handler) getMapping(w http.ResponseWriter, r *http.Request) {
	tenantID, supplierID, ok := h.ids(w, r)
	if !ok {
		return
	}
	m, err := h.service.Mapping(r.Context(), tenantID, supplierID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) putMapping(w http.ResponseWriter, r *http.Request) {
	tenantID, supplierID, ok := h.ids(w, r)
	if !ok {
		return
	}
	var m columns.Mapping
	if err := httpx.DecodeJSON(r, &m); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	m.SupplierID = supplierID
	if err := h.service.SaveMapping(r.Context(), tenantID, m); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) ids(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	tenantID, _ := tenant.FromContext(r.Context())
	id := parseInt(chi.URLParam(r, "id"))
	if id <= 0 {
		httpx.ValidationProblem(w, map[string]string{"id": "id must be a positive integer"})
		return 0, 0, false
	}
	return tenantID, id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return false
	}
	return h.validateStruct(w, target)
}

func (h *Handler) validateStruct(w http.ResponseWriter, target any) bool {
	err := h.validator.Struct(target)
	if err == nil {
		return true
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return false
	}
	fields := make(map[string]string, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		fields[fieldErr.Field()] = fieldErr.Error()
	}
	httpx.ValidationProblem(w, fields)
	return false
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var (
		formatErr  *sheet.FileFormatError
		mappingErr *columns.MappingError
		persistErr *PersistenceError
		sizeErr    *http.MaxBytesError
		fieldErrs  validator.ValidationErrors
	)
	switch {
	case errors.As(err, &sizeErr):
		httpx.Problem(w, http.StatusRequestEntityTooLarge, "Payload Too Large", err.Error())
	case errors.As(err, &formatErr):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrUnprocessable, err))
	case errors.As(err, &mappingErr):
		httpx.ProblemWith(w, http.StatusUnprocessableEntity, "Column Mapping Incomplete", err.Error(), map[string]any{"missing": mappingErr.Missing})
	case errors.As(err, &persistErr):
		status := http.StatusInternalServerError
		if errors.Is(err, procurement.ErrSupplierMismatch) || errors.Is(err, procurement.ErrInvalidState) || errors.Is(err, procurement.ErrNotFound) {
			status = http.StatusConflict
		}
		h.logger.Error("reception commit", slog.String("stage", persistErr.Stage), slog.Any("error", err))
		httpx.ProblemWith(w, status, "Commit Failed", err.Error(), map[string]string{"stage": persistErr.Stage})
	case errors.Is(err, ErrNotFound), errors.Is(err, domain.ErrLineNotFound):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrNotFound, err))
	case errors.As(err, &fieldErrs):
		fields := make(map[string]string, len(fieldErrs))
		for _, fieldErr := range fieldErrs {
			fields[fieldErr.Namespace()] = fieldErr.Error()
		}
		httpx.ValidationProblem(w, fields)
	case errors.Is(err, ErrInvalidInput):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrValidation, err))
	case errors.Is(err, domain.ErrImmutable), errors.Is(err, ErrNotValidated), errors.Is(err, ErrNotCommitted), errors.Is(err, ErrCommitInProgress):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrConflict, err))
	case errors.Is(err, columns.ErrNoMapping), errors.Is(err, ErrWarehouseRequired), errors.Is(err, catalog.ErrNoGlobalCatalog), errors.Is(err, tenant.ErrNotFound):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrUnprocessable, err))
	default:
		h.logger.Error("reception request", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func parseInt(raw string) int64 {
	v, _ := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	return v
}
