package donation

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/poweredbydonation/pbd_backend/config"
	"github.com/poweredbydonation/pbd_backend/gateway"
	"github.com/poweredbydonation/pbd_backend/models"
	"github.com/poweredbydonation/pbd_backend/utils"
	"github.com/sirupsen/logrus"
)

type Handlers struct {
	Store     Store
	Creator   *Creator
	Confirmer *Confirmer
	Charities CharityDirectory
	Logger    *logrus.Logger
}

type caller struct {
	userID  string
	isAdmin bool
}

func callerFrom(c *gin.Context) caller {
	ctx := c.Request.Context()
	id, _ := utils.GetUserIdFromContext(ctx)
	admin, _ := utils.GetIsAdminFromContext(ctx)
	return caller{userID: id, isAdmin: admin}
}

func (h *Handlers) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var in CreateInput
		if err := c.ShouldBindJSON(&in); err != nil {
			h.writeError(c, bindError(err))
			return
		}
		who := callerFrom(c)
		if in.DonorID == "" {
			in.DonorID = who.userID
		}
		if !who.isAdmin && in.DonorID != who.userID {
			h.writeError(c, ErrForbidden)
			return
		}
		res, err := h.Creator.Create(c.Request.Context(), in)
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, res)
	}
}

func (h *Handlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		req, err := h.Store.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			h.writeError(c, err)
			return
		}
		who := callerFrom(c)
		if !who.isAdmin && req.DonorId != who.userID && req.FundraiserId != who.userID {
			// don't leak existence
			h.writeError(c, &NotFoundError{Resource: "donation request", ID: c.Param("id")})
			return
		}
		c.JSON(http.StatusOK, req)
	}
}

func (h *Handlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		f := ListFilter{
			DonorID:      strings.TrimSpace(c.Query("donorId")),
			FundraiserID: strings.TrimSpace(c.Query("fundraiserId")),
			Limit:        queryInt(c, "limit", 50),
			Offset:       queryInt(c, "offset", 0),
		}
		if raw := c.Query("status"); raw != "" {
			status, err := models.ParseDonationRequestStatus(raw)
			if err != nil {
				h.writeError(c, newValidationError("status", "is not a known status"))
				return
			}
			f.Status = status
		}
		who := callerFrom(c)
		if !who.isAdmin {
			if f.DonorID == "" && f.FundraiserID == "" {
				f.DonorID = who.userID
			}
			if (f.DonorID != "" && f.DonorID != who.userID) || (f.FundraiserID != "" && f.FundraiserID != who.userID) {
				h.writeError(c, ErrForbidden)
				return
			}
		}
		rows, err := h.Store.List(c.Request.Context(), f)
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": rows})
	}
}

type confirmRequest struct {
	ExternalDonationID string `json:"externalDonationId"`
}

func (h *Handlers) ConfirmHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body confirmRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			h.writeError(c, bindError(err))
			return
		}
		res, err := h.Confirmer.Confirm(c.Request.Context(), body.ExternalDonationID)
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

type feedbackRequest struct {
	Decision FeedbackDecision `json:"decision"`
}

func (h *Handlers) FeedbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body feedbackRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			h.writeError(c, bindError(err))
			return
		}
		who := callerFrom(c)
		req, err := Feedback(c.Request.Context(), h.Store, c.Param("id"), who.userID, who.isAdmin, body.Decision, time.Now().UTC())
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, req)
	}
}

func (h *Handlers) SearchCharitiesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		platform, err := models.ParsePlatform(c.DefaultQuery("platform", string(models.PlatformJustGiving)))
		if err != nil {
			h.writeError(c, newValidationError("platform", "is not supported"))
			return
		}
		orgs, err := h.Charities.Search(c.Request.Context(), platform, c.Query("q"), queryInt(c, "limit", config.SearchLimit))
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": orgs})
	}
}

func (h *Handlers) LookupCharityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		platform, err := models.ParsePlatform(c.Param("platform"))
		if err != nil {
			h.writeError(c, newValidationError("platform", "is not supported"))
			return
		}
		charity, err := h.Charities.Lookup(c.Request.Context(), platform, c.Param("id"))
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, charity)
	}
}

// ReviewExportHandler streams fundraiser_review rows as a spreadsheet.
func (h *Handlers) ReviewExportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := h.Store.List(c.Request.Context(), ListFilter{
			Status:       models.DonationRequestStatusFundraiserReview,
			FundraiserID: strings.TrimSpace(c.Query("fundraiserId")),
			Limit:        200,
		})
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename=donation-review.xlsx")
		c.Status(http.StatusOK)
		if err := WriteReviewWorkbook(c.Writer, rows); err != nil {
			config.LogError(h.Logger, "donation", "ReviewExportHandler", "write workbook", nil, err)
		}
	}
}

func bindError(err error) error {
	if errors.Is(err, models.ErrInvalidPlatform) {
		return newValidationError("platform", "must be one of justgiving everyorg")
	}
	return &ValidationError{Details: map[string]string{"_": "invalid request body"}}
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

// writeError maps domain errors onto {"error": msg, "details": {...}}.
func (h *Handlers) writeError(c *gin.Context, err error) {
	WriteError(c, h.Logger, err)
}

func WriteError(c *gin.Context, logger *logrus.Logger, err error) {
	var (
		verr *ValidationError
		nf   *NotFoundError
		rg   *ReferenceGenerationError
	)
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": verr.Details})
	case errors.As(err, &nf):
		c.JSON(http.StatusNotFound, gin.H{"error": nf.Error()})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, gateway.ErrTransport):
		config.LogError(logger, "donation", c.FullPath(), "gateway call", nil, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "donation processor unavailable"})
	case errors.As(err, &rg):
		config.LogError(logger, "donation", c.FullPath(), "reference generation", nil, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create donation request"})
	default:
		config.LogError(logger, "donation", c.FullPath(), "unhandled", nil, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
