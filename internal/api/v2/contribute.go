package api

import (
	"encoding/json"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/florai/contrib-pipeline/internal/api/middleware"
	"github.com/florai/contrib-pipeline/internal/contribution"
	"github.com/florai/contrib-pipeline/internal/errors"
)

// Client facing messages of the contribute routes.
const (
	MsgPlantReceived         = "Plant contribution received successfully"
	MsgFeedbackReceived      = "Feedback submitted successfully"
	MsgPlantConsentRequired  = "Data usage consent is required to contribute plant images"
	MsgConsentRequired       = "Data usage consent is required to contribute"
	MsgNoImage               = "No image file provided"
	MsgStoreImageFailed      = "Failed to store image"
	MsgStoreMetadataFailed   = "Failed to store plant metadata"
	MsgStoreFeedbackFailed   = "Failed to store feedback"
	MsgStatusFailed          = "Failed to fetch contribution status"
	MsgContributionFailed    = "Server error processing plant contribution"
	MsgFeedbackFailed        = "Server error processing feedback"
	MsgInvalidRequestBody    = "Invalid request body"
	msgLatitudeNotNumeric    = "Latitude must be a number"
	msgLongitudeNotNumeric   = "Longitude must be a number"
	msgHealthStatusNotBool   = "Plant health status must be true or false"
	msgDataConsentNotBoolean = "Data usage consent must be true or false"
	msgCorrectnessNotBool    = "Feedback on correctness must be true or false"
)

// ImageField is the multipart field carrying the photograph.
const ImageField = "image"

func (c *Controller) initContributeRoutes() {
	g := c.Group.Group("/contribute", c.authMiddleware, middleware.NewBodyLimit(ContributeBodyLimit))
	g.POST("/plant", c.SubmitPlant)
	g.POST("/feedback", c.SubmitFeedback)
	g.GET("/status", c.GetContributionStatus)
}

// PlantResponse acknowledges an accepted contribution.
type PlantResponse struct {
	Message        string `json:"message"`
	ContributionID string `json:"contributionId"`
}

// SubmitPlant handles POST /contribute/plant.
func (c *Controller) SubmitPlant(ctx echo.Context) error {
	userID, ok := requireUser(ctx)
	if !ok {
		return c.unauthorized(ctx)
	}

	req := plantRequestFromForm(ctx)
	req.UserID = userID

	file, err := openImage(ctx)
	if err != nil {
		return c.HandleError(ctx, err, MsgContributionFailed, http.StatusInternalServerError)
	}
	if file != nil {
		defer func() { _ = file.Close() }()
		req.Image.Content = file
	}

	result, err := c.services.Ingestor.Submit(ctx.Request().Context(), req)
	if err != nil {
		return c.contributionError(ctx, err, MsgStoreMetadataFailed, MsgPlantConsentRequired, MsgContributionFailed)
	}

	return ctx.JSON(http.StatusCreated, &PlantResponse{
		Message:        MsgPlantReceived,
		ContributionID: result.ContributionID,
	})
}

// plantRequestFromForm reads the form fields. Values that cannot be
// parsed are carried as parse errors; absent booleans stay nil so the
// ingestor reports them as required.
func plantRequestFromForm(ctx echo.Context) *contribution.SubmitRequest {
	var fields []contribution.FieldError
	boolField := func(name, msg string) *bool {
		v, present, ok := parseBool(ctx.FormValue(name))
		if present && !ok {
			fields = append(fields, contribution.FieldError{Field: name, Message: msg})
		}
		return v
	}
	floatField := func(name, msg string) *float64 {
		raw := strings.TrimSpace(ctx.FormValue(name))
		if raw == "" {
			return nil
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			fields = append(fields, contribution.FieldError{Field: name, Message: msg})
			return nil
		}
		return &f
	}

	req := &contribution.SubmitRequest{
		ScientificName:    ctx.FormValue("scientificName"),
		CommonName:        ctx.FormValue("commonName"),
		Family:            ctx.FormValue("family"),
		IsHealthy:         boolField("isHealthy", msgHealthStatusNotBool),
		DataUsageConsent:  boolField("dataUsageConsent", msgDataConsentNotBoolean),
		DiseaseInfo:       ctx.FormValue("diseaseInfo"),
		GrowingConditions: ctx.FormValue("growingConditions"),
		Notes:             ctx.FormValue("notes"),
	}
	if lc, _, _ := parseBool(ctx.FormValue("locationConsent")); lc != nil {
		req.LocationConsent = *lc
	}
	if req.LocationConsent {
		req.Latitude = floatField("latitude", msgLatitudeNotNumeric)
		req.Longitude = floatField("longitude", msgLongitudeNotNumeric)
	}

	if fh, err := ctx.FormFile(ImageField); err == nil {
		req.Image = &contribution.Asset{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get(echo.HeaderContentType),
			Size:        fh.Size,
		}
	}
	req.ParseErrors = fields
	return req
}

// openImage opens the uploaded image, or returns nil when none was sent.
func openImage(ctx echo.Context) (multipart.File, error) {
	fh, err := ctx.FormFile(ImageField)
	if err != nil {
		return nil, nil
	}
	return fh.Open()
}

// parseBool returns the value, whether the field was present and whether
// it parsed.
func parseBool(raw string) (v *bool, present, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false, false
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, true, false
	}
	return &b, true, true
}

// FeedbackBody is the JSON body of POST /contribute/feedback.
type FeedbackBody struct {
	IdentificationID      string `json:"identificationId"`
	IsCorrect             *bool  `json:"isCorrect"`
	DataUsageConsent      *bool  `json:"dataUsageConsent"`
	CorrectScientificName string `json:"correctScientificName,omitempty"`
	CorrectCommonName     string `json:"correctCommonName,omitempty"`
	Notes                 string `json:"notes,omitempty"`
}

// FeedbackResponse acknowledges stored feedback.
type FeedbackResponse struct {
	Message    string `json:"message"`
	FeedbackID string `json:"feedbackId"`
}

// SubmitFeedback handles POST /contribute/feedback.
func (c *Controller) SubmitFeedback(ctx echo.Context) error {
	userID, ok := requireUser(ctx)
	if !ok {
		return c.unauthorized(ctx)
	}

	var body FeedbackBody
	var fields []contribution.FieldError
	if err := decodeStrict(ctx, &body); err != nil {
		field, ok := feedbackFieldError(err)
		if !ok {
			return c.HandleError(ctx, err, MsgInvalidRequestBody, http.StatusBadRequest)
		}
		fields = append(fields, field)
	}

	id, err := c.services.Feedback.Submit(ctx.Request().Context(), &contribution.FeedbackRequest{
		UserID:                userID,
		IdentificationID:      body.IdentificationID,
		IsCorrect:             body.IsCorrect,
		DataUsageConsent:      body.DataUsageConsent,
		CorrectScientificName: body.CorrectScientificName,
		CorrectCommonName:     body.CorrectCommonName,
		Notes:                 body.Notes,
		ParseErrors:           fields,
	})
	if err != nil {
		return c.contributionError(ctx, err, MsgStoreFeedbackFailed, MsgConsentRequired, MsgFeedbackFailed)
	}

	return ctx.JSON(http.StatusCreated, &FeedbackResponse{
		Message:    MsgFeedbackReceived,
		FeedbackID: id,
	})
}

// feedbackFieldError maps a JSON type mismatch on a known field to a field
// error. The decoder keeps filling the remaining fields after a mismatch,
// so the rest of the body is still validated.
func feedbackFieldError(err error) (contribution.FieldError, bool) {
	var terr *json.UnmarshalTypeError
	if !errors.As(err, &terr) {
		return contribution.FieldError{}, false
	}
	switch terr.Field {
	case "isCorrect":
		return contribution.FieldError{Field: terr.Field, Message: msgCorrectnessNotBool}, true
	case "dataUsageConsent":
		return contribution.FieldError{Field: terr.Field, Message: msgDataConsentNotBoolean}, true
	case "":
		return contribution.FieldError{}, false
	default:
		return contribution.FieldError{Field: terr.Field, Message: "Invalid value"}, true
	}
}

// GetContributionStatus handles GET /contribute/status.
func (c *Controller) GetContributionStatus(ctx echo.Context) error {
	userID, ok := requireUser(ctx)
	if !ok {
		return c.unauthorized(ctx)
	}

	status, err := c.services.Status.GetStatus(ctx.Request().Context(), userID)
	if err != nil {
		return c.HandleError(ctx, err, MsgStatusFailed, http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, status)
}

// contributionError maps the pipeline error taxonomy onto responses.
func (c *Controller) contributionError(ctx echo.Context, err error, metadataMsg, consentMsg, fallbackMsg string) error {
	var (
		verr    *contribution.ValidationError
		cerr    *contribution.ConsentRequiredError
		missing *contribution.MissingAssetError
		serr    *contribution.StorageWriteError
		merr    *contribution.MetadataWriteError
	)
	switch {
	case errors.As(err, &verr):
		return c.validationFailed(ctx, verr.Fields)
	case errors.As(err, &cerr):
		return c.HandleError(ctx, err, consentMsg, http.StatusBadRequest)
	case errors.As(err, &missing):
		c.logError(ctx, err, MsgNoImage, http.StatusBadRequest)
		return ctx.JSON(http.StatusBadRequest, &ErrorResponse{
			Error:         MsgNoImage,
			Details:       missing.Reason,
			CorrelationID: middleware.CorrelationID(ctx),
		})
	case errors.As(err, &serr):
		return c.HandleError(ctx, err, MsgStoreImageFailed, http.StatusInternalServerError)
	case errors.As(err, &merr):
		return c.HandleError(ctx, err, metadataMsg, http.StatusInternalServerError)
	default:
		return c.HandleError(ctx, err, fallbackMsg, http.StatusInternalServerError)
	}
}

// decodeStrict decodes a single JSON document, rejecting unknown fields.
func decodeStrict(ctx echo.Context, v any) error {
	dec := json.NewDecoder(ctx.Request().Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.NewStd("unexpected data after JSON body")
	}
	return nil
}
