package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/florai/contrib-pipeline/internal/errors"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// FieldError is one rejected request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode    int
	Message       string
	Fields        []FieldError
	CorrelationID string
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "api returned %d", e.StatusCode)
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	for _, f := range e.Fields {
		fmt.Fprintf(&b, "; %s: %s", f.Field, f.Message)
	}
	if e.CorrelationID != "" {
		b.WriteString(" (correlation id " + e.CorrelationID + ")")
	}
	return b.String()
}

// PlantUpload is a contribution sent by the command line client.
type PlantUpload struct {
	ImagePath         string
	ScientificName    string
	CommonName        string
	Family            string
	IsHealthy         bool
	DataUsageConsent  bool
	DiseaseInfo       string
	GrowingConditions string
	LocationConsent   bool
	Latitude          *float64
	Longitude         *float64
	Notes             string
}

// ContributionSummary is one row of the status response.
type ContributionSummary struct {
	ID             string `json:"id"`
	ScientificName string `json:"scientific_name"`
	CommonName     string `json:"common_name"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
	ImageURL       string `json:"image_url"`
}

// StatusResponse is the body of GET /contribute/status.
type StatusResponse struct {
	Contributions []ContributionSummary `json:"contributions"`
	Summary       struct {
		Total        int            `json:"total"`
		StatusCounts map[string]int `json:"statusCounts"`
	} `json:"summary"`
}

// APIClient calls the contribution endpoints under baseURL, for example
// "http://localhost:8080/api/v2".
type APIClient struct {
	base   string
	client *Client
}

// NewAPIClient creates an APIClient.
func NewAPIClient(baseURL string, client *Client) *APIClient {
	return &APIClient{base: strings.TrimRight(baseURL, "/"), client: client}
}

// SubmitPlant uploads a contribution and returns its id.
func (a *APIClient) SubmitPlant(ctx context.Context, p *PlantUpload) (string, error) {
	body, contentType, err := encodePlant(p)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+"/contribute/plant", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)

	var out struct {
		ContributionID string `json:"contributionId"`
	}
	if err := a.do(ctx, req, http.StatusCreated, &out); err != nil {
		return "", err
	}
	return out.ContributionID, nil
}

// Status fetches the caller's contribution history.
func (a *APIClient) Status(ctx context.Context) (*StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.base+"/contribute/status", http.NoBody)
	if err != nil {
		return nil, err
	}
	var out StatusResponse
	if err := a.do(ctx, req, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *APIClient) do(ctx context.Context, req *http.Request, want int, out any) error {
	resp, err := a.client.Do(ctx, req)
	if err != nil {
		return errors.New(err).
			Component("httpclient").
			Category(errors.CategoryNetwork).
			Context("operation", req.Method+" "+req.URL.Path).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != want {
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.New(fmt.Errorf("decode response: %w", err)).
			Component("httpclient").
			Category(errors.CategoryHTTP).
			Build()
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Error         string       `json:"error"`
		Errors        []FieldError `json:"errors"`
		CorrelationID string       `json:"correlation_id"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if json.Unmarshal(data, &body) == nil {
		apiErr.Message = body.Error
		apiErr.Fields = body.Errors
		apiErr.CorrelationID = body.CorrelationID
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

// encodePlant builds the multipart body. The image part carries the
// content type sniffed from the file so the server's type filter applies.
func encodePlant(p *PlantUpload) (io.Reader, string, error) {
	data, err := os.ReadFile(p.ImagePath)
	if err != nil {
		return nil, "", errors.New(err).
			Component("httpclient").
			Category(errors.CategoryFileIO).
			Context("operation", "read_image").
			Build()
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := url.Values{}
	fields.Set("scientificName", p.ScientificName)
	fields.Set("commonName", p.CommonName)
	fields.Set("isHealthy", strconv.FormatBool(p.IsHealthy))
	fields.Set("dataUsageConsent", strconv.FormatBool(p.DataUsageConsent))
	fields.Set("locationConsent", strconv.FormatBool(p.LocationConsent))
	setIfNotEmpty(fields, "family", p.Family)
	setIfNotEmpty(fields, "diseaseInfo", p.DiseaseInfo)
	setIfNotEmpty(fields, "growingConditions", p.GrowingConditions)
	setIfNotEmpty(fields, "notes", p.Notes)
	if p.Latitude != nil && p.Longitude != nil {
		fields.Set("latitude", strconv.FormatFloat(*p.Latitude, 'f', -1, 64))
		fields.Set("longitude", strconv.FormatFloat(*p.Longitude, 'f', -1, 64))
	}
	for k, vs := range fields {
		if err := w.WriteField(k, vs[0]); err != nil {
			return nil, "", err
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filepath.Base(p.ImagePath)))
	h.Set("Content-Type", http.DetectContentType(data))
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func setIfNotEmpty(v url.Values, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}
