package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/optoutly/removal-engine/internal/domain"
)

const defaultRelayTimeout = 10 * time.Second

type relayRequest struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	Category string `json:"category"`
	RefID    string `json:"refId"`
}

// EmailSubmitter delivers opt-out requests to a broker's privacy address
// through the internal mail relay API.
type EmailSubmitter struct {
	client   *resty.Client
	endpoint string
}

func NewEmailSubmitter(endpoint string) (*EmailSubmitter, error) {
	client := resty.New()
	client.SetTimeout(defaultRelayTimeout)
	client.SetRetryCount(0)

	return NewEmailSubmitterWithClient(endpoint, client)
}

func NewEmailSubmitterWithClient(endpoint string, client *resty.Client) (*EmailSubmitter, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("mail relay endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid mail relay endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultRelayTimeout)
	}
	client.SetRetryCount(0)

	return &EmailSubmitter{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (p *EmailSubmitter) Submit(ctx context.Context, request domain.RemovalRequest, broker domain.BrokerInfo) (*SubmitResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("email submitter is not initialized")
	}
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("invalid removal request: %w", err)
	}
	if !broker.SupportsEmail() {
		return nil, &SubmitError{
			Message:   fmt.Sprintf("broker %s has no privacy email", broker.Key),
			Transient: false,
		}
	}

	reqBody := relayRequest{
		To:       broker.PrivacyEmail,
		Subject:  fmt.Sprintf("Data removal request (ref %s)", request.ID),
		Body:     optOutBody(request, broker),
		Category: "broker_optout",
		RefID:    request.ID,
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		Post(p.endpoint)
	if err != nil {
		return nil, &SubmitError{
			Message:   "mail relay request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &SubmitError{
			Message:   "mail relay returned empty response",
			Transient: true,
		}
	}

	return responseOrError(response)
}

func optOutBody(request domain.RemovalRequest, broker domain.BrokerInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "To the privacy team at %s,\n\n", broker.Name)
	b.WriteString("Under applicable data protection law, please remove the personal data held about the individual referenced below from your service and any affiliated listings.\n\n")
	fmt.Fprintf(&b, "Reference: %s\n", request.ID)
	fmt.Fprintf(&b, "Exposure: %s\n\n", request.ExposureID)
	fmt.Fprintf(&b, "Please confirm within %d days.\n", broker.EstimatedDays)
	return b.String()
}

func responseOrError(response *resty.Response) (*SubmitResponse, error) {
	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &SubmitResponse{
			StatusCode:     statusCode,
			Body:           responseBody,
			ConfirmationID: confirmationID(response),
		}, nil
	}

	return nil, &SubmitError{
		StatusCode: statusCode,
		Message:    submitErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func submitErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("submitter returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func confirmationID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Request-ID", "X-Request-Id", "X-Confirmation-ID", "X-Confirmation-Id"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
