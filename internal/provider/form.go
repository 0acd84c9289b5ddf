package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/optoutly/removal-engine/internal/domain"
)

const defaultFormTimeout = 30 * time.Second

type formRequest struct {
	OptOutURL  string `json:"optOutUrl"`
	BrokerKey  string `json:"brokerKey"`
	ExposureID string `json:"exposureId"`
	RefID      string `json:"refId"`
}

// FormSubmitter delegates opt-out form filling to the headless form worker
// service.
type FormSubmitter struct {
	client   *resty.Client
	endpoint string
}

func NewFormSubmitter(endpoint string) (*FormSubmitter, error) {
	client := resty.New()
	client.SetTimeout(defaultFormTimeout)
	client.SetRetryCount(0)

	return NewFormSubmitterWithClient(endpoint, client)
}

func NewFormSubmitterWithClient(endpoint string, client *resty.Client) (*FormSubmitter, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("form worker endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid form worker endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultFormTimeout)
	}
	client.SetRetryCount(0)

	return &FormSubmitter{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (p *FormSubmitter) Submit(ctx context.Context, request domain.RemovalRequest, broker domain.BrokerInfo) (*SubmitResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("form submitter is not initialized")
	}
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("invalid removal request: %w", err)
	}
	if !broker.SupportsForm() {
		return nil, &SubmitError{
			Message:   fmt.Sprintf("broker %s has no opt-out form", broker.Key),
			Transient: false,
		}
	}

	reqBody := formRequest{
		OptOutURL:  broker.OptOutURL,
		BrokerKey:  broker.Key,
		ExposureID: request.ExposureID,
		RefID:      request.ID,
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		Post(p.endpoint)
	if err != nil {
		return nil, &SubmitError{
			Message:   "form worker request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &SubmitError{
			Message:   "form worker returned empty response",
			Transient: true,
		}
	}

	return responseOrError(response)
}
