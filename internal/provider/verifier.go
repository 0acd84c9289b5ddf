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

const defaultProbeTimeout = 20 * time.Second

type probeRequest struct {
	BrokerKey  string `json:"brokerKey"`
	ExposureID string `json:"exposureId"`
	UserID     string `json:"userId"`
}

type probeResponse struct {
	Listed bool `json:"listed"`
}

// ScanProbeVerifier asks the scanning subsystem whether an exposure is still
// listed at a broker.
type ScanProbeVerifier struct {
	client   *resty.Client
	endpoint string
}

func NewScanProbeVerifier(endpoint string) (*ScanProbeVerifier, error) {
	client := resty.New()
	client.SetTimeout(defaultProbeTimeout)
	client.SetRetryCount(0)

	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("scan probe endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid scan probe endpoint: %w", err)
	}

	return &ScanProbeVerifier{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (v *ScanProbeVerifier) StillListed(ctx context.Context, request domain.RemovalRequest, broker domain.BrokerInfo) (bool, error) {
	if v == nil || v.client == nil {
		return false, fmt.Errorf("scan probe verifier is not initialized")
	}

	var parsed probeResponse
	response, err := v.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(probeRequest{
			BrokerKey:  broker.Key,
			ExposureID: request.ExposureID,
			UserID:     request.UserID,
		}).
		SetResult(&parsed).
		Post(v.endpoint)
	if err != nil {
		return false, &SubmitError{
			Message:   "scan probe request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return false, &SubmitError{
			StatusCode: statusCode,
			Message:    submitErrorMessage(statusCode, strings.TrimSpace(response.String())),
			Transient:  isTransientHTTPStatus(statusCode),
		}
	}

	return parsed.Listed, nil
}
