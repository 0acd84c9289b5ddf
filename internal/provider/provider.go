package provider

import (
	"context"

	"github.com/optoutly/removal-engine/internal/domain"
)

// Submitter is the outbound port for delivering one removal request to a
// broker. Implementations cover one channel each (privacy email, opt-out
// form); the caller picks the channel from the broker directory entry.
type Submitter interface {
	Submit(ctx context.Context, request domain.RemovalRequest, broker domain.BrokerInfo) (*SubmitResponse, error)
}

// SubmitResponse stores delivery call metadata for audit and persistence.
type SubmitResponse struct {
	StatusCode     int
	Body           string
	ConfirmationID string
}

// Verifier probes whether a user's data is still listed at a broker. The
// concrete probe is the scanning subsystem, reached over HTTP.
type Verifier interface {
	StillListed(ctx context.Context, request domain.RemovalRequest, broker domain.BrokerInfo) (bool, error)
}
