package brokerdir

import (
	"fmt"
	"strings"

	"github.com/optoutly/removal-engine/internal/domain"
)

// Directory is the read-only lookup for per-broker removal metadata. The
// directory data itself is maintained outside this service.
type Directory interface {
	GetBrokerInfo(key string) (domain.BrokerInfo, error)
}

// StaticDirectory serves broker info from an in-memory table loaded at
// startup.
type StaticDirectory struct {
	entries map[string]domain.BrokerInfo
}

func NewStaticDirectory(entries []domain.BrokerInfo) (*StaticDirectory, error) {
	table := make(map[string]domain.BrokerInfo, len(entries))
	for _, entry := range entries {
		key := strings.ToUpper(strings.TrimSpace(entry.Key))
		if key == "" {
			return nil, fmt.Errorf("%w: broker entry is missing a key", domain.ErrValidation)
		}
		if !entry.Method.IsValid() {
			return nil, fmt.Errorf("%w: broker %s has invalid removal channel %q", domain.ErrValidation, key, entry.Method)
		}
		if _, exists := table[key]; exists {
			return nil, fmt.Errorf("%w: duplicate broker key %s", domain.ErrValidation, key)
		}
		entry.Key = key
		table[key] = entry
	}

	return &StaticDirectory{entries: table}, nil
}

func (d *StaticDirectory) GetBrokerInfo(key string) (domain.BrokerInfo, error) {
	if d == nil {
		return domain.BrokerInfo{}, fmt.Errorf("directory is not initialized")
	}

	normalized := strings.ToUpper(strings.TrimSpace(key))
	if normalized == "" {
		return domain.BrokerInfo{}, fmt.Errorf("%w: broker key is required", domain.ErrValidation)
	}

	info, ok := d.entries[normalized]
	if !ok {
		return domain.BrokerInfo{}, fmt.Errorf("%w: broker %s", domain.ErrNotFound, normalized)
	}
	return info, nil
}
