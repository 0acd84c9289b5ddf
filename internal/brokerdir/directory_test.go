package brokerdir

import (
	"errors"
	"testing"

	"github.com/optoutly/removal-engine/internal/domain"
)

func TestStaticDirectoryLookup(t *testing.T) {
	t.Parallel()

	dir, err := NewStaticDirectory(SeedBrokers())
	if err != nil {
		t.Fatalf("NewStaticDirectory() error = %v", err)
	}

	info, err := dir.GetBrokerInfo(" whitepages ")
	if err != nil {
		t.Fatalf("GetBrokerInfo() error = %v", err)
	}
	if info.Key != "WHITEPAGES" {
		t.Fatalf("Key = %s, want WHITEPAGES", info.Key)
	}
	if !info.SupportsEmail() || !info.SupportsForm() {
		t.Fatal("WHITEPAGES should support both channels")
	}

	_, err = dir.GetBrokerInfo("NOSUCHBROKER")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetBrokerInfo() error = %v, want ErrNotFound", err)
	}
}

func TestStaticDirectoryRejectsDuplicates(t *testing.T) {
	t.Parallel()

	_, err := NewStaticDirectory([]domain.BrokerInfo{
		{Key: "spokeo", Method: domain.ChannelForm, OptOutURL: "https://a"},
		{Key: "SPOKEO", Method: domain.ChannelForm, OptOutURL: "https://b"},
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestBrokerWithoutChannelIsNotAutomatable(t *testing.T) {
	t.Parallel()

	dir, err := NewStaticDirectory(SeedBrokers())
	if err != nil {
		t.Fatalf("NewStaticDirectory() error = %v", err)
	}

	info, err := dir.GetBrokerInfo("MYLIFE")
	if err != nil {
		t.Fatalf("GetBrokerInfo() error = %v", err)
	}
	if info.Automatable() {
		t.Fatal("MYLIFE has no automatable channel")
	}
}
