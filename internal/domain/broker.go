package domain

import (
	"fmt"
	"strings"
)

// RemovalChannel represents how a broker accepts removal requests.
type RemovalChannel string

const (
	ChannelEmail RemovalChannel = "EMAIL"
	ChannelForm  RemovalChannel = "FORM"
	ChannelBoth  RemovalChannel = "BOTH"
	ChannelNone  RemovalChannel = "NONE"
)

func (c RemovalChannel) String() string { return string(c) }

func (c RemovalChannel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelForm, ChannelBoth, ChannelNone:
		return true
	}
	return false
}

func ParseRemovalChannel(s string) (RemovalChannel, error) {
	c := RemovalChannel(strings.ToUpper(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("%w: invalid removal channel %q", ErrValidation, s)
	}
	return c, nil
}

// BrokerInfo is the static directory entry for one data broker. Directory
// data is maintained externally; this service only reads it.
type BrokerInfo struct {
	Key           string
	Name          string
	Category      string
	Method        RemovalChannel
	PrivacyEmail  string
	OptOutURL     string
	EstimatedDays int
}

// SupportsEmail reports whether the broker accepts opt-out requests by email.
func (b BrokerInfo) SupportsEmail() bool {
	return (b.Method == ChannelEmail || b.Method == ChannelBoth) && strings.TrimSpace(b.PrivacyEmail) != ""
}

// SupportsForm reports whether the broker exposes an automatable opt-out form.
func (b BrokerInfo) SupportsForm() bool {
	return (b.Method == ChannelForm || b.Method == ChannelBoth) && strings.TrimSpace(b.OptOutURL) != ""
}

// Automatable reports whether any automated channel exists at all. Brokers
// without one go straight to manual handling without burning an attempt.
func (b BrokerInfo) Automatable() bool {
	return b.SupportsEmail() || b.SupportsForm()
}
