package brokerdir

import "github.com/optoutly/removal-engine/internal/domain"

// SeedBrokers is the bundled directory of common people-search brokers, used
// when no external directory source is configured.
func SeedBrokers() []domain.BrokerInfo {
	return []domain.BrokerInfo{
		{
			Key:           "WHITEPAGES",
			Name:          "Whitepages",
			Category:      "people_search",
			Method:        domain.ChannelBoth,
			PrivacyEmail:  "privacy@whitepages.com",
			OptOutURL:     "https://www.whitepages.com/suppression-requests",
			EstimatedDays: 14,
		},
		{
			Key:           "SPOKEO",
			Name:          "Spokeo",
			Category:      "people_search",
			Method:        domain.ChannelForm,
			OptOutURL:     "https://www.spokeo.com/optout",
			EstimatedDays: 7,
		},
		{
			Key:           "BEENVERIFIED",
			Name:          "BeenVerified",
			Category:      "background",
			Method:        domain.ChannelForm,
			OptOutURL:     "https://www.beenverified.com/app/optout/search",
			EstimatedDays: 10,
		},
		{
			Key:           "RADARIS",
			Name:          "Radaris",
			Category:      "people_search",
			Method:        domain.ChannelEmail,
			PrivacyEmail:  "customer-service@radaris.com",
			EstimatedDays: 30,
		},
		{
			Key:           "INTELIUS",
			Name:          "Intelius",
			Category:      "people_search",
			Method:        domain.ChannelForm,
			OptOutURL:     "https://suppression.peopleconnect.us",
			EstimatedDays: 14,
		},
		{
			Key:           "ACXIOM",
			Name:          "Acxiom",
			Category:      "marketing",
			Method:        domain.ChannelEmail,
			PrivacyEmail:  "consumeradvo@acxiom.com",
			EstimatedDays: 45,
		},
		{
			Key:           "MYLIFE",
			Name:          "MyLife",
			Category:      "people_search",
			Method:        domain.ChannelNone,
			EstimatedDays: 60,
		},
	}
}
