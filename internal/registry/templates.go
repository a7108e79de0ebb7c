package registry

import (
	"time"

	"github.com/guardant/sentinel/internal/domain/servicedef"
)

// BasicWebTemplate pre-fills a simple up/down web check.
func BasicWebTemplate(nestID, name, url string) servicedef.Definition {
	return servicedef.Definition{
		NestID: nestID,
		Name:   name,
		Type:   servicedef.TypeWeb,
		Target: url,
		Config: servicedef.Config{Web: &servicedef.WebConfig{
			MaxRedirects:     3,
			VerifySSL:        true,
			AcceptableStatus: []int{200},
		}},
		Schedule: servicedef.Schedule{
			Interval: 60 * time.Second,
			Timeout:  10 * time.Second,
			Retries:  2,
			Enabled:  true,
		},
		Criticality: servicedef.CriticalityMedium,
	}
}

// APIEndpointTemplate pre-fills a JSON-path assertion probe against an
// API endpoint, e.g. checking a health payload's top-level status field.
func APIEndpointTemplate(nestID, name, url, jsonPath, expectedRegex string) servicedef.Definition {
	return servicedef.Definition{
		NestID: nestID,
		Name:   name,
		Type:   servicedef.TypeCustom,
		Target: url,
		Config: servicedef.Config{Assertion: &servicedef.AssertionConfig{
			URL:         url,
			JSONPath:    jsonPath,
			Regex:       expectedRegex,
			StatusCodes: []int{200},
		}},
		Schedule: servicedef.Schedule{
			Interval: 60 * time.Second,
			Timeout:  10 * time.Second,
			Retries:  2,
			Enabled:  true,
		},
		Criticality: servicedef.CriticalityHigh,
	}
}

// DBTCPTemplate pre-fills a bare TCP reachability check for a database
// port, with no banner/send/expect beyond a successful connect.
func DBTCPTemplate(nestID, name, hostPort string) servicedef.Definition {
	return servicedef.Definition{
		NestID: nestID,
		Name:   name,
		Type:   servicedef.TypeTCP,
		Target: hostPort,
		Config: servicedef.Config{TCP: &servicedef.TCPConfig{Protocol: "tcp"}},
		Schedule: servicedef.Schedule{
			Interval: 30 * time.Second,
			Timeout:  5 * time.Second,
			Retries:  1,
			Enabled:  true,
		},
		Criticality: servicedef.CriticalityCritical,
	}
}
