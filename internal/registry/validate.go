// Package registry validates and persists service definitions, converts
// them into the flattened descriptor the monitoring engine consumes,
// and notifies subscribers of add/remove/update. Grounded on the
// teacher's internal/app validation layer (per-resource rule tables
// plus a shared struct-tag-free validator function) generalized from
// blockchain-resource validation to service-definition validation.
package registry

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/guardant/sentinel/internal/domain/servicedef"
	"github.com/guardant/sentinel/internal/domain/nest"
)

const (
	MinInterval = 30 * time.Second
	MaxInterval = 24 * time.Hour
	MaxNameLen  = 128
	MaxTags     = 20
)

var (
	namePattern = regexp.MustCompile(`^[A-Za-z0-9 _.-]{1,128}$`)
	tagPattern  = regexp.MustCompile(`^[a-z0-9_-]{1,32}$`)
	repoPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)
)

// Validate checks def's identity, schedule, and per-type target/config
// shape. It does not check per-tenant caps — that is Registry's job,
// since it requires knowing the rest of the tenant's definitions.
func Validate(def servicedef.Definition) error {
	if err := nest.ID(def.NestID).Validate(); err != nil {
		return fmt.Errorf("nest id: %w", err)
	}
	if !namePattern.MatchString(def.Name) {
		return fmt.Errorf("name must match %s", namePattern.String())
	}
	if len(def.Tags) > MaxTags {
		return fmt.Errorf("at most %d tags allowed, got %d", MaxTags, len(def.Tags))
	}
	for _, tag := range def.Tags {
		if !tagPattern.MatchString(tag) {
			return fmt.Errorf("tag %q must be lowercase alphanumeric plus '-_', max 32 chars", tag)
		}
	}
	if err := validateSchedule(def.Schedule); err != nil {
		return err
	}
	if err := validateType(def); err != nil {
		return err
	}
	return nil
}

func validateSchedule(s servicedef.Schedule) error {
	if s.Interval < MinInterval {
		return fmt.Errorf("interval %s is below the minimum of %s", s.Interval, MinInterval)
	}
	if s.Interval > MaxInterval {
		return fmt.Errorf("interval %s exceeds the maximum of %s", s.Interval, MaxInterval)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if s.Timeout >= s.Interval {
		return fmt.Errorf("timeout %s must be shorter than interval %s", s.Timeout, s.Interval)
	}
	if s.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}
	return nil
}

// validateType enforces that def.Target and def.Config carry the
// sub-configuration appropriate to def.Type, and nothing else.
func validateType(def servicedef.Definition) error {
	populated := 0
	for _, p := range []bool{
		def.Config.Web != nil, def.Config.TCP != nil, def.Config.Ping != nil,
		def.Config.DNS != nil, def.Config.SSL != nil, def.Config.Keyword != nil,
		def.Config.Heartbeat != nil, def.Config.GitHub != nil, def.Config.Assertion != nil,
		def.Config.Cloud != nil, def.Config.Container != nil,
	} {
		if p {
			populated++
		}
	}

	switch def.Type {
	case servicedef.TypeWeb:
		if err := requireURL(def.Target); err != nil {
			return err
		}
		if def.Config.Web == nil {
			return fmt.Errorf("type %q requires a web config block", def.Type)
		}
		return requireExactly(populated, 1)

	case servicedef.TypeTCP, servicedef.TypePort:
		if err := requireHostPort(def.Target); err != nil {
			return err
		}
		if def.Config.TCP == nil {
			return fmt.Errorf("type %q requires a tcp config block", def.Type)
		}
		return requireExactly(populated, 1)

	case servicedef.TypePing:
		if strings.TrimSpace(def.Target) == "" {
			return fmt.Errorf("ping target must not be empty")
		}
		if populated > 1 || (populated == 1 && def.Config.Ping == nil) {
			return fmt.Errorf("type %q accepts only a ping config block", def.Type)
		}
		return nil

	case servicedef.TypeDNS:
		if strings.TrimSpace(def.Target) == "" {
			return fmt.Errorf("dns target must not be empty")
		}
		if def.Config.DNS == nil || def.Config.DNS.RecordType == "" {
			return fmt.Errorf("dns probes require a record type")
		}
		return requireExactly(populated, 1)

	case servicedef.TypeSSL:
		if err := requireHostPort(def.Target); err != nil {
			return err
		}
		if populated > 1 || (populated == 1 && def.Config.SSL == nil) {
			return fmt.Errorf("type %q accepts only an ssl config block", def.Type)
		}
		return nil

	case servicedef.TypeKeyword:
		if err := requireURL(def.Target); err != nil {
			return err
		}
		if def.Config.Keyword == nil || def.Config.Keyword.Keyword == "" {
			return fmt.Errorf("keyword probes require a non-empty keyword")
		}
		return requireExactly(populated, 1)

	case servicedef.TypeHeartbeat:
		if strings.TrimSpace(def.Target) == "" {
			return fmt.Errorf("heartbeat target (the reporting client id) must not be empty")
		}
		if def.Config.Heartbeat == nil || def.Config.Heartbeat.ExpectedInterval <= 0 {
			return fmt.Errorf("heartbeat probes require a positive expected interval")
		}
		return requireExactly(populated, 1)

	case servicedef.TypeGitHub:
		if def.Config.GitHub == nil || !repoPattern.MatchString(def.Config.GitHub.Repo) {
			return fmt.Errorf("github probes require config.github.repo in \"owner/repo\" form")
		}
		return requireExactly(populated, 1)

	case servicedef.TypeUptimeAPI, servicedef.TypeCustom:
		if def.Config.Assertion == nil {
			return fmt.Errorf("type %q requires an assertion config block", def.Type)
		}
		if err := requireURL(def.Config.Assertion.URL); err != nil {
			return err
		}
		return requireExactly(populated, 1)

	case servicedef.TypeAWSHealth, servicedef.TypeAzureHealth, servicedef.TypeGCPHealth:
		if def.Config.Cloud == nil || def.Config.Cloud.Provider == "" {
			return fmt.Errorf("cloud-health probes require config.cloud.provider")
		}
		return requireExactly(populated, 1)

	case servicedef.TypeKubernetes, servicedef.TypeDocker:
		if def.Config.Container == nil || def.Config.Container.Namespace == "" {
			return fmt.Errorf("container probes require config.container.namespace")
		}
		return requireExactly(populated, 1)

	default:
		return fmt.Errorf("unknown service type %q", def.Type)
	}
}

func requireExactly(populated, want int) error {
	if populated != want {
		return fmt.Errorf("exactly %d type-specific config block(s) expected, got %d", want, populated)
	}
	return nil
}

func requireURL(target string) error {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("target %q must be an absolute http(s) URL", target)
	}
	return nil
}

func requireHostPort(target string) error {
	if !strings.Contains(target, ":") {
		return fmt.Errorf("target %q must be host:port", target)
	}
	return nil
}
