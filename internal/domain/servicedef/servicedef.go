// Package servicedef holds the per-tenant service definition: the
// validated, typed description of one monitored target.
package servicedef

import "time"

// Type discriminates the kind of target being monitored.
type Type string

const (
	TypeWeb        Type = "web"
	TypeTCP        Type = "tcp"
	TypePing       Type = "ping"
	TypeDNS        Type = "dns"
	TypeSSL        Type = "ssl"
	TypeKeyword    Type = "keyword"
	TypePort       Type = "port"
	TypeHeartbeat  Type = "heartbeat"
	TypeGitHub     Type = "github"
	TypeUptimeAPI  Type = "uptime-api"
	TypeCustom     Type = "custom"
	TypeAWSHealth  Type = "aws-health"
	TypeAzureHealth Type = "azure-health"
	TypeGCPHealth  Type = "gcp-health"
	TypeKubernetes Type = "kubernetes"
	TypeDocker     Type = "docker"
)

// Status is the runtime mutable shadow's verdict.
type Status string

const (
	StatusUp          Status = "up"
	StatusDown        Status = "down"
	StatusDegraded    Status = "degraded"
	StatusMaintenance Status = "maintenance"
	StatusUnknown     Status = "unknown"
	StatusWarning     Status = "warning"
)

// Criticality is an advisory enum surfaced to alerts.
type Criticality string

const (
	CriticalityLow      Criticality = "low"
	CriticalityMedium   Criticality = "medium"
	CriticalityHigh     Criticality = "high"
	CriticalityCritical Criticality = "critical"
)

// Schedule governs how often and how aggressively a service is probed.
type Schedule struct {
	Interval time.Duration // >= 30s, <= 24h
	Timeout  time.Duration
	Retries  int
	Enabled  bool
}

// AlertingPolicy configures how a status transition is escalated. The
// alert subsystem itself is out of scope; this is the data
// contract the engine hands it.
type AlertingPolicy struct {
	Channels             []string
	MinConsecutiveFails  int
	AlertDelay           time.Duration
	RecoveryDelay        time.Duration
	QuietHoursStart      string // "HH:MM", tenant-local
	QuietHoursEnd        string
	EscalationLadder     []string
}

// WebConfig is the per-type block for TypeWeb.
type WebConfig struct {
	Headers          map[string]string
	Body             string
	AuthHeader       string
	MaxRedirects     int
	VerifySSL        bool
	AcceptableStatus []int
}

// TCPConfig is the per-type block for TypeTCP/TypePort.
type TCPConfig struct {
	Protocol        string // "tcp" | "udp"
	Banner          string
	Send            string
	ExpectedResponse string
}

// PingConfig is the per-type block for TypePing.
type PingConfig struct {
	FallbackToPorts []int
}

// DNSConfig is the per-type block for TypeDNS.
type DNSConfig struct {
	RecordType    string // A|AAAA|CNAME|MX|TXT|NS|PTR|SOA
	ExpectedValue string
	Resolver      string
}

// SSLConfig is the per-type block for TypeSSL.
type SSLConfig struct {
	WarningDays     int
	RequireFullChain bool
}

// KeywordConfig is the per-type block for TypeKeyword.
type KeywordConfig struct {
	Keyword       string
	CaseSensitive bool
	MustContain   bool
}

// HeartbeatConfig is the per-type block for TypeHeartbeat.
type HeartbeatConfig struct {
	ExpectedInterval time.Duration
	Tolerance        time.Duration
}

// GitHubConfig is the per-type block for TypeGitHub.
type GitHubConfig struct {
	Repo              string // "owner/repo"
	Branch            string
	Token             string
	CheckWorkflows    bool
	CheckIssues       bool
	IssueThreshold    int
}

// AssertionConfig is the per-type block for TypeCustom/TypeUptimeAPI.
type AssertionConfig struct {
	URL         string
	JSONPath    string
	Regex       string
	StatusCodes []int
}

// CloudHealthConfig is the per-type block for aws/azure/gcp-health.
type CloudHealthConfig struct {
	Provider string
	Region   string
	Services []string
}

// ContainerConfig is the per-type block for kubernetes/docker.
type ContainerConfig struct {
	Namespace        string
	ContainerNames   []string
	ExpectedRunning  int
}

// Config is the discriminated per-type configuration block. Exactly one
// field is populated per Type; the registry validates this.
type Config struct {
	Web       *WebConfig
	TCP       *TCPConfig
	Ping      *PingConfig
	DNS       *DNSConfig
	SSL       *SSLConfig
	Keyword   *KeywordConfig
	Heartbeat *HeartbeatConfig
	GitHub    *GitHubConfig
	Assertion *AssertionConfig
	Cloud     *CloudHealthConfig
	Container *ContainerConfig
}

// RuntimeShadow is the engine-owned mutable view of a service's last
// observed state.
type RuntimeShadow struct {
	LastStatus    Status
	LastCheck     time.Time
	StatusMessage string
	ResponseTime  time.Duration
}

// Definition describes one monitored target, owned by the control plane.
type Definition struct {
	ID          string
	NestID      string
	Name        string
	Description string
	Tags        []string
	Group       string
	Category    string

	Type   Type
	Target string
	Config Config

	Schedule Schedule
	Alerting AlertingPolicy

	Criticality    Criticality
	BusinessImpact string

	Runtime RuntimeShadow

	CreatedAt time.Time
	UpdatedAt time.Time
}
