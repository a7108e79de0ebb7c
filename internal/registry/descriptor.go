package registry

import (
	"time"

	"github.com/guardant/sentinel/internal/domain/servicedef"
)

// Descriptor is the runtime, flattened view of a Definition that probe
// implementations read. It exists so a probe only has to know its own
// Type's config block, never the full Definition shape.
type Descriptor struct {
	ID       string
	NestID   string
	Name     string
	Type     servicedef.Type
	Target   string
	Interval time.Duration
	Timeout  time.Duration
	Retries  int

	Web       *servicedef.WebConfig
	TCP       *servicedef.TCPConfig
	Ping      *servicedef.PingConfig
	DNS       *servicedef.DNSConfig
	SSL       *servicedef.SSLConfig
	Keyword   *servicedef.KeywordConfig
	Heartbeat *servicedef.HeartbeatConfig
	GitHub    *servicedef.GitHubConfig
	Assertion *servicedef.AssertionConfig
	Cloud     *servicedef.CloudHealthConfig
	Container *servicedef.ContainerConfig
}

// ToDescriptor flattens def's typed config block into a Descriptor.
func ToDescriptor(def servicedef.Definition) Descriptor {
	return Descriptor{
		ID:       def.ID,
		NestID:   def.NestID,
		Name:     def.Name,
		Type:     def.Type,
		Target:   def.Target,
		Interval: def.Schedule.Interval,
		Timeout:  def.Schedule.Timeout,
		Retries:  def.Schedule.Retries,

		Web:       def.Config.Web,
		TCP:       def.Config.TCP,
		Ping:      def.Config.Ping,
		DNS:       def.Config.DNS,
		SSL:       def.Config.SSL,
		Keyword:   def.Config.Keyword,
		Heartbeat: def.Config.Heartbeat,
		GitHub:    def.Config.GitHub,
		Assertion: def.Config.Assertion,
		Cloud:     def.Config.Cloud,
		Container: def.Config.Container,
	}
}
