package storage

import "time"

// DataType names a category of stored artifact. Each carries its own
// cache TTL default, ranging from hours for live status to a year for
// SLA records.
type DataType string

const (
	DataTypeServiceDefinition DataType = "SERVICE_DEFINITION"
	DataTypeServiceStatus     DataType = "SERVICE_STATUS"
	DataTypeMonitoringData    DataType = "MONITORING_DATA"
	DataTypeFailoverConfig    DataType = "FAILOVER_CONFIG"
	DataTypeSLA               DataType = "SLA"
	DataTypeAnalyticsEvent    DataType = "ANALYTICS_EVENT"
	DataTypeDLQRecord         DataType = "DLQ_RECORD"
)

// DefaultTTL returns the retention default for dt.
func DefaultTTL(dt DataType) time.Duration {
	switch dt {
	case DataTypeServiceDefinition:
		return 365 * 24 * time.Hour // definitions are long-lived; registry re-saves on every mutation
	case DataTypeServiceStatus:
		return 6 * time.Hour
	case DataTypeMonitoringData:
		return 30 * 24 * time.Hour
	case DataTypeFailoverConfig:
		return 24 * time.Hour
	case DataTypeSLA:
		return 365 * 24 * time.Hour
	case DataTypeAnalyticsEvent:
		return 90 * 24 * time.Hour
	case DataTypeDLQRecord:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}
