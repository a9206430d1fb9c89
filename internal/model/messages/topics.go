package messages

import "strings"

// Topic MQTT; l'ultimo segmento è sempre l'id della serra.
const (
	TopicReadings   = "greenhouse/data"
	TopicStates     = "greenhouse/state"
	TopicRefresh    = "command/refresh"
	TopicRecompute  = "command/recompute"
	TopicRecomputed = "event/recomputed"
)

// For builds "prefix/{gh}".
func For(prefix, greenhouseID string) string {
	return prefix + "/" + greenhouseID
}

// Wildcard builds the subscription "prefix/+".
func Wildcard(prefix string) string {
	return prefix + "/+"
}

// GreenhouseFromTopic estrae l'id serra da "prefix/{gh}".
func GreenhouseFromTopic(topic, prefix string) string {
	rest := strings.TrimPrefix(topic, prefix+"/")
	if rest == topic {
		return ""
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}
