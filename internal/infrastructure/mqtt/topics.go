package mqtt

import (
	"fmt"
	"net/url"
	"strings"
)

// IoT Hub topic prefixes.
const (
	// TopicPrefixDevices is the base for cloud-to-device topics.
	TopicPrefixDevices = "devices"

	// TopicPrefixMethods is the base for direct-method topics.
	TopicPrefixMethods = "$iothub/methods"
)

// Topics provides builders for IoT Hub MQTT topics.
//
//	topics := mqtt.Topics{}
//	sub := topics.DeviceBound("mobile-123")
//	// Returns: "devices/mobile-123/messages/devicebound/#"
type Topics struct{}

// DeviceBound returns the subscription for cloud-to-device messages.
//
// Example: devices/mobile-123/messages/devicebound/#
func (Topics) DeviceBound(clientID string) string {
	return fmt.Sprintf("%s/%s/messages/devicebound/#", TopicPrefixDevices, clientID)
}

// DirectMethods returns the subscription for direct-method requests.
//
// Example: $iothub/methods/POST/#
func (Topics) DirectMethods() string {
	return TopicPrefixMethods + "/POST/#"
}

// MethodResponse returns the topic a direct-method reply is published to.
//
// Example: $iothub/methods/res/200/?$rid=42
func (Topics) MethodResponse(status int, requestID string) string {
	return fmt.Sprintf("%s/res/%d/?$rid=%s", TopicPrefixMethods, status, requestID)
}

// MethodRequest is a parsed direct-method request topic.
type MethodRequest struct {
	Name      string
	RequestID string
}

// ParseMethodRequest parses a topic of the form
// $iothub/methods/POST/{name}/?$rid={rid}.
//
// Returns:
//   - MethodRequest: The method name and request id
//   - bool: false if the topic is not a direct-method request
func (Topics) ParseMethodRequest(topic string) (MethodRequest, bool) {
	rest, ok := strings.CutPrefix(topic, TopicPrefixMethods+"/POST/")
	if !ok {
		return MethodRequest{}, false
	}
	name, query, _ := strings.Cut(rest, "/")
	query = strings.TrimPrefix(query, "?")
	values, err := url.ParseQuery(query)
	if err != nil {
		return MethodRequest{}, false
	}
	rid := values.Get("$rid")
	if name == "" || rid == "" {
		return MethodRequest{}, false
	}
	return MethodRequest{Name: name, RequestID: rid}, true
}

// IsDeviceBound reports whether topic is a cloud-to-device message topic.
func (Topics) IsDeviceBound(topic string) bool {
	parts := strings.SplitN(topic, "/", 5)
	return len(parts) >= 4 && parts[0] == TopicPrefixDevices &&
		parts[2] == "messages" && parts[3] == "devicebound"
}
