package w1kit

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Node is a configured reader. Topic and Array are defaults, every incoming
// message may override them for its own read only.
type Node struct {
	Name  string
	Topic string
	Array bool

	Interval     string
	PublishTopic string
	InputTopic   string

	interval time.Duration
}

func (n *Node) Init() error {
	if len(n.Interval) == 0 {
		return nil
	}

	interval, err := time.ParseDuration(n.Interval)
	if err != nil {
		return errors.Wrapf(err, "node %s: failed to parse Interval (%s)", n.Name, n.Interval)
	}
	if interval <= 0 {
		return errors.Errorf("node %s: Interval must be positive (got %s)", n.Name, n.Interval)
	}
	n.interval = interval

	return nil
}

// Request builds the read parameters for msg. A non empty "topic" of msg
// replaces the node topic, "array" of msg can only switch array mode on.
func (n *Node) Request(msg Message) ReadRequest {
	if msg == nil {
		msg = Message{}
	}

	req := ReadRequest{
		Topic: n.Topic,
		Array: n.Array || truthy(msg["array"]),
		Input: msg,
	}
	if topic, ok := msg["topic"].(string); ok && strings.TrimSpace(topic) != "" {
		req.Topic = topic
	}

	return req
}

func truthy(v interface{}) bool {
	switch val := v.(type) {
	case bool:
		return val
	case float64:
		return val != 0
	case int:
		return val != 0
	case string:
		return strings.EqualFold(val, "true") || val == "1"
	}
	return false
}
