package w1kit

import (
	"testing"
	"time"
)

func TestNodeInit(t *testing.T) {
	n := Node{Name: "garden", Interval: "30s"}
	err := n.Init()
	if err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	if n.interval != 30*time.Second {
		t.Errorf("got interval %s want 30s", n.interval)
	}

	n = Node{Name: "nope", Interval: "often"}
	if n.Init() == nil {
		t.Error("got nil error for unparsable Interval")
	}

	n = Node{Name: "negative", Interval: "-1s"}
	if n.Init() == nil {
		t.Error("got nil error for negative Interval")
	}

	n = Node{Name: "manual"}
	if err := n.Init(); err != nil || n.interval != 0 {
		t.Errorf("node without Interval: err %v interval %s", err, n.interval)
	}
}

func TestNodeRequest(t *testing.T) {
	n := Node{Topic: "28-0316a27941ff"}

	t.Run("defaults", func(t *testing.T) {
		req := n.Request(nil)
		assertStrings(t, req.Topic, "28-0316a27941ff")
		if req.Array {
			t.Error("array mode set without being asked for")
		}
		if req.Input == nil {
			t.Error("nil input message")
		}
	})

	t.Run("message topic overrides", func(t *testing.T) {
		req := n.Request(Message{"topic": "10-010203040506 10-ffffffffffff"})
		assertStrings(t, req.Topic, "10-010203040506 10-ffffffffffff")
	})

	t.Run("empty message topic keeps node topic", func(t *testing.T) {
		req := n.Request(Message{"topic": ""})
		assertStrings(t, req.Topic, "28-0316a27941ff")

		req = n.Request(Message{"topic": "  \t "})
		assertStrings(t, req.Topic, "28-0316a27941ff")
	})

	t.Run("array from message", func(t *testing.T) {
		for _, v := range []interface{}{true, float64(1), 1, "true", "1"} {
			if !n.Request(Message{"array": v}).Array {
				t.Errorf("array %v (%T) not taken as true", v, v)
			}
		}
		for _, v := range []interface{}{false, float64(0), "no", nil} {
			if n.Request(Message{"array": v}).Array {
				t.Errorf("array %v (%T) taken as true", v, v)
			}
		}
	})

	t.Run("node array cannot be switched off", func(t *testing.T) {
		arrayNode := Node{Array: true}
		if !arrayNode.Request(Message{"array": false}).Array {
			t.Error("message switched off node array mode")
		}
	})

	t.Run("requests are independent", func(t *testing.T) {
		first := n.Request(Message{"topic": "ff4179a21603", "array": true})
		second := n.Request(Message{})
		assertStrings(t, first.Topic, "ff4179a21603")
		assertStrings(t, second.Topic, "28-0316a27941ff")
		if second.Array {
			t.Error("array mode leaked between requests")
		}
	})
}
