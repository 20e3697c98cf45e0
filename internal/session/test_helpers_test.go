package session

import (
	"testing"
	"time"
)

func serialTestConfig(name, path string) Config {
	return Config{
		Name: name,
		Kind: KindSerial,
		Serial: &SerialSettings{
			Path:     path,
			BaudRate: 115200,
		},
	}
}

func mqttTestConfig(name string) Config {
	return Config{
		Name: name,
		Kind: KindMQTT,
		MQTT: &MQTTSettings{
			BrokerURL:    "tcp://localhost:1883",
			PublishTopic: "device/tx",
			QoS:          1,
		},
	}
}

func monitorTestConfig(name string) Config {
	return Config{
		Name: name,
		Kind: KindMonitor,
		Monitor: &MonitorSettings{
			VirtualPort:  "COM11",
			PhysicalPort: "COM3",
			BaudRate:     9600,
		},
	}
}

func waitState(t *testing.T, session *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if session.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session state is %s, want %s", session.State(), want)
}
