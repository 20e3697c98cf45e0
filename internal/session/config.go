package session

import (
	"github.com/thedongcc/Tcom-sub002/internal/crc"
	"github.com/thedongcc/Tcom-sub002/internal/fault"
)

// Kind selects a session's variant. Serial, MQTT, and monitor sessions carry
// a transport; settings and graph sessions are panel-only and never connect.
type Kind string

const (
	KindSerial   Kind = "serial"
	KindMQTT     Kind = "mqtt"
	KindMonitor  Kind = "monitor"
	KindSettings Kind = "settings"
	KindGraph    Kind = "graph"
)

// CRCSettings controls checksum framing per direction.
type CRCSettings struct {
	TXEnabled bool          `json:"txEnabled" yaml:"txEnabled"`
	RXEnabled bool          `json:"rxEnabled" yaml:"rxEnabled"`
	Algorithm crc.Algorithm `json:"algorithm,omitempty" yaml:"algorithm,omitempty"`
	Range     crc.Range     `json:"range" yaml:"range"`
}

type SerialSettings struct {
	Path     string      `json:"path" yaml:"path"`
	BaudRate int         `json:"baudRate" yaml:"baudRate"`
	DataBits int         `json:"dataBits" yaml:"dataBits"`
	Parity   string      `json:"parity,omitempty" yaml:"parity,omitempty"`
	StopBits string      `json:"stopBits,omitempty" yaml:"stopBits,omitempty"`
	CRC      CRCSettings `json:"crc" yaml:"crc"`
}

type MQTTSettings struct {
	BrokerURL      string `json:"brokerUrl" yaml:"brokerUrl"`
	ClientID       string `json:"clientId,omitempty" yaml:"clientId,omitempty"`
	Username       string `json:"username,omitempty" yaml:"username,omitempty"`
	Password       string `json:"password,omitempty" yaml:"password,omitempty"`
	SubscribeTopic string `json:"subscribeTopic,omitempty" yaml:"subscribeTopic,omitempty"`
	PublishTopic   string `json:"publishTopic,omitempty" yaml:"publishTopic,omitempty"`
	QoS            byte   `json:"qos" yaml:"qos"`
	Retain         bool   `json:"retain" yaml:"retain"`
}

// MonitorSettings describes a tap. VirtualPort is the pair endpoint the
// external application opens; PairedPort is the other end of that pair,
// resolved from the pair listing at connect time and opened by this tool;
// PhysicalPort is the device.
type MonitorSettings struct {
	VirtualPort     string      `json:"virtualPort" yaml:"virtualPort"`
	PairedPort      string      `json:"pairedPort,omitempty" yaml:"pairedPort,omitempty"`
	PairID          string      `json:"pairId,omitempty" yaml:"pairId,omitempty"`
	PhysicalPort    string      `json:"physicalPort" yaml:"physicalPort"`
	BaudRate        int         `json:"baudRate" yaml:"baudRate"`
	DataBits        int         `json:"dataBits" yaml:"dataBits"`
	Parity          string      `json:"parity,omitempty" yaml:"parity,omitempty"`
	StopBits        string      `json:"stopBits,omitempty" yaml:"stopBits,omitempty"`
	AutoDestroyPair bool        `json:"autoDestroyPair" yaml:"autoDestroyPair"`
	CRC             CRCSettings `json:"crc" yaml:"crc"`
}

// Config is the durable part of a session: a common header plus exactly one
// kind-specific variant. ID never changes; Name changes only through
// Registry.Rename.
type Config struct {
	ID           string           `json:"id" yaml:"id"`
	Name         string           `json:"name" yaml:"name"`
	Kind         Kind             `json:"kind" yaml:"kind"`
	MergeRepeats bool             `json:"mergeRepeats" yaml:"mergeRepeats"`
	Serial       *SerialSettings  `json:"serial,omitempty" yaml:"serial,omitempty"`
	MQTT         *MQTTSettings    `json:"mqtt,omitempty" yaml:"mqtt,omitempty"`
	Monitor      *MonitorSettings `json:"monitor,omitempty" yaml:"monitor,omitempty"`
}

func (c Config) Validate() error {
	switch c.Kind {
	case KindSerial:
		if c.Serial == nil {
			return fault.Configf("serial session %q has no serial settings", c.Name)
		}
	case KindMQTT:
		if c.MQTT == nil {
			return fault.Configf("mqtt session %q has no broker settings", c.Name)
		}
	case KindMonitor:
		if c.Monitor == nil {
			return fault.Configf("monitor session %q has no monitor settings", c.Name)
		}
	case KindSettings, KindGraph:
	default:
		return fault.Configf("unknown session kind %q", c.Kind)
	}
	return nil
}

// Clone returns a deep copy; variant structs are not shared with the
// original.
func (c Config) Clone() Config {
	out := c
	if c.Serial != nil {
		v := *c.Serial
		out.Serial = &v
	}
	if c.MQTT != nil {
		v := *c.MQTT
		out.MQTT = &v
	}
	if c.Monitor != nil {
		v := *c.Monitor
		out.Monitor = &v
	}
	return out
}

// connectable reports whether this kind of session has a transport at all.
func (c Config) connectable() bool {
	switch c.Kind {
	case KindSerial, KindMQTT, KindMonitor:
		return true
	}
	return false
}
