package childstore

import "encoding/xml"

// childConfig is the host-owned config.xml shape grove reads and writes
// alongside every child directory. The host platform defines the real
// schema; grove only needs the business name and an opaque state blob it
// never interprets (spec §3 Child.State).
type childConfig struct {
	XMLName      xml.Name `xml:"config"`
	BusinessName string   `xml:"businessName"`
	State        []byte   `xml:"state"`
}

func marshalConfig(cfg childConfig) ([]byte, error) {
	out, err := xml.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

func unmarshalConfig(data []byte) (childConfig, error) {
	var cfg childConfig
	err := xml.Unmarshal(data, &cfg)
	return cfg, err
}
