package computation

import "encoding/xml"

// record is the on-disk shape of computation.xml (spec §4.5 step 6): a
// write-change bulk guard persists this after every run, never mid-flight.
type record struct {
	XMLName        xml.Name  `xml:"computation"`
	Timestamp      int64     `xml:"timestamp"`
	DurationMillis int64     `xml:"durationMillis"`
	Result         string    `xml:"result"`
	Causes         []string  `xml:"causes>cause"`
	History        []int64   `xml:"history>durationMillis"`
}

func marshalRecord(r record) ([]byte, error) {
	return xml.MarshalIndent(r, "", "  ")
}

func unmarshalRecord(data []byte) (record, error) {
	var r record
	err := xml.Unmarshal(data, &r)
	return r, err
}
