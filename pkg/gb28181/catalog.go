package gb28181

import "encoding/xml"

// MessageBody is the permissive shape for GB28181 MESSAGE XML bodies:
// Catalog response, DeviceInfo, DeviceStatus, and Keepalive all share a
// CmdType discriminator and loosely-typed fields. Unknown elements are
// ignored by encoding/xml by default, which is exactly the "permissive,
// surplus elements tolerated" behavior §6 requires.
type MessageBody struct {
	XMLName    xml.Name    `xml:"Response"`
	CmdType    string      `xml:"CmdType"`
	SN         string      `xml:"SN"`
	DeviceID   string      `xml:"DeviceID"`
	SumNum     int         `xml:"SumNum"`
	DeviceList *DeviceList `xml:"DeviceList"`
	// DeviceInfo / DeviceStatus fields, present only on those CmdTypes.
	Name         string `xml:"Name"`
	Manufacturer string `xml:"Manufacturer"`
	Model        string `xml:"Model"`
	Status       string `xml:"Status"`  // ON | OFF
	Online       string `xml:"Online"`  // ONLINE | OFFLINE
}

// DeviceList carries 0..N catalog entries.
type DeviceList struct {
	Num   int          `xml:"Num,attr"`
	Items []DeviceItem `xml:"Item"`
}

// DeviceItem is one catalog entry. Both the Status ON/OFF and Online
// ONLINE/OFFLINE conventions are accepted; IsOnline normalizes them.
type DeviceItem struct {
	DeviceID     string `xml:"DeviceID"`
	Name         string `xml:"Name"`
	Manufacturer string `xml:"Manufacturer"`
	Model        string `xml:"Model"`
	Status       string `xml:"Status"`
	Online       string `xml:"Online"`
	ParentID     string `xml:"ParentID"`
}

// IsOnline normalizes the two conventions the standard's implementations
// actually use in the wild.
func (d DeviceItem) IsOnline() bool {
	switch d.Status {
	case "ON":
		return true
	case "OFF":
		return false
	}
	switch d.Online {
	case "ONLINE":
		return true
	case "OFFLINE":
		return false
	}
	return false
}

// ParseMessage unmarshals a MESSAGE body. Malformed XML is a ParseError at
// the caller (discard, log, continue) per the error taxonomy.
func ParseMessage(body []byte) (*MessageBody, error) {
	var m MessageBody
	if err := xml.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
