/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * Format auto-detection between XML and bplist00
 */

package plist

import "bytes"

// Marshal renders v as an XML property list, lockdown's wire format
// for every message except pair records, which are stored as bplist00
// on disk (see pairrecord.Store).
func Marshal(v Value) ([]byte, error) {
	return MarshalXML(v)
}

// Unmarshal detects whether data is a bplist00 document or an XML
// property list and parses accordingly
func Unmarshal(data []byte) (Value, error) {
	if bytes.HasPrefix(data, bplistMagic) {
		return UnmarshalBinary(data)
	}
	return UnmarshalXML(data)
}
