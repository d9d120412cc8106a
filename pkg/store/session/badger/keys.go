package badger

import "fmt"

// Database Key Namespace Design
// ==============================
//
// Slots and counters live under prefixed keys so the whole table can be
// read with one prefix scan.
//
// Data Type        Prefix     Key Format          Value Type
// ===========================================================
// Client slot      "slot:"    slot:<index>        slotData (JSON)
// Global counter   "ctr:"     ctr:hits            int64 (binary)
//                             ctr:kbytes          int64 (binary)
// Store metadata   "meta:"    meta:start          int64 unix seconds (binary)
//                             meta:slots          int64 slot count (binary)
//
// Slot indexes are zero-padded so the scan returns them in table order.
// Empty slots are not stored.

const (
	prefixSlot = "slot:"

	keyHits   = "ctr:hits"
	keyKBytes = "ctr:kbytes"
	keyStart  = "meta:start"
	keySlots  = "meta:slots"
)

func keySlot(i int) []byte {
	return []byte(fmt.Sprintf("%s%05d", prefixSlot, i))
}

func parseSlotKey(key []byte) (int, bool) {
	var i int
	if _, err := fmt.Sscanf(string(key), prefixSlot+"%05d", &i); err != nil {
		return 0, false
	}
	return i, true
}
