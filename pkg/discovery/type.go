package discovery

// DeviceSeen is emitted for every well-formed announcement datagram.
// Duplicates are expected at 1 Hz; the session manager dedupes by
// address.
type DeviceSeen struct {
	// DeviceID is the assembly label when the announcement carried one.
	// May be empty; readings always carry it.
	DeviceID string

	// Addr is the IP address the meter reports itself reachable on.
	Addr string

	// UnitName is the user-assigned display name.
	UnitName string
}

type announcement struct {
	IPAddress string `json:"IP_ADDRESS"`
	UnitName  string `json:"UNIT_NAME"`
	Assembly  string `json:"ASSY"`
	ProductID string `json:"PRODUCT_ID"`
}
