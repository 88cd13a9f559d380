package serial

// DeviceAddress identifies a serial endpoint by its device path, for example
// "/dev/ttyUSB0". It implements net.Addr so it can be logged and compared
// like a socket address. The zero value has no path and is rejected by Connect.
type DeviceAddress struct {
	path string
}

// LocalAddress is the fixed local side of every serial channel. Serial links
// have no bound local endpoint, so this is a constant sentinel.
var LocalAddress = DeviceAddress{path: "localhost"}

// NewDeviceAddress returns the address of the device at path.
func NewDeviceAddress(path string) DeviceAddress {
	return DeviceAddress{path: path}
}

// Path returns the device path.
func (a DeviceAddress) Path() string { return a.path }

// Network implements net.Addr.
func (a DeviceAddress) Network() string { return "serial" }

func (a DeviceAddress) String() string { return a.path }
