package module

import "fmt"

// ID is a module's bit index in the activation mask.
type ID uint

// Modules, in bit order.
const (
	THP ID = iota
	CO2
	Jura
	JuraTerm
	Motion
	PWM
	IO
	Switch
	Plant
)

// Bit returns the module's mask bit.
func (id ID) Bit() uint32 {
	return uint32(1) << id
}

// String returns the module name.
func (id ID) String() string {
	if s, ok := lookup(id); ok {
		return s.Name
	}
	return fmt.Sprintf("module(%d)", uint(id))
}

// Bus is a shared peripheral bus.
type Bus int

// Buses.
const (
	BusI2C Bus = iota
	BusUART
	BusSPI
)

func (b Bus) String() string {
	switch b {
	case BusI2C:
		return "i2c"
	case BusUART:
		return "uart"
	case BusSPI:
		return "spi"
	default:
		return fmt.Sprintf("bus(%d)", int(b))
	}
}

// busPins lists the GPIOs a bus occupies while it has users.
var busPins = map[Bus][]int{
	BusI2C:  {4, 5},
	BusUART: {1, 3},
	BusSPI:  {14, 13, 12, 15},
}

// Spec declares a module's resources.
type Spec struct {
	ID    ID
	Name  string
	Buses []Bus
	Pins  []int

	// Group names a set of mutually exclusive modules. Empty means none.
	Group string
}

// groupUART holds the modules that own the UART outright.
const groupUART = "uart"

var table = []Spec{
	{ID: THP, Name: "THP", Buses: []Bus{BusI2C}},
	{ID: CO2, Name: "CO2", Buses: []Bus{BusUART}, Group: groupUART},
	{ID: Jura, Name: "Jura", Buses: []Bus{BusUART}, Group: groupUART},
	{ID: JuraTerm, Name: "JuraTerm", Buses: []Bus{BusUART}, Group: groupUART},
	{ID: Motion, Name: "Motion", Pins: []int{0}},
	{ID: PWM, Name: "PWM", Pins: []int{12, 13, 14, 15}},
	{ID: IO, Name: "IO", Buses: []Bus{BusI2C}},
	{ID: Switch, Name: "Switch", Pins: []int{4, 5, 12, 14}},
	{ID: Plant, Name: "Plant", Buses: []Bus{BusSPI}},
}

// knownMask has a bit set for every module in the table.
var knownMask = func() uint32 {
	var m uint32
	for _, s := range table {
		m |= s.ID.Bit()
	}
	return m
}()

// Table returns a copy of the module table in bit order.
func Table() []Spec {
	out := make([]Spec, len(table))
	copy(out, table)
	return out
}

func lookup(id ID) (Spec, bool) {
	for _, s := range table {
		if s.ID == id {
			return s, true
		}
	}
	return Spec{}, false
}
