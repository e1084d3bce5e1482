package telemetry

import "fmt"

// InstrumentKind distinguishes the two instrument shapes the service records.
type InstrumentKind int

const (
	KindCounter InstrumentKind = iota
	KindHistogram
)

func (k InstrumentKind) String() string {
	if k == KindHistogram {
		return "histogram"
	}
	return "counter"
}

// lookup returns the catalog entry for name. Names outside the catalog are
// accepted as want; a catalog name of another kind is an error.
func lookup(name string, want InstrumentKind) (Instrument, error) {
	def, ok := Instruments[name]
	if !ok {
		return Instrument{Name: name, Kind: want}, nil
	}
	if def.Kind != want {
		return Instrument{}, fmt.Errorf("%w: %s is a %s, not a %s", ErrInstrumentKind, name, def.Kind, want)
	}
	return def, nil
}

// Instrument describes a named metric instrument.
type Instrument struct {
	Name        string
	Kind        InstrumentKind
	Unit        string
	Description string
}

// Instrument names recorded by the items API.
const (
	MetricItemsCreated      = "items_created"
	MetricItemsQueried      = "items_queried"
	MetricItemsQueryTime    = "items_query_time"
	MetricItemsCreationTime = "items_creation_time"
	MetricCustomCounter     = "custom_counter"
	MetricCustomHistogram   = "custom_histogram"
)

// UnitMilliseconds is the unit of every duration histogram.
const UnitMilliseconds = "ms"

// Instruments is the catalog of known instruments. Names missing from the
// catalog are still recorded, with an empty description.
var Instruments = map[string]Instrument{
	MetricItemsCreated:      {Name: MetricItemsCreated, Kind: KindCounter, Unit: "1", Description: "Number of items created"},
	MetricItemsQueried:      {Name: MetricItemsQueried, Kind: KindCounter, Unit: "1", Description: "Number of items queried"},
	MetricItemsQueryTime:    {Name: MetricItemsQueryTime, Kind: KindHistogram, Unit: UnitMilliseconds, Description: "Time taken to query an item"},
	MetricItemsCreationTime: {Name: MetricItemsCreationTime, Kind: KindHistogram, Unit: UnitMilliseconds, Description: "Time taken to create an item"},
	MetricCustomCounter:     {Name: MetricCustomCounter, Kind: KindCounter, Unit: "1", Description: "Custom counter"},
	MetricCustomHistogram:   {Name: MetricCustomHistogram, Kind: KindHistogram, Unit: UnitMilliseconds, Description: "Custom histogram"},
}
