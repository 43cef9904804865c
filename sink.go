package powerrec

// Record is one fixed-interval output sample.
type Record struct {
	Timestamp          float64  `json:"timestamp_s"`
	CumulativeRotation float64  `json:"cumulative_rotation"`
	CumulativeEnergy   float64  `json:"cumulative_energy_j"`
	AverageCadence     float32  `json:"average_cadence_rpm"`
	AveragePower       float32  `json:"average_power_w"`
	Source             PageType `json:"source"`
	// Filler is set on records synthesized for a gap or a silent sensor.
	Filler bool `json:"filler"`
}

// RecordSink receives records in strictly increasing timestamp order.
type RecordSink interface {
	WriteRecord(Record)
}

// RecordSinkFunc adapts a function to RecordSink.
type RecordSinkFunc func(Record)

func (f RecordSinkFunc) WriteRecord(r Record) { f(r) }

// RecordBuffer collects records in memory.
type RecordBuffer struct {
	Records []Record
}

func (b *RecordBuffer) WriteRecord(r Record) {
	b.Records = append(b.Records, r)
}
