package powerrec

import (
	"fmt"
	"math"
	"strings"
)

// BuildRideNotes turns ride metrics into a short text summary.
func BuildRideNotes(a *Analysis) string {
	if a == nil {
		return ""
	}
	if a.RecordCount == 0 {
		return "No power records were decoded."
	}

	var b strings.Builder

	if !a.StartTime.IsZero() {
		fmt.Fprintf(&b, "Start: %s\n", a.StartTime.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(
		&b,
		"Duration %s | Records %d (%d filled) | Rotations %.0f\n",
		formatDuration(a.ElapsedSeconds),
		a.RecordCount,
		a.FillerRecords,
		a.TotalRotations,
	)
	fmt.Fprintf(
		&b,
		"Power %.0f avg / %.0f NP / %.0f max W | Work %.0f kJ | VI %.2f\n",
		a.AvgPowerWatts,
		a.NormalizedPower,
		a.MaxPowerWatts,
		a.WorkKilojoules,
		a.VariabilityIndex,
	)
	fmt.Fprintf(&b, "Cadence %.0f avg / %.0f max rpm\n", a.AvgCadence, a.MaxCadence)

	if a.FTPWatts > 0 {
		fmt.Fprintf(
			&b,
			"Load IF %.2f | TSS %.0f | FTP %.0f W (%s)\n",
			a.IntensityFactor,
			a.TrainingStress,
			a.FTPWatts,
			a.FTPSource,
		)
	} else {
		b.WriteString("Load IF/TSS unavailable (FTP not provided and ride too short to estimate)\n")
	}
	if a.Best20MinPower > 0 && a.ElapsedSeconds >= 20*60 {
		fmt.Fprintf(&b, "Best 20 min power: %.0f W\n", a.Best20MinPower)
	}

	if len(a.PowerZones) > 0 {
		b.WriteString("\nPower Zone Distribution\n")
		for _, z := range a.PowerZones {
			if z.Seconds <= 0 {
				continue
			}
			fmt.Fprintf(&b, "- %s: %s (%.1f%%)\n", z.Zone, formatDuration(z.Seconds), z.Percentage)
		}
	}

	b.WriteString("\nData Quality\n- ")
	b.WriteString(dataQualityAssessment(a))
	b.WriteByte('\n')

	return strings.TrimSpace(b.String())
}

func dataQualityAssessment(a *Analysis) string {
	if a.RecordCount == 0 {
		return "No records."
	}
	filled := float64(a.FillerRecords) / float64(a.RecordCount) * 100.0
	switch {
	case filled == 0:
		return "Every interval was covered by sensor data."
	case filled < 5:
		return fmt.Sprintf("%.1f%% of intervals were filled across short dropouts; totals are reliable.", filled)
	default:
		return fmt.Sprintf("%.1f%% of intervals were filled; check receiver placement or sensor battery.", filled)
	}
}

func formatDuration(seconds float64) string {
	if seconds <= 0 {
		return "0s"
	}
	s := int(math.Round(seconds))
	h := s / 3600
	m := (s % 3600) / 60
	sec := s % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, sec)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, sec)
	}
	return fmt.Sprintf("%ds", sec)
}
