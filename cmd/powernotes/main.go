package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	powerrec "github.com/lucasjlepore/power-recorder"
)

func main() {
	var (
		ftp      = flag.Float64("ftp", 0, "FTP in watts (optional; if omitted the tool estimates FTP from best 20-minute power)")
		jsonOut  = flag.Bool("json", false, "Emit full analysis as JSON")
		showZone = flag.Bool("zones", true, "Include the power zone distribution")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <activity.fit>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	analysis, err := powerrec.AnalyzeFile(flag.Arg(0), powerrec.AnalysisConfig{FTPWatts: *ftp})
	if err != nil {
		fmt.Fprintf(os.Stderr, "analysis failed: %v\n", err)
		os.Exit(1)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(analysis); err != nil {
			fmt.Fprintf(os.Stderr, "json encode failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if !*showZone {
		analysis.PowerZones = nil
		analysis.Notes = powerrec.BuildRideNotes(analysis)
	}
	fmt.Println(analysis.Notes)
}
