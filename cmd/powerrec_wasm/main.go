//go:build js && wasm

package main

import (
	"archive/zip"
	"bytes"
	"fmt"
	"sort"
	"syscall/js"
	"time"

	powerrec "github.com/lucasjlepore/power-recorder"
	"github.com/lucasjlepore/power-recorder/pipeline"
)

func main() {
	js.Global().Set("decodeCapture", js.FuncOf(decodeCapture))
	select {}
}

func decodeCapture(_ js.Value, args []js.Value) any {
	if len(args) < 2 {
		return failure("expected arguments: captureBytes(Uint8Array), options(object)")
	}
	fileArg := args[0]
	optsArg := args[1]
	if fileArg.IsUndefined() || fileArg.IsNull() || fileArg.Get("length").Int() == 0 {
		return failure("capture bytes are required")
	}

	data := make([]byte, fileArg.Get("length").Int())
	if n := js.CopyBytesToGo(data, fileArg); n == 0 {
		return failure("failed to read capture bytes from JS input")
	}

	decoder := powerrec.DefaultConfig()
	if v := getFloat(optsArg, "interval_s"); v > 0 {
		decoder.RecordInterval = v
	}
	decoder.TimeBase = getFloat(optsArg, "time_base_s")
	if v := getFloat(optsArg, "resync_s"); v > 0 {
		decoder.ResyncInterval = v
	}
	mode, err := powerrec.ParseRotationMode(getString(optsArg, "rotation", "cadence"))
	if err != nil {
		return failure(err.Error())
	}
	decoder.WheelRotation = mode

	var start time.Time
	if ms := getFloat(optsArg, "start_unix_ms"); ms > 0 {
		start = time.UnixMilli(int64(ms)).UTC()
	}

	opts := pipeline.BytesOptions{
		SourceFileName: getString(optsArg, "source_file_name", "capture.csv"),
		CaptureData:    data,
		Decoder:        decoder,
		MeterHint:      getString(optsArg, "meter", ""),
		Format:         getString(optsArg, "format", "csv"),
		Start:          start,
		FTPOverride:    getFloat(optsArg, "ftp_w"),
		CopySource:     true,
	}
	result, err := pipeline.RunBytes(opts)
	if err != nil {
		return failure(err.Error())
	}

	zipBytes, err := zipArtifacts(result.Files)
	if err != nil {
		return failure(fmt.Sprintf("create zip: %v", err))
	}
	payload := js.Global().Get("Uint8Array").New(len(zipBytes))
	js.CopyBytesToJS(payload, zipBytes)

	fileNames := make([]string, 0, len(result.Files))
	for name := range result.Files {
		fileNames = append(fileNames, name)
	}
	sort.Strings(fileNames)

	return map[string]any{
		"ok":       true,
		"zip":      payload,
		"warnings": stringsToAny(result.Warnings),
		"files":    stringsToAny(fileNames),
		"records":  result.Summary.RecordCount,
		"meter":    result.Summary.MeterType,
	}
}

func failure(msg string) map[string]any {
	return map[string]any{
		"ok":    false,
		"error": msg,
	}
}

func zipArtifacts(files map[string][]byte) ([]byte, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	fixedTime := time.Unix(0, 0).UTC()

	for _, name := range names {
		h := &zip.FileHeader{
			Name:   name,
			Method: zip.Deflate,
		}
		h.SetModTime(fixedTime)
		w, err := zw.CreateHeader(h)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(files[name]); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func getString(v js.Value, key, fallback string) string {
	if v.IsUndefined() || v.IsNull() {
		return fallback
	}
	out := v.Get(key)
	if out.IsUndefined() || out.IsNull() {
		return fallback
	}
	s := out.String()
	if s == "" || s == "undefined" || s == "null" {
		return fallback
	}
	return s
}

func getFloat(v js.Value, key string) float64 {
	if v.IsUndefined() || v.IsNull() {
		return 0
	}
	out := v.Get(key)
	if out.IsUndefined() || out.IsNull() || out.Type() != js.TypeNumber {
		return 0
	}
	return out.Float()
}

func stringsToAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
