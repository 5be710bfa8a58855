// Package export writes decision logs and experiment reports to disk.
package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/nvandessel/pdpsim/internal/models"
)

// Decision log formats.
const (
	FormatJSONL = "jsonl"
	FormatArrow = "arrow"
)

// Formats lists the supported decision log formats.
var Formats = []string{FormatJSONL, FormatArrow}

// ZstdSuffix marks a compressed JSONL log.
const ZstdSuffix = ".zst"

// KnownFormat reports whether f is a supported decision log format.
func KnownFormat(f string) bool {
	for _, known := range Formats {
		if f == known {
			return true
		}
	}
	return false
}

// LogName returns the file name of one PDP's decision log for one run.
func LogName(pdpName string, run int, format string, compress bool) string {
	name := fmt.Sprintf("%s_logs_run%d.%s", pdpName, run, format)
	if format == FormatJSONL && compress {
		name += ZstdSuffix
	}
	return name
}

// WriteJSONL writes one record per line. A path ending in .zst is
// zstd-compressed.
func WriteJSONL(path string, records []models.Record) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	var w io.Writer = f
	var enc *zstd.Encoder
	if strings.HasSuffix(path, ZstdSuffix) {
		enc, err = zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return fmt.Errorf("create zstd encoder: %w", err)
		}
		w = enc
	}

	bw := bufio.NewWriter(w)
	je := json.NewEncoder(bw)
	for i := range records {
		if err := je.Encode(&records[i]); err != nil {
			return fmt.Errorf("encode record %d: %w", i, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return fmt.Errorf("finish zstd stream: %w", err)
		}
	}
	return nil
}

// ReadJSONL reads a log written by WriteJSONL, compressed or not.
func ReadJSONL(path string) ([]models.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ZstdSuffix) {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	var out []models.Record
	jd := json.NewDecoder(bufio.NewReader(r))
	for {
		var rec models.Record
		if err := jd.Decode(&rec); err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("decode record %d of %s: %w", len(out), path, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
