package pose

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Errors returned by the pose record reader.
var (
	// ErrMalformedRecord is returned for a data row with fewer than six
	// numeric fields.
	ErrMalformedRecord = errors.New("pose record must have at least 6 numeric fields")
	// ErrUnevenRecords is returned when the raw record count does not
	// divide evenly into per-scan groups. Averaging uneven groups would
	// silently misalign every following pose prior.
	ErrUnevenRecords = errors.New("pose record count must be a multiple of the per-scan group size")
)

// Record field order: rotx, roty, rotz, dx, dy, dz and an optional
// seventh confidence field (zero when absent).
const minRecordFields = 6

// ReadRecords parses raw pose records from delimited rows. The first
// skipRows rows and the first skipCols fields of each remaining row are
// ignored. Blank rows are skipped.
func ReadRecords(r io.Reader, delim rune, skipRows, skipCols int) ([]Pose, error) {
	sc := bufio.NewScanner(r)
	var out []Pose
	row := 0
	for sc.Scan() {
		row++
		if row <= skipRows {
			continue
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, string(delim))
		if len(fields) <= skipCols {
			return nil, errors.Wrapf(ErrMalformedRecord, "row %d", row)
		}
		fields = fields[skipCols:]

		vals := make([]float64, 0, len(fields))
		for _, f := range fields {
			f = strings.TrimSpace(f)
			if f == "" {
				continue
			}
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, errors.Wrapf(ErrMalformedRecord, "row %d: %v", row, err)
			}
			vals = append(vals, v)
		}
		if len(vals) < minRecordFields {
			return nil, errors.Wrapf(ErrMalformedRecord, "row %d has %d fields", row, len(vals))
		}
		p := Pose{
			RotX: vals[0], RotY: vals[1], RotZ: vals[2],
			DX: vals[3], DY: vals[4], DZ: vals[5],
		}
		if len(vals) > minRecordFields {
			p.Confidence = vals[6]
		}
		out = append(out, p)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read pose records")
	}
	return out, nil
}

// Average folds every perScan consecutive raw records into their mean
// pose. The raw record count must divide evenly by perScan.
func Average(raw []Pose, perScan int) ([]Pose, error) {
	if perScan < 1 {
		return nil, errors.Wrapf(ErrUnevenRecords, "group size %d", perScan)
	}
	if len(raw)%perScan != 0 {
		return nil, errors.Wrapf(ErrUnevenRecords, "%d records, group size %d", len(raw), perScan)
	}
	out := make([]Pose, 0, len(raw)/perScan)
	for i := 0; i < len(raw); i += perScan {
		var sum Pose
		for _, p := range raw[i : i+perScan] {
			sum.DX += p.DX
			sum.DY += p.DY
			sum.DZ += p.DZ
			sum.RotX += p.RotX
			sum.RotY += p.RotY
			sum.RotZ += p.RotZ
			sum.Confidence += p.Confidence
		}
		n := float64(perScan)
		out = append(out, Pose{
			DX: sum.DX / n, DY: sum.DY / n, DZ: sum.DZ / n,
			RotX: sum.RotX / n, RotY: sum.RotY / n, RotZ: sum.RotZ / n,
			Confidence: sum.Confidence / n,
		})
	}
	return out, nil
}
