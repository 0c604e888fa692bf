package frame

import (
	"strconv"
	"strings"
	"time"

	"github.com/sciglob/em27-enclosure/core"
)

// EnvFieldSep separates the three numeric fields of a THP sensor line.
const EnvFieldSep = ","

// ParseEnvLine parses one delimited sensor line ("23.5,45.2,1013.2") into
// an EnvSample. Wrong field count or non-numeric content fails with
// ParseError.
func ParseEnvLine(b []byte) (core.EnvSample, error) {
	line := strings.TrimSpace(string(b))
	if line == "" {
		return core.EnvSample{}, &core.ParseError{Line: line, Reason: "empty line"}
	}

	fields := strings.Split(line, EnvFieldSep)
	if len(fields) != 3 {
		return core.EnvSample{}, &core.ParseError{
			Line:   line,
			Reason: "expected 3 fields, got " + strconv.Itoa(len(fields)),
		}
	}

	var vals [3]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return core.EnvSample{}, &core.ParseError{Line: line, Reason: "non-numeric field " + f}
		}
		vals[i] = v
	}

	return core.EnvSample{
		Temperature: vals[0],
		Humidity:    vals[1],
		Pressure:    vals[2],
		Time:        time.Now(),
	}, nil
}
