package bridge

import (
	"encoding/json"
	"strconv"

	"github.com/c360/skybridge/errors"
)

// TaskOption is one (name, value) pair in the options document sent to
// the engine when creating a task.
type TaskOption struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Defaults applied when mission metadata omits a flight parameter.
const (
	DefaultGroundResolution = 2.5
	DefaultAltitude         = 100.0
	DefaultOverlapPercent   = 75.0
	DefaultSidelapPercent   = 60.0
)

// BuildProcessingOptions assembles the engine options for a mission: a
// fixed baseline overlaid with metadata-derived values. The result is
// ordered, so missions with equal effective metadata serialize to
// byte-identical documents.
func BuildProcessingOptions(meta MissionMetadata) []TaskOption {
	return []TaskOption{
		{Name: "feature-quality", Value: "high"},
		{Name: "mesh-octree-depth", Value: "11"},
		{Name: "mesh-size", Value: "200000"},
		{Name: "dsm", Value: "true"},
		{Name: "orthophoto-resolution", Value: "5"},
		{Name: "gsd", Value: formatMeta(meta.GroundResolution, DefaultGroundResolution)},
		{Name: "altitude", Value: formatMeta(meta.Altitude, DefaultAltitude)},
		{Name: "overlap", Value: formatMeta(meta.OverlapPercent, DefaultOverlapPercent)},
		{Name: "sidelap", Value: formatMeta(meta.SidelapPercent, DefaultSidelapPercent)},
	}
}

// EncodeOptions serializes an option set into the JSON document the
// engine's task-create form expects.
func EncodeOptions(options []TaskOption) (string, error) {
	data, err := json.Marshal(options)
	if err != nil {
		return "", errors.WrapInvalid(err, "bridge", "EncodeOptions", "marshal options document")
	}
	return string(data), nil
}

func formatMeta(v *float64, fallback float64) string {
	if v == nil {
		return strconv.FormatFloat(fallback, 'f', -1, 64)
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
