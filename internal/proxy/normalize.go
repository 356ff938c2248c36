package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ShapeKind is the shape a prediction upstream answered with.
type ShapeKind int

const (
	// ShapePassthrough is any body the proxy does not recognize. It is relayed unchanged.
	ShapePassthrough ShapeKind = iota
	// ShapePredictions is {"predictions": [...]}.
	ShapePredictions
	// ShapeNumber is a bare JSON number.
	ShapeNumber
	// ShapeArray is a bare JSON array.
	ShapeArray
	// ShapeSingle is {"prediction": <number>}.
	ShapeSingle
)

func (k ShapeKind) String() string {
	switch k {
	case ShapePredictions:
		return "predictions"
	case ShapeNumber:
		return "number"
	case ShapeArray:
		return "array"
	case ShapeSingle:
		return "single"
	default:
		return "passthrough"
	}
}

// PredictionsBody is the normalized response body.
type PredictionsBody struct {
	Predictions []float64 `json:"predictions"`
}

// Normalized is a classified upstream body. Raw is set only for ShapePassthrough.
type Normalized struct {
	Shape ShapeKind
	Body  PredictionsBody
	Raw   json.RawMessage
}

// Encode returns the JSON to send to the caller.
func (n Normalized) Encode() ([]byte, error) {
	if n.Shape == ShapePassthrough {
		return n.Raw, nil
	}
	return json.Marshal(n.Body)
}

// NormalizePredictions classifies raw and rewrites the recognized shapes to
// {"predictions": [...]}. raw must be valid JSON.
func NormalizePredictions(raw []byte) (Normalized, error) {
	var decoded any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return Normalized{}, fmt.Errorf("decode prediction response: %w", err)
	}

	switch shape := classify(decoded); shape {
	case ShapePredictions:
		return fromPredictions(decoded.(map[string]any)), nil
	case ShapeNumber:
		return fromNumber(decoded.(json.Number)), nil
	case ShapeArray:
		return fromArray(decoded.([]any)), nil
	case ShapeSingle:
		return fromSingle(decoded.(map[string]any)), nil
	default:
		return Normalized{Shape: ShapePassthrough, Raw: json.RawMessage(raw)}, nil
	}
}

func classify(v any) ShapeKind {
	switch t := v.(type) {
	case map[string]any:
		if _, ok := t["predictions"].([]any); ok {
			return ShapePredictions
		}
		if n, ok := t["prediction"].(json.Number); ok && finite(n) {
			return ShapeSingle
		}
	case json.Number:
		if finite(t) {
			return ShapeNumber
		}
	case []any:
		return ShapeArray
	}
	return ShapePassthrough
}

func fromPredictions(obj map[string]any) Normalized {
	return Normalized{Shape: ShapePredictions, Body: PredictionsBody{Predictions: coerceAll(obj["predictions"].([]any))}}
}

func fromNumber(n json.Number) Normalized {
	f, _ := n.Float64()
	return Normalized{Shape: ShapeNumber, Body: PredictionsBody{Predictions: []float64{f}}}
}

func fromArray(items []any) Normalized {
	return Normalized{Shape: ShapeArray, Body: PredictionsBody{Predictions: coerceAll(items)}}
}

func fromSingle(obj map[string]any) Normalized {
	f, _ := obj["prediction"].(json.Number).Float64()
	return Normalized{Shape: ShapeSingle, Body: PredictionsBody{Predictions: []float64{f}}}
}

// coerceAll converts array elements to numbers: numbers are kept, numeric
// strings parsed, booleans become 1 or 0, null and blank strings become 0.
// Anything else is dropped.
func coerceAll(items []any) []float64 {
	out := make([]float64, 0, len(items))
	for _, item := range items {
		if f, ok := coerce(item); ok {
			out = append(out, f)
		}
	}
	return out
}

func coerce(v any) (float64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil && !math.IsInf(f, 0)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func finite(n json.Number) bool {
	f, err := n.Float64()
	return err == nil && !math.IsInf(f, 0) && !math.IsNaN(f)
}
