package market

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
)

//go:embed fallback_housing.json
var fallbackHousingJSON []byte

var (
	fallbackOnce  sync.Once
	fallbackProps []Property
	fallbackErr   error
)

// FallbackJSON returns the bundled housing dataset exactly as it is served
// when the market-analysis upstream is unavailable.
func FallbackJSON() []byte {
	out := make([]byte, len(fallbackHousingJSON))
	copy(out, fallbackHousingJSON)
	return out
}

// FallbackProperties returns a fresh copy of the bundled housing dataset.
func FallbackProperties() ([]Property, error) {
	fallbackOnce.Do(func() {
		if err := json.Unmarshal(fallbackHousingJSON, &fallbackProps); err != nil {
			fallbackErr = fmt.Errorf("decode bundled housing dataset: %w", err)
		}
	})
	if fallbackErr != nil {
		return nil, fallbackErr
	}
	out := make([]Property, len(fallbackProps))
	copy(out, fallbackProps)
	return out, nil
}
