package testutil

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// AssertGoldenJSON compares v, as indented JSON, against
// testdata/golden/{name}.golden of the calling package.
//
// To regenerate golden files, run:
//
//	go test ./internal/api -update
//
// Map keys are sorted by encoding/json, so output is stable for any value
// built from maps, slices and structs.
func AssertGoldenJSON(t *testing.T, name string, v any) {
	t.Helper()

	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		t.Fatalf("marshal golden %s: %v", name, err)
	}
	out = append(out, '\n')

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, out)
}
