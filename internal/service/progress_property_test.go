package service

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Worker-reported progress is untrusted input; whatever arrives must land
// inside [0,100] and values already in range must pass through unchanged.
func TestProperty_ProgressClamp(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("clamped progress is always within [0,100]", prop.ForAll(
		func(percent int) bool {
			clamped := clampProgress(percent)
			return clamped >= 0 && clamped <= 100
		},
		gen.Int(),
	))

	properties.Property("in-range progress is untouched", prop.ForAll(
		func(percent int) bool {
			return clampProgress(percent) == percent
		},
		gen.IntRange(0, 100),
	))

	properties.Property("clamping is idempotent", prop.ForAll(
		func(percent int) bool {
			once := clampProgress(percent)
			return clampProgress(once) == once
		},
		gen.Int(),
	))

	properties.TestingRun(t)
}
