package wasm

import "strings"

// Features are the WebAssembly proposals enabled for decoding and compilation.
type Features uint64

const (
	FeatureMutableGlobal Features = 1 << iota
	FeatureSignExtensionOps
	FeatureMultiValue
	FeatureBulkMemoryOperations
	FeatureReferenceTypes
	FeatureSIMD
)

// Features20191205 are the features of the first finished WebAssembly specification.
const Features20191205 = FeatureMutableGlobal

// Features20220419 are the features finished in WebAssembly 2.0.
const Features20220419 = Features20191205 | FeatureSignExtensionOps | FeatureMultiValue |
	FeatureBulkMemoryOperations | FeatureReferenceTypes | FeatureSIMD

var featureNames = []struct {
	f    Features
	name string
}{
	{FeatureMutableGlobal, "mutable-global"},
	{FeatureSignExtensionOps, "sign-extension-ops"},
	{FeatureMultiValue, "multi-value"},
	{FeatureBulkMemoryOperations, "bulk-memory-operations"},
	{FeatureReferenceTypes, "reference-types"},
	{FeatureSIMD, "simd"},
}

// IsEnabled returns true if the feature (or group of features) is enabled.
func (f Features) IsEnabled(feature Features) bool {
	return f&feature == feature
}

// SetEnabled enables or disables the feature or group of features.
func (f Features) SetEnabled(feature Features, val bool) Features {
	if val {
		return f | feature
	}
	return f &^ feature
}

// RequireEnabled returns an error if the feature is not enabled.
func (f Features) RequireEnabled(feature Features) error {
	if !f.IsEnabled(feature) {
		return &FeatureError{Feature: feature}
	}
	return nil
}

// String implements fmt.Stringer by returning each enabled feature.
func (f Features) String() string {
	var builder strings.Builder
	for _, n := range featureNames {
		if f.IsEnabled(n.f) {
			if builder.Len() > 0 {
				builder.WriteByte('|')
			}
			builder.WriteString(n.name)
		}
	}
	return builder.String()
}

// FeatureError is returned when a module uses a disabled feature.
type FeatureError struct {
	Feature Features
}

// Error implements error.
func (e *FeatureError) Error() string {
	return "feature \"" + e.Feature.String() + "\" is disabled"
}
