// Package domain defines the core business types for ExShield admission control.
//
// This package contains pure domain logic with ZERO external dependencies outside the
// Go standard library. Rules, analysis views, and evaluation results are plain values:
// independent of infrastructure, technology-agnostic, and testable in isolation.
//
// Other packages (expr, shield, config) depend on these types. The dependency
// direction is always Infrastructure → Domain, never the reverse.
package domain
