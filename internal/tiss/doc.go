// Package tiss validates TISS health insurance guides and estimates the
// probability that an operator will reject (glosa) them.
//
// The engine has four parts: the schema Validator, the operator rule
// Registry, the Analyzer that merges rule, schema and optional Predictor
// output into a GlosaRisk, and AutoFix for the corrections that are always
// safe to apply. All of them are pure functions of their input and a clock,
// except the Augmentor, which wraps the external Predictor.
package tiss
