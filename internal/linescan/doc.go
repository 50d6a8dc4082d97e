// Package linescan implements the line-scan signal extraction pipeline:
// sampling colour channels along a transformed line segment in each video
// frame, summing windows of frames into accumulated traces, and routing
// typed results to consumers.
//
// The pipeline owns all mutable state (line parameters, accumulation
// window); calibration lives in package calib as pure metadata and never
// rewrites sampled data.
package linescan
