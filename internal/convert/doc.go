// Package convert turns detector output into Label Studio prediction regions.
//
// Detections arrive either as normalized center+size boxes (the YOLO label
// format) or as absolute pixel corners. Convert maps both onto Label Studio's
// percentage coordinates, resolves class ids through a ClassMap, and reports
// every detection it could not convert instead of dropping it. The package
// also reads YOLO label files, JSON detection dumps, and class name manifests,
// and builds the prediction payload the API accepts.
//
// Conversion is pure: the same input always yields the same regions in the
// same order, so callers may fan images out across goroutines freely.
package convert
