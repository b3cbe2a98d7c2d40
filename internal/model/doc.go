// Package model loads per-task classifier bundles and scores feature vectors
// against them.
//
// # Bundle Layout
//
// Each task has its own directory under the model root, named after the task:
//
//	<MODEL_DIR>/major_earthquake/
//	<MODEL_DIR>/significant_earthquake/
//	<MODEL_DIR>/tsunami_generating/
//
// and each directory holds three JSON files.
//
// metadata.json:
//
//	{
//	  "version": "2024-06-01.1",
//	  "training_date": "2024-06-01T00:00:00Z",
//	  "feature_count": 12,
//	  "record_count": 1000,
//	  "threshold": 0.5,
//	  "selected_features": ["magnitude", "sig", "tsunami", ...],
//	  "performance": {"accuracy": 0.97, "f1": 0.91}
//	}
//
// scaler.json holds one center and one scale per selected feature, in the same
// order. A scale of 0 is treated as 1:
//
//	{"center": [6.1, 420.0, 0.0], "scale": [0.6, 180.0, 1.0]}
//
// model.json is either a logistic regression:
//
//	{"kind": "logistic", "weights": [2.1, 0.004, 1.3], "intercept": -14.2}
//
// or a random forest whose trees are flat node arrays rooted at index 0. A
// node with "leaf": true returns "value", the positive-class probability;
// any other node sends x[feature] <= threshold to "left" and the rest to
// "right". The forest score is the mean over trees:
//
//	{"kind": "random_forest", "trees": [{"nodes": [
//	  {"feature": 0, "threshold": 0.8, "left": 1, "right": 2},
//	  {"leaf": true, "value": 0.05},
//	  {"leaf": true, "value": 0.93}
//	]}]}
//
// # Validation
//
// Every selected feature must be one the feature engineer produces, and every
// array must match selected_features in length. A bundle that fails
// validation is reported as [domain.BundleError] and its task is disabled;
// the other tasks still load.
package model
