// Package onnxpipe trains scikit-learn style pipelines on mapping-typed
// records, exports them to ONNX and checks the exported model against the
// original in a pure Go inference runtime.
//
// onnxpipe is organised as three small libraries and a workflow on top:
//
//   - training: sklearn/feature_extraction (DictVectorizer),
//     sklearn/ensemble (GradientBoostingRegressor), sklearn/tree,
//     sklearn/linear_model, preprocessing, sklearn/pipeline, metrics
//   - conversion: convert (pipeline to graph) and onnx (model structs and
//     the protobuf codec)
//   - inference: inference (Session, kernels for the ai.onnx and
//     ai.onnx.ml operators the converters emit)
//   - workflow: the five stages end to end, plus report (PNG plots) and
//     store (SQLite run ledger)
//
// # Quick Start
//
//	ds, _ := datasets.MakeFriedman1(506, 13, 1.0, 42)
//	XTrain, XTest, yTrain, _, _ := model_selection.TrainTestSplit(ds.Data, ds.Target,
//	    model_selection.WithRandomState(42))
//
//	p, _ := pipeline.MakePipeline(
//	    feature_extraction.NewDictVectorizer(),
//	    ensemble.NewGradientBoostingRegressor(),
//	)
//	_ = p.Fit(feature_extraction.RecordsFromMatrix(XTrain, 0), yTrain)
//
//	m, _ := convert.ConvertPipeline(p, []convert.InitialType{{
//	    Name: "input",
//	    Type: convert.DictionaryType{
//	        Key:   convert.Int64TensorType{Shape: []int64{1}},
//	        Value: convert.FloatTensorType{},
//	    },
//	}})
//	_ = onnx.SaveModel(m, "pipeline_vectorize.onnx")
//
//	sess, _ := inference.NewSession("pipeline_vectorize.onnx")
//	for _, rec := range feature_extraction.RecordsFromMatrix(XTest, 0) {
//	    out, _ := sess.Run(ctx, nil, map[string]any{"input": rec})
//	    fmt.Println(out[0].Float32Data()[0])
//	}
//
// # Map inputs and batching
//
// A map input carries exactly one record per Run. Feeding a slice of
// several records fails with *inference.BatchNotSupportedError;
// Session.SupportsBatch reports this ahead of time so callers can go
// straight to per-record inference.
//
// # Precision
//
// The exported graph computes in float32 while the Go estimators use
// float64. Split thresholds are stored as float32 and compared against
// float32 inputs on both sides, so tree paths agree; leaf sums differ in
// the last bits only.
//
// # Command line
//
//	go run ./cmd/onnxpipe -out pipeline_vectorize.onnx -plot agreement.png
package onnxpipe
