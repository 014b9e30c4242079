// Package perf runs declarative load tests from Go code.
//
// A test file is loaded once and then run by a single-use Runner:
//
//	test, err := perf.LoadFile("test.yaml", perf.WithVUs(10, time.Minute))
//	if err != nil {
//	    return err
//	}
//	runner, err := perf.NewRunner(test, perf.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	result, err := runner.Run(ctx)
//	if err != nil {
//	    return err
//	}
//	fmt.Println("passed:", result.Passed)
//
// # Live Metrics
//
// Runner.Snapshot can be polled while the test runs, and
// Runner.MetricsHandler serves the same registry to Prometheus:
//
//	go http.ListenAndServe(":9090", runner.MetricsHandler())
//
// # Reports
//
// Runner.Report turns a Result into the JSON document written by
// "vuload run --out", including the progress timeline sampled by
// WithProgress:
//
//	rep, _ := runner.Report(result)
//	_ = rep.WriteFile("report.json")
//
// RunFile does all of the above with defaults.
package perf
