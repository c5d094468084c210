// Package metrics writes per-statement timing and row counts to InfluxDB.
//
//	recorder, err := metrics.Connect(cfg.InfluxDB, logger)
//	if err != nil {
//	    return err
//	}
//	defer recorder.Close()
//	engine.Observe(recorder)
package metrics
