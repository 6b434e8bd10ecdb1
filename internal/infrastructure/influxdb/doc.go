// Package influxdb mirrors processed readings into InfluxDB 2.x.
//
// It uses the non-blocking write API of influxdb-client-go v2 to copy the raw
// reading stream into a time-series bucket next to the compacted relational
// store. Mirroring is optional (influxdb.enabled) and never blocks the
// acquisition loop.
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    Enabled: true,
//	    URL:     "http://localhost:8086",
//	    Token:   "your-token",
//	    Org:     "tempmon",
//	    Bucket:  "readings",
//	}
//
//	client, err := influxdb.Connect(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteReading(3, 21.5, "insert", observedAt)
//
// Points are batched by the library; a failed batch is reported to the
// SetOnError callback, never to the caller of WriteReading. Connect pings
// the server and fails fast when it is unreachable.
package influxdb
