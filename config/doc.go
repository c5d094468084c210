// Package config loads QuailDB host configuration from YAML.
//
// Loading order is defaults, then the file, then QUAIL_* environment
// variables (QUAIL_SERVER_PORT, QUAIL_PERSISTENCE_BASE_DIR,
// QUAIL_AUTH_JWT_SECRET, QUAIL_MQTT_PASSWORD, QUAIL_INFLUXDB_TOKEN,
// QUAIL_S3_SECRET_KEY and friends). The result is validated before use.
//
//	cfg, err := config.Load("quaildb.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
